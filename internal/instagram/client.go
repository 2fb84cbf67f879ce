// Package instagram provides a client for the Instagram Graph API
// content publishing endpoints. It supports single-image posts and
// carousels of up to 10 images.
//
// Publishing is a multi-step process on Instagram's side:
//  1. Create one media container per image (uploaded via public URL)
//  2. Wait for each container to finish remote processing
//  3. For carousels: create a carousel container referencing the children
//  4. Publish the final container
//
// Container processing is asynchronous; callers poll ContainerStatus
// until every container reports ready. The client never polls on its
// own and never retries — a failed call is surfaced to the caller with
// the remote status code and error body intact.
package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/instagram-publisher/internal/apperr"
)

const (
	// defaultBaseURL is the Instagram Graph API base URL.
	defaultBaseURL = "https://graph.instagram.com/v22.0"

	// defaultTimeout bounds every API call. Container creation and
	// publish are quick server-side; the long waits happen between
	// calls, not inside them.
	defaultTimeout = 10 * time.Second

	// maxCarouselItems is the platform's carousel size limit for this
	// workflow (the publish surface accepts at most 10 images).
	maxCarouselItems = 10
)

// ContainerState is the normalized processing state of a media container.
type ContainerState string

const (
	ContainerReady   ContainerState = "ready"
	ContainerPending ContainerState = "pending"
	ContainerError   ContainerState = "error"
)

// CredentialSource supplies the access token and account ID for each
// API call. Reading per call means a token refreshed or replaced after
// the client was constructed is picked up without rebuilding the client.
type CredentialSource interface {
	AccessToken() (string, bool)
	RemoteUserID() (string, bool)
}

// Client provides methods for publishing to Instagram via the Graph API.
type Client struct {
	httpClient *http.Client
	creds      CredentialSource
	baseURL    string
}

// NewClientWithCredentials creates a client that reads its token and
// user ID from source on every call.
func NewClientWithCredentials(source CredentialSource) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		creds:   source,
		baseURL: defaultBaseURL,
	}
}

// token returns the current access token, or "" when none is configured.
func (c *Client) token() string {
	t, _ := c.creds.AccessToken()
	return t
}

// accountID returns the current Instagram user ID.
func (c *Client) accountID() string {
	id, _ := c.creds.RemoteUserID()
	return id
}

// --- API response types ---

// apiResponse is the generic Instagram Graph API response.
type apiResponse struct {
	ID    string  `json:"id"`
	Error *apiErr `json:"error,omitempty"`
}

type apiErr struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	FBTraceID string `json:"fbtrace_id,omitempty"`
}

// containerStatusResponse is the response from GET /{container_id}?fields=status_code,status.
type containerStatusResponse struct {
	ID         string  `json:"id"`
	StatusCode string  `json:"status_code"` // IN_PROGRESS, FINISHED, ERROR
	Status     string  `json:"status,omitempty"`
	Error      *apiErr `json:"error,omitempty"`
}

// permalinkResponse is the response from GET /{media_id}?fields=permalink.
type permalinkResponse struct {
	ID        string  `json:"id"`
	Permalink string  `json:"permalink"`
	Error     *apiErr `json:"error,omitempty"`
}

// --- Container creation ---

// CreateImageContainer creates an image media container from a publicly
// accessible image URL. If isCarousel is true, the container is created
// as a carousel child item.
func (c *Client) CreateImageContainer(ctx context.Context, imageURL string, isCarousel bool) (string, error) {
	log.Debug().Bool("isCarousel", isCarousel).Msg("Creating image container")
	params := url.Values{
		"image_url":    {imageURL},
		"access_token": {c.token()},
	}
	if isCarousel {
		params.Set("is_carousel_item", "true")
	}

	resp, err := c.postForm(ctx, fmt.Sprintf("/%s/media", c.accountID()), params)
	if err != nil {
		return "", fmt.Errorf("create image container: %w", err)
	}
	log.Info().Str("containerId", resp.ID).Msg("Image container created")
	return resp.ID, nil
}

// CreateSingleImagePost creates a single-image post container with caption.
func (c *Client) CreateSingleImagePost(ctx context.Context, imageURL, caption string) (string, error) {
	params := url.Values{
		"image_url":    {imageURL},
		"caption":      {caption},
		"access_token": {c.token()},
	}

	resp, err := c.postForm(ctx, fmt.Sprintf("/%s/media", c.accountID()), params)
	if err != nil {
		return "", fmt.Errorf("create single image post: %w", err)
	}
	log.Info().Str("containerId", resp.ID).Msg("Single image container created")
	return resp.ID, nil
}

// CreateCarouselContainer creates a carousel container from child container IDs.
// caption is the full post caption text.
func (c *Client) CreateCarouselContainer(ctx context.Context, children []string, caption string) (string, error) {
	if len(children) < 2 {
		return "", apperr.New(apperr.CodeValidation, "carousel requires at least 2 items, got %d", len(children))
	}
	if len(children) > maxCarouselItems {
		return "", apperr.New(apperr.CodeValidation, "carousel supports at most %d items, got %d", maxCarouselItems, len(children))
	}

	params := url.Values{
		"media_type":   {"CAROUSEL"},
		"children":     {strings.Join(children, ",")},
		"caption":      {caption},
		"access_token": {c.token()},
	}

	resp, err := c.postForm(ctx, fmt.Sprintf("/%s/media", c.accountID()), params)
	if err != nil {
		return "", fmt.Errorf("create carousel container: %w", err)
	}
	return resp.ID, nil
}

// --- Publishing ---

// Publish publishes a media container (carousel or single).
// Returns the Instagram media ID of the published post.
func (c *Client) Publish(ctx context.Context, containerID string) (string, error) {
	log.Debug().Str("containerId", containerID).Msg("Publishing container")
	params := url.Values{
		"creation_id":  {containerID},
		"access_token": {c.token()},
	}

	resp, err := c.postForm(ctx, fmt.Sprintf("/%s/media_publish", c.accountID()), params)
	if err != nil {
		return "", fmt.Errorf("publish container %s: %w", containerID, err)
	}
	log.Info().Str("containerId", containerID).Str("mediaId", resp.ID).Msg("Container published")
	return resp.ID, nil
}

// MediaPermalink fetches the permanent URL of a published media object.
func (c *Client) MediaPermalink(ctx context.Context, mediaID string) (string, error) {
	endpoint := fmt.Sprintf("/%s?fields=permalink&access_token=%s",
		mediaID, url.QueryEscape(c.token()))

	body, status, err := c.get(ctx, endpoint)
	if err != nil {
		return "", fmt.Errorf("media permalink request: %w", err)
	}

	var resp permalinkResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", apperr.Remote(status, string(body), "unparseable permalink response")
	}
	if resp.Error != nil {
		return "", apperr.Remote(status, string(body), "permalink lookup failed: %s", resp.Error.Message)
	}
	return resp.Permalink, nil
}

// --- Status polling ---

// ContainerStatus returns the processing state of a media container,
// normalized from Instagram's FINISHED / IN_PROGRESS / ERROR codes.
func (c *Client) ContainerStatus(ctx context.Context, containerID string) (ContainerState, error) {
	endpoint := fmt.Sprintf("/%s?fields=status_code,status&access_token=%s",
		containerID, url.QueryEscape(c.token()))

	body, status, err := c.get(ctx, endpoint)
	if err != nil {
		return "", fmt.Errorf("container status request: %w", err)
	}

	var parsed containerStatusResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", apperr.Remote(status, string(body), "unparseable container status response")
	}
	if parsed.Error != nil {
		return "", apperr.Remote(status, string(body), "container status failed: %s (code %d)", parsed.Error.Message, parsed.Error.Code)
	}

	switch parsed.StatusCode {
	case "FINISHED":
		return ContainerReady, nil
	case "ERROR":
		return ContainerError, nil
	case "IN_PROGRESS":
		return ContainerPending, nil
	default:
		log.Warn().Str("containerId", containerID).Str("statusCode", parsed.StatusCode).Msg("Unknown container status code")
		return ContainerPending, nil
	}
}

// --- Internal helpers ---

// get performs a GET request and returns the raw body plus HTTP status.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return body, httpResp.StatusCode, nil
}

// postForm sends a POST request with form-encoded parameters to the
// Instagram API. Non-2xx responses and API error bodies are returned as
// apperr remote errors carrying the status code and body verbatim.
func (c *Client) postForm(ctx context.Context, endpoint string, params url.Values) (*apiResponse, error) {
	startTime := time.Now()

	log.Debug().Str("method", http.MethodPost).Str("path", endpoint).Msg("Instagram API request")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint,
		strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		log.Debug().Int("statusCode", 0).Dur("duration", duration).Err(err).Msg("Instagram API response")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	log.Debug().Int("statusCode", httpResp.StatusCode).Dur("duration", duration).Msg("Instagram API response")

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperr.Remote(httpResp.StatusCode, string(body), "unparseable response")
	}

	if resp.Error != nil {
		log.Error().
			Str("errorMessage", resp.Error.Message).
			Str("errorType", resp.Error.Type).
			Int("errorCode", resp.Error.Code).
			Msg("Instagram API error")
		return nil, apperr.Remote(httpResp.StatusCode, string(body), "%s (type: %s, code: %d)",
			resp.Error.Message, resp.Error.Type, resp.Error.Code)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, apperr.Remote(httpResp.StatusCode, string(body), "unexpected status %d", httpResp.StatusCode)
	}

	if resp.ID == "" {
		return nil, apperr.Remote(httpResp.StatusCode, string(body), "no ID in response")
	}

	return &resp, nil
}
