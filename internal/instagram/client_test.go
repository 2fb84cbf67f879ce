package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/fpang/instagram-publisher/internal/apperr"
)

// staticCredentials is a fixed-value CredentialSource for tests.
type staticCredentials struct {
	token  string
	userID string
}

func (s staticCredentials) AccessToken() (string, bool)  { return s.token, s.token != "" }
func (s staticCredentials) RemoteUserID() (string, bool) { return s.userID, s.userID != "" }

// newTestClient creates a Client pointing at a test HTTP server.
func newTestClient(server *httptest.Server) *Client {
	return &Client{
		httpClient: server.Client(),
		creds:      staticCredentials{token: "test-token", userID: "12345"},
		baseURL:    server.URL,
	}
}

func TestCreateImageContainer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/12345/media") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		r.ParseForm()
		if r.Form.Get("image_url") != "https://example.com/photo.jpg" {
			t.Errorf("unexpected image_url: %s", r.Form.Get("image_url"))
		}
		if r.Form.Get("is_carousel_item") != "true" {
			t.Errorf("expected is_carousel_item=true")
		}

		json.NewEncoder(w).Encode(apiResponse{ID: "container-img-001"})
	}))
	defer server.Close()

	client := newTestClient(server)
	id, err := client.CreateImageContainer(context.Background(), "https://example.com/photo.jpg", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "container-img-001" {
		t.Errorf("expected container-img-001, got %s", id)
	}
}

func TestCreateImageContainerStandalone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("is_carousel_item") != "" {
			t.Errorf("standalone container should not have is_carousel_item")
		}
		json.NewEncoder(w).Encode(apiResponse{ID: "container-img-002"})
	}))
	defer server.Close()

	client := newTestClient(server)
	id, err := client.CreateImageContainer(context.Background(), "https://example.com/photo.jpg", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "container-img-002" {
		t.Errorf("expected container-img-002, got %s", id)
	}
}

func TestCreateCarouselContainer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("media_type") != "CAROUSEL" {
			t.Errorf("expected media_type=CAROUSEL")
		}
		children := r.Form.Get("children")
		if children != "c1,c2,c3" {
			t.Errorf("unexpected children: %s", children)
		}
		if r.Form.Get("caption") != "Hello world" {
			t.Errorf("unexpected caption: %s", r.Form.Get("caption"))
		}

		json.NewEncoder(w).Encode(apiResponse{ID: "carousel-001"})
	}))
	defer server.Close()

	client := newTestClient(server)
	id, err := client.CreateCarouselContainer(context.Background(), []string{"c1", "c2", "c3"}, "Hello world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "carousel-001" {
		t.Errorf("expected carousel-001, got %s", id)
	}
}

func TestCreateCarouselContainerTooFewItems(t *testing.T) {
	client := &Client{creds: staticCredentials{token: "tok", userID: "12345"}}
	_, err := client.CreateCarouselContainer(context.Background(), []string{"c1"}, "caption")
	if err == nil || !strings.Contains(err.Error(), "at least 2") {
		t.Errorf("expected error about minimum items, got: %v", err)
	}
	if !apperr.IsCode(err, apperr.CodeValidation) {
		t.Errorf("expected validation error, got: %v", err)
	}
}

func TestCreateCarouselContainerTooManyItems(t *testing.T) {
	client := &Client{creds: staticCredentials{token: "tok", userID: "12345"}}
	children := make([]string, 11)
	for i := range children {
		children[i] = "c"
	}
	_, err := client.CreateCarouselContainer(context.Background(), children, "caption")
	if err == nil || !strings.Contains(err.Error(), "at most 10") {
		t.Errorf("expected error about maximum items, got: %v", err)
	}
}

func TestCreateSingleImagePost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("image_url") != "https://example.com/photo.jpg" {
			t.Errorf("unexpected image_url")
		}
		if r.Form.Get("caption") != "Great photo!" {
			t.Errorf("unexpected caption")
		}
		if r.Form.Get("is_carousel_item") != "" {
			t.Errorf("single post should not have is_carousel_item")
		}

		json.NewEncoder(w).Encode(apiResponse{ID: "single-001"})
	}))
	defer server.Close()

	client := newTestClient(server)
	id, err := client.CreateSingleImagePost(context.Background(), "https://example.com/photo.jpg", "Great photo!")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "single-001" {
		t.Errorf("expected single-001, got %s", id)
	}
}

func TestPublish(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/12345/media_publish") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		r.ParseForm()
		if r.Form.Get("creation_id") != "carousel-001" {
			t.Errorf("unexpected creation_id: %s", r.Form.Get("creation_id"))
		}

		json.NewEncoder(w).Encode(apiResponse{ID: "post-001"})
	}))
	defer server.Close()

	client := newTestClient(server)
	id, err := client.Publish(context.Background(), "carousel-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "post-001" {
		t.Errorf("expected post-001, got %s", id)
	}
}

func TestContainerStatus(t *testing.T) {
	tests := []struct {
		remote string
		want   ContainerState
	}{
		{"FINISHED", ContainerReady},
		{"IN_PROGRESS", ContainerPending},
		{"ERROR", ContainerError},
		{"PUBLISHED", ContainerPending}, // unknown codes stay pending
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				t.Errorf("expected GET, got %s", r.Method)
			}
			json.NewEncoder(w).Encode(containerStatusResponse{
				ID:         "container-001",
				StatusCode: tt.remote,
			})
		}))

		client := newTestClient(server)
		state, err := client.ContainerStatus(context.Background(), "container-001")
		server.Close()
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.remote, err)
		}
		if state != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.remote, tt.want, state)
		}
	}
}

func TestMediaPermalink(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "post-001") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if !strings.Contains(r.URL.RawQuery, "fields=permalink") {
			t.Errorf("expected fields=permalink, got %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(permalinkResponse{
			ID:        "post-001",
			Permalink: "https://www.instagram.com/p/ABC123/",
		})
	}))
	defer server.Close()

	client := newTestClient(server)
	link, err := client.MediaPermalink(context.Background(), "post-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if link != "https://www.instagram.com/p/ABC123/" {
		t.Errorf("unexpected permalink: %s", link)
	}
}

func TestAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(apiResponse{
			Error: &apiErr{
				Message: "Invalid OAuth access token",
				Type:    "OAuthException",
				Code:    190,
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server)
	_, err := client.CreateImageContainer(context.Background(), "https://example.com/photo.jpg", false)
	if err == nil {
		t.Fatal("expected error for invalid token")
	}
	if !strings.Contains(err.Error(), "OAuthException") {
		t.Errorf("expected OAuthException in error, got: %v", err)
	}

	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		t.Fatalf("expected apperr.Error, got %T", err)
	}
	if appErr.RemoteStatus != http.StatusBadRequest {
		t.Errorf("expected remote status 400, got %d", appErr.RemoteStatus)
	}
	if !strings.Contains(appErr.RemoteBody, "Invalid OAuth access token") {
		t.Errorf("expected raw body preserved, got: %s", appErr.RemoteBody)
	}
}

func TestNonJSONErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>Bad Gateway</html>"))
	}))
	defer server.Close()

	client := newTestClient(server)
	_, err := client.Publish(context.Background(), "carousel-001")
	if err == nil {
		t.Fatal("expected error for non-JSON body")
	}

	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		t.Fatalf("expected apperr.Error, got %T", err)
	}
	if appErr.RemoteStatus != http.StatusBadGateway {
		t.Errorf("expected remote status 502, got %d", appErr.RemoteStatus)
	}
	if !strings.Contains(appErr.RemoteBody, "Bad Gateway") {
		t.Errorf("expected raw body preserved, got: %s", appErr.RemoteBody)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input    string
		limit    int
		expected string
	}{
		{"short", 10, "short"},
		{"this is a long string", 10, "this is a ..."},
		{"exact", 5, "exact"},
	}
	for _, tt := range tests {
		got := truncate(tt.input, tt.limit)
		if got != tt.expected {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.limit, got, tt.expected)
		}
	}
}

// mutableCredentials swaps its token between calls, the way a
// provider does after a background refresh.
type mutableCredentials struct {
	mu     sync.Mutex
	token  string
	userID string
}

func (m *mutableCredentials) AccessToken() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.token != ""
}

func (m *mutableCredentials) RemoteUserID() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID, m.userID != ""
}

func (m *mutableCredentials) setToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

func TestClientReadsTokenPerRequest(t *testing.T) {
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		seen = append(seen, r.Form.Get("access_token"))
		json.NewEncoder(w).Encode(apiResponse{ID: "media-001"})
	}))
	defer server.Close()

	creds := &mutableCredentials{token: "cold-start-token", userID: "12345"}
	client := NewClientWithCredentials(creds)
	client.httpClient = server.Client()
	client.baseURL = server.URL

	if _, err := client.Publish(context.Background(), "container-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	creds.setToken("refreshed-token")
	if _, err := client.Publish(context.Background(), "container-2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"cold-start-token", "refreshed-token"}
	for i, tok := range want {
		if seen[i] != tok {
			t.Errorf("request %d used token %q, want %q", i, seen[i], tok)
		}
	}
}
