// Package api is the synchronous request surface of the publisher. It
// validates requests, resolves credentials and subjects, and hands work
// to the preparer and orchestrator. Handlers (HTTP or Lambda) stay
// thin: they decode, call one Service method, and map the result.
package api

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/fpang/instagram-publisher/internal/apperr"
	"github.com/fpang/instagram-publisher/internal/credentials"
	"github.com/fpang/instagram-publisher/internal/geometry"
	"github.com/fpang/instagram-publisher/internal/instagram"
	"github.com/fpang/instagram-publisher/internal/keys"
	"github.com/fpang/instagram-publisher/internal/mediastore"
	"github.com/fpang/instagram-publisher/internal/notify"
	"github.com/fpang/instagram-publisher/internal/preparer"
	"github.com/fpang/instagram-publisher/internal/publisher"
	"github.com/fpang/instagram-publisher/internal/schedule"
)

const (
	// maxImages is the carousel limit of the publish surface.
	maxImages = 10

	// maxCaptionLength is Instagram's caption character limit.
	maxCaptionLength = 2200

	sessionKindPost = "post"
)

// Service composes the publishing collaborators behind the request
// operations.
type Service struct {
	media    mediastore.MediaStore
	prep     *preparer.Preparer
	orch     *publisher.Orchestrator
	schedule schedule.Store
	creds    credentials.Provider

	// exchange swaps an OAuth redirect code for a long-lived token and
	// the account's user ID. Nil until WithOAuth configures the app.
	exchange func(ctx context.Context, code string) (token, userID string, expiresIn int64, err error)
}

func NewService(media mediastore.MediaStore, prep *preparer.Preparer, orch *publisher.Orchestrator, scheduleStore schedule.Store, creds credentials.Provider) *Service {
	return &Service{
		media:    media,
		prep:     prep,
		orch:     orch,
		schedule: scheduleStore,
		creds:    creds,
	}
}

// OAuthConfig identifies the Instagram app used for the OAuth code
// exchange on the connect operation.
type OAuthConfig struct {
	AppID       string
	AppSecret   string
	RedirectURI string
}

// WithOAuth enables ConnectAccount for the given Instagram app.
func (s *Service) WithOAuth(cfg OAuthConfig) *Service {
	s.exchange = func(ctx context.Context, code string) (string, string, int64, error) {
		short, err := instagram.ExchangeCode(ctx, code, cfg.AppID, cfg.AppSecret, cfg.RedirectURI)
		if err != nil {
			return "", "", 0, err
		}
		long, err := instagram.ExchangeLongLivedToken(ctx, short.AccessToken, cfg.AppSecret)
		if err != nil {
			return "", "", 0, err
		}
		return long.AccessToken, short.UserID, long.ExpiresIn, nil
	}
	return s
}

// ConnectRequest carries the authorization code from the OAuth redirect.
type ConnectRequest struct {
	Code string `json:"code"`
}

// ConnectResult reports the connected account and when its long-lived
// token expires (unix seconds).
type ConnectResult struct {
	UserID    string `json:"userId"`
	ExpiresAt int64  `json:"expiresAt"`
}

// PostFromMediaRequest publishes stored media: the service crops and
// resizes each image to the requested aspect ratio before submission.
type PostFromMediaRequest struct {
	ImageIDs    []string `json:"imageIds"`
	Caption     string   `json:"caption"`
	AspectRatio string   `json:"aspectRatio"`
	SubjectID   string   `json:"subjectId,omitempty"`
}

// PostNowRequest publishes pre-cropped images by their public URLs.
type PostNowRequest struct {
	ImageURLs []string `json:"imageUrls"`
	Caption   string   `json:"caption"`
	SubjectID string   `json:"subjectId,omitempty"`
}

// PostResult is the outcome of a post operation. Status "completed"
// carries the media ID and permalink; "processing" carries the key to
// poll with.
type PostResult struct {
	Status        string `json:"status"`
	ProcessingKey string `json:"processingKey,omitempty"`
	MediaID       string `json:"mediaId,omitempty"`
	Permalink     string `json:"permalink,omitempty"`
}

// StatusResult is the answer to a poll. Status not_found is ambiguous
// between "expired after success" and "never existed"; callers treat it
// as settled and verify against the content store.
type StatusResult struct {
	Status       string `json:"status"`
	Ready        int    `json:"ready,omitempty"`
	Pending      int    `json:"pending,omitempty"`
	Total        int    `json:"total,omitempty"`
	MediaID      string `json:"mediaId,omitempty"`
	Permalink    string `json:"permalink,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// SchedulePostRequest queues a post for future dispatch. CropData holds
// one crop window per image, computed by the caller's editor.
type SchedulePostRequest struct {
	SubjectID    string          `json:"subjectId,omitempty"`
	ImageIDs     []string        `json:"imageIds"`
	CropData     []geometry.Rect `json:"cropData"`
	Caption      string          `json:"caption"`
	ScheduleTime int64           `json:"scheduleTime"`
}

// PostFromMedia validates the request, prepares the stored images, and
// starts a publish session, reporting its immediate outcome.
func (s *Service) PostFromMedia(ctx context.Context, req PostFromMediaRequest) (*PostResult, error) {
	if err := validateImages(len(req.ImageIDs)); err != nil {
		return nil, err
	}
	if err := validateCaption(req.Caption); err != nil {
		return nil, err
	}
	if err := s.ensureCredentials(ctx); err != nil {
		return nil, err
	}

	subjectID := req.SubjectID
	if subjectID == "" {
		var err error
		subjectID, err = s.media.GetOrCreateDefaultSubject(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve default subject: %w", err)
		}
	}

	ratio := geometry.ParseAspectRatio(req.AspectRatio)
	artifacts, err := s.prep.Prepare(ctx, req.ImageIDs, ratio, subjectID, sessionKindPost)
	if err != nil {
		return nil, err
	}

	urls := make([]string, len(artifacts))
	for i, a := range artifacts {
		urls[i] = a.PublicURL
	}

	events := &notify.Collector{}
	outcome, err := s.orch.Start(ctx, urls, req.Caption, events.Listeners())
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("subjectId", subjectID).
		Str("ratio", ratio.Label).
		Int("images", len(req.ImageIDs)).
		Str("status", string(outcome.Status)).
		Msg("Post from media submitted")
	return postResult(outcome, events), nil
}

// PostNow starts a publish session for images the caller already
// cropped and hosted.
func (s *Service) PostNow(ctx context.Context, req PostNowRequest) (*PostResult, error) {
	if err := validateImages(len(req.ImageURLs)); err != nil {
		return nil, err
	}
	if err := validateCaption(req.Caption); err != nil {
		return nil, err
	}
	if err := s.ensureCredentials(ctx); err != nil {
		return nil, err
	}

	events := &notify.Collector{}
	outcome, err := s.orch.Start(ctx, req.ImageURLs, req.Caption, events.Listeners())
	if err != nil {
		return nil, err
	}

	log.Info().Int("images", len(req.ImageURLs)).Str("status", string(outcome.Status)).Msg("Post now submitted")
	return postResult(outcome, events), nil
}

// PollStatus advances and reports the session for a processing key.
func (s *Service) PollStatus(ctx context.Context, processingKey string) (*StatusResult, error) {
	if processingKey == "" {
		return nil, apperr.New(apperr.CodeValidation, "processingKey is required")
	}

	events := &notify.Collector{}
	outcome, err := s.orch.Poll(ctx, processingKey, events.Listeners())
	if err != nil {
		return nil, err
	}

	res := &StatusResult{
		Status:  string(outcome.Status),
		Ready:   outcome.Ready,
		Pending: outcome.Pending,
		Total:   outcome.Total,
	}
	// Terminal outcomes reached within this call are reported from the
	// delivered event; a session finalized by an earlier call has no
	// event and is read back from the record.
	switch {
	case events.Success != nil:
		res.MediaID = events.Success.MediaID
		res.Permalink = events.Success.Permalink
	case events.Failure != nil:
		res.ErrorMessage = events.Failure.ErrorMessage
	default:
		res.MediaID = outcome.MediaID
		res.Permalink = outcome.Permalink
		res.ErrorMessage = outcome.ErrorMessage
	}
	return res, nil
}

// SchedulePost validates and persists a post for future dispatch.
func (s *Service) SchedulePost(ctx context.Context, req SchedulePostRequest) (*schedule.Post, error) {
	if err := validateImages(len(req.ImageIDs)); err != nil {
		return nil, err
	}
	if err := validateCaption(req.Caption); err != nil {
		return nil, err
	}
	if len(req.CropData) != len(req.ImageIDs) {
		return nil, apperr.New(apperr.CodeValidation, "cropData must have one entry per image, got %d for %d images", len(req.CropData), len(req.ImageIDs))
	}
	if req.ScheduleTime <= 0 {
		return nil, apperr.New(apperr.CodeValidation, "scheduleTime is required")
	}

	// Catch missing images and out-of-bounds crops now, not at dispatch
	// time when nobody is around to see the error.
	for i, imageID := range req.ImageIDs {
		path, err := s.media.ResolvePath(ctx, imageID)
		if err != nil {
			return nil, err
		}
		w, h, err := s.media.ReadDimensions(ctx, path)
		if err != nil {
			return nil, err
		}
		crop := req.CropData[i]
		if crop.X >= w || crop.Y >= h || crop.W <= 0 || crop.H <= 0 {
			return nil, apperr.New(apperr.CodeValidation, "crop for image %d lies outside its %dx%d bounds", i, w, h)
		}
	}

	subjectID := req.SubjectID
	if subjectID == "" {
		var err error
		subjectID, err = s.media.GetOrCreateDefaultSubject(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve default subject: %w", err)
		}
	}

	post := &schedule.Post{
		ID:           keys.NewScheduleID(),
		SubjectID:    subjectID,
		ImageIDs:     req.ImageIDs,
		CropData:     req.CropData,
		Caption:      req.Caption,
		ScheduleTime: req.ScheduleTime,
		CreatedAt:    time.Now().Unix(),
	}
	if err := s.schedule.Add(ctx, post); err != nil {
		return nil, fmt.Errorf("persist scheduled post: %w", err)
	}

	log.Info().
		Str("postId", post.ID).
		Str("subjectId", subjectID).
		Int64("scheduleTime", post.ScheduleTime).
		Msg("Post scheduled")
	return post, nil
}

// ConnectAccount exchanges an OAuth redirect code for a long-lived
// token and stores it as the active account. Subsequent publish calls
// use the new credentials immediately.
func (s *Service) ConnectAccount(ctx context.Context, req ConnectRequest) (*ConnectResult, error) {
	if req.Code == "" {
		return nil, apperr.New(apperr.CodeValidation, "code is required")
	}
	if s.exchange == nil {
		return nil, apperr.New(apperr.CodeAuth, "OAuth app not configured")
	}

	token, userID, expiresIn, err := s.exchange(ctx, req.Code)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeAuth, "code exchange failed")
	}

	expiresAt := time.Now().Add(time.Duration(expiresIn) * time.Second)
	s.creds.SetCredentials(token, userID, expiresAt)

	log.Info().Str("userId", userID).Time("expiresAt", expiresAt).Msg("Instagram account connected")
	return &ConnectResult{UserID: userID, ExpiresAt: expiresAt.Unix()}, nil
}

// ListScheduledPosts returns a subject's queue, or every queue when
// subjectID is empty.
func (s *Service) ListScheduledPosts(ctx context.Context, subjectID string) ([]*schedule.Post, error) {
	if subjectID == "" {
		return s.schedule.ListAll(ctx)
	}
	return s.schedule.ListBySubject(ctx, subjectID)
}

func (s *Service) ensureCredentials(ctx context.Context) error {
	if _, ok := s.creds.AccessToken(); !ok {
		return apperr.New(apperr.CodeAuth, "no Instagram account connected")
	}
	if err := s.creds.EnsureValidToken(ctx); err != nil {
		return apperr.Wrap(err, apperr.CodeAuth, "access token invalid")
	}
	return nil
}

func validateImages(n int) error {
	if n == 0 {
		return apperr.New(apperr.CodeValidation, "at least one image is required")
	}
	if n > maxImages {
		return apperr.New(apperr.CodeValidation, "at most %d images per post, got %d", maxImages, n)
	}
	return nil
}

func validateCaption(caption string) error {
	if utf8.RuneCountInString(caption) > maxCaptionLength {
		return apperr.New(apperr.CodeValidation, "caption exceeds %d characters", maxCaptionLength)
	}
	return nil
}

// postResult assembles the response from the events delivered during
// the call. A completed session announced success within it; a live
// session announced processing with its key.
func postResult(outcome *publisher.Outcome, events *notify.Collector) *PostResult {
	res := &PostResult{Status: string(outcome.Status)}
	switch {
	case events.Success != nil:
		res.MediaID = events.Success.MediaID
		res.Permalink = events.Success.Permalink
	case events.Processing != nil:
		res.ProcessingKey = events.Processing.ProcessingKey
	default:
		res.ProcessingKey = outcome.ProcessingKey
	}
	return res
}
