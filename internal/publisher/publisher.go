// Package publisher drives a publish session through its states:
// containers are submitted, polled to readiness, and published exactly
// once. Advancement is purely caller-driven — Start runs one immediate
// poll pass for the fast case, and every later transition happens
// inside an external Poll call. There are no background timers.
package publisher

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/instagram-publisher/internal/apperr"
	"github.com/fpang/instagram-publisher/internal/instagram"
	"github.com/fpang/instagram-publisher/internal/keys"
	"github.com/fpang/instagram-publisher/internal/notify"
	"github.com/fpang/instagram-publisher/internal/progress"
)

// Status is the externally visible state of a publish session.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusPublishing Status = "publishing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusNotFound   Status = "not_found"
)

// Outcome is the result of a Start or Poll call.
type Outcome struct {
	Status        Status `json:"status"`
	ProcessingKey string `json:"processingKey,omitempty"`
	MediaID       string `json:"mediaId,omitempty"`
	Permalink     string `json:"permalink,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
	Ready         int    `json:"ready,omitempty"`
	Pending       int    `json:"pending,omitempty"`
	Total         int    `json:"total,omitempty"`
}

// RemoteAPI is the slice of the Instagram client the orchestrator uses.
type RemoteAPI interface {
	CreateImageContainer(ctx context.Context, imageURL string, isCarousel bool) (string, error)
	CreateSingleImagePost(ctx context.Context, imageURL, caption string) (string, error)
	CreateCarouselContainer(ctx context.Context, children []string, caption string) (string, error)
	ContainerStatus(ctx context.Context, containerID string) (instagram.ContainerState, error)
	Publish(ctx context.Context, containerID string) (string, error)
	MediaPermalink(ctx context.Context, mediaID string) (string, error)
}

// Orchestrator runs publish sessions against a progress store and the
// remote API.
type Orchestrator struct {
	store progress.Store
	api   RemoteAPI
}

func New(store progress.Store, api RemoteAPI) *Orchestrator {
	return &Orchestrator{store: store, api: api}
}

// Start submits one container per image URL and runs one immediate poll
// pass. Fast sessions complete synchronously; slower ones return a
// processing outcome carrying the key for later polls. Any container
// creation failure fails the whole session — no publish call is ever
// made after a partial submit.
func (o *Orchestrator) Start(ctx context.Context, imageURLs []string, caption string, listeners notify.Listeners) (*Outcome, error) {
	if len(imageURLs) == 0 {
		return nil, apperr.New(apperr.CodeValidation, "no images to publish")
	}

	key := keys.NewProcessingKey()
	lg := log.With().Str("processingKey", key).Int("images", len(imageURLs)).Logger()
	lg.Info().Msg("Publish session started")

	containerIDs := make([]string, 0, len(imageURLs))
	if len(imageURLs) == 1 {
		id, err := o.api.CreateSingleImagePost(ctx, imageURLs[0], caption)
		if err != nil {
			listeners.Error(notify.Event{ProcessingKey: key, ErrorMessage: err.Error()})
			return nil, fmt.Errorf("submit image: %w", err)
		}
		containerIDs = append(containerIDs, id)
	} else {
		for i, url := range imageURLs {
			id, err := o.api.CreateImageContainer(ctx, url, true)
			if err != nil {
				lg.Error().Err(err).Int("index", i).Msg("Container creation failed, aborting session")
				listeners.Error(notify.Event{ProcessingKey: key, ErrorMessage: err.Error()})
				return nil, fmt.Errorf("submit image %d: %w", i, err)
			}
			containerIDs = append(containerIDs, id)
		}
	}

	if _, err := o.store.Create(ctx, key, containerIDs, caption); err != nil {
		listeners.Error(notify.Event{ProcessingKey: key, ErrorMessage: err.Error()})
		return nil, fmt.Errorf("create processing record: %w", err)
	}

	outcome, err := o.Poll(ctx, key, listeners)
	if err != nil {
		return nil, err
	}

	if outcome.Status == StatusProcessing || outcome.Status == StatusPublishing {
		listeners.Processing(notify.Event{ProcessingKey: key})
	}
	return outcome, nil
}

// Poll advances the session identified by key: pending containers are
// queried, ready ones recorded, and once all are ready exactly one
// caller claims and performs the publish. Re-entrant and safe against
// concurrent pollers for the same key.
func (o *Orchestrator) Poll(ctx context.Context, key string, listeners notify.Listeners) (*Outcome, error) {
	rec, err := o.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &Outcome{Status: StatusNotFound, ProcessingKey: key}, nil
	}
	if rec.Terminal() {
		return outcomeFromRecord(rec), nil
	}

	for _, containerID := range append([]string(nil), rec.PendingContainers...) {
		state, err := o.api.ContainerStatus(ctx, containerID)
		if err != nil {
			return o.fail(ctx, key, listeners, fmt.Sprintf("container status check failed: %v", err))
		}
		switch state {
		case instagram.ContainerReady:
			rec, err = o.store.MarkReady(ctx, key, containerID)
			if err != nil {
				return nil, err
			}
		case instagram.ContainerError:
			return o.fail(ctx, key, listeners, fmt.Sprintf("container %s failed remote processing", containerID))
		}
	}

	if len(rec.PendingContainers) > 0 {
		return &Outcome{
			Status:        StatusProcessing,
			ProcessingKey: key,
			Ready:         rec.ReadyContainers,
			Pending:       len(rec.PendingContainers),
			Total:         rec.TotalContainers,
		}, nil
	}

	claimed, err := o.store.BeginPublishing(ctx, key)
	if err != nil {
		if errors.Is(err, progress.ErrNotReady) {
			// A concurrent poller rolled the record back? Cannot happen
			// by invariant, but report processing rather than failing.
			return &Outcome{Status: StatusProcessing, ProcessingKey: key, Ready: rec.ReadyContainers, Total: rec.TotalContainers}, nil
		}
		return nil, err
	}
	if !claimed {
		// Another poller holds the claim or already finished; report
		// the current state without a second publish call.
		current, err := o.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if current != nil && current.Terminal() {
			return outcomeFromRecord(current), nil
		}
		return &Outcome{Status: StatusPublishing, ProcessingKey: key, Ready: rec.ReadyContainers, Total: rec.TotalContainers}, nil
	}

	return o.publish(ctx, key, rec, listeners)
}

// publish runs the final publish step for the claim winner.
func (o *Orchestrator) publish(ctx context.Context, key string, rec *progress.Record, listeners notify.Listeners) (*Outcome, error) {
	lg := log.With().Str("processingKey", key).Logger()

	target := rec.ContainerIDs[0]
	if len(rec.ContainerIDs) > 1 {
		carouselID, err := o.api.CreateCarouselContainer(ctx, rec.ContainerIDs, rec.Caption)
		if err != nil {
			return o.fail(ctx, key, listeners, fmt.Sprintf("carousel creation failed: %v", err))
		}
		target = carouselID
	}

	mediaID, err := o.api.Publish(ctx, target)
	if err != nil {
		return o.fail(ctx, key, listeners, fmt.Sprintf("publish failed: %v", err))
	}

	// Permalink is informational; a lookup failure does not undo a
	// successful publish.
	permalink, err := o.api.MediaPermalink(ctx, mediaID)
	if err != nil {
		lg.Warn().Err(err).Str("mediaId", mediaID).Msg("Permalink lookup failed")
		permalink = ""
	}

	outcome := progress.Outcome{Published: true, MediaID: mediaID, Permalink: permalink}
	if err := o.store.Complete(ctx, key, outcome); err != nil {
		return nil, fmt.Errorf("record publish outcome: %w", err)
	}

	listeners.Success(notify.Event{ProcessingKey: key, MediaID: mediaID, Permalink: permalink})

	// The outcome was just delivered synchronously; the record has done
	// its job. Later polls see not_found, the documented ambiguous state.
	if err := o.store.Delete(ctx, key); err != nil {
		lg.Warn().Err(err).Msg("Failed to delete completed record")
	}

	lg.Info().Str("mediaId", mediaID).Msg("Publish session completed")
	return &Outcome{
		Status:        StatusCompleted,
		ProcessingKey: key,
		MediaID:       mediaID,
		Permalink:     permalink,
	}, nil
}

// fail records a terminal error and notifies the caller. The record is
// left to expire by TTL so one later poll can still retrieve the error.
func (o *Orchestrator) fail(ctx context.Context, key string, listeners notify.Listeners, message string) (*Outcome, error) {
	log.Error().Str("processingKey", key).Str("error", message).Msg("Publish session failed")

	if err := o.store.Complete(ctx, key, progress.Outcome{ErrorMessage: message}); err != nil {
		log.Warn().Err(err).Str("processingKey", key).Msg("Failed to record error outcome")
	}
	listeners.Error(notify.Event{ProcessingKey: key, ErrorMessage: message})

	return &Outcome{
		Status:        StatusError,
		ProcessingKey: key,
		ErrorMessage:  message,
	}, nil
}

func outcomeFromRecord(rec *progress.Record) *Outcome {
	if rec.Published {
		return &Outcome{
			Status:        StatusCompleted,
			ProcessingKey: rec.Key,
			MediaID:       rec.MediaID,
			Permalink:     rec.Permalink,
		}
	}
	return &Outcome{
		Status:        StatusError,
		ProcessingKey: rec.Key,
		ErrorMessage:  rec.ErrorMessage,
	}
}
