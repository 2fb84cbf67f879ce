package schedule

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/instagram-publisher/internal/geometry"
	"github.com/fpang/instagram-publisher/internal/notify"
	"github.com/fpang/instagram-publisher/internal/preparer"
	"github.com/fpang/instagram-publisher/internal/publisher"
)

const (
	// dispatchPollInterval is how long the dispatcher waits between
	// container status checks. The dispatcher is the "external caller"
	// the orchestrator requires: it owns the timer, the core does not.
	dispatchPollInterval = 3 * time.Second

	// maxDispatchPolls caps how long one dispatch waits for containers
	// before giving up on observing the outcome. The session itself
	// keeps its record; a later run's poll may still see it complete.
	maxDispatchPolls = 20

	sessionKindScheduled = "scheduled"
)

// AssetPreparer is the slice of the preparer used by the dispatcher.
type AssetPreparer interface {
	PrepareWithCrops(ctx context.Context, imageIDs []string, crops []geometry.Rect, subjectID, sessionKind string) ([]preparer.Artifact, error)
}

// PublishRunner is the slice of the orchestrator used by the dispatcher.
type PublishRunner interface {
	Start(ctx context.Context, imageURLs []string, caption string, listeners notify.Listeners) (*publisher.Outcome, error)
	Poll(ctx context.Context, key string, listeners notify.Listeners) (*publisher.Outcome, error)
}

// Dispatcher publishes scheduled posts once due. Dispatch is
// fire-and-remove: a post is taken off the schedule the moment it is
// handed to the orchestrator, so a failed post is not retried on the
// next run.
type Dispatcher struct {
	store    Store
	preparer AssetPreparer
	runner   PublishRunner

	// Outcome events are emitted when an event bus is configured.
	events   EventsAPI
	eventBus string

	pollInterval time.Duration
}

func NewDispatcher(store Store, prep AssetPreparer, runner PublishRunner) *Dispatcher {
	return &Dispatcher{store: store, preparer: prep, runner: runner, pollInterval: dispatchPollInterval}
}

// WithEvents enables EventBridge outcome emission.
func (d *Dispatcher) WithEvents(client EventsAPI, busName string) *Dispatcher {
	d.events = client
	d.eventBus = busName
	return d
}

// DispatchDue publishes every post due at or before now. Posts are
// processed in schedule order; one post's failure does not stop the
// rest. Returns the number of posts dispatched.
func (d *Dispatcher) DispatchDue(ctx context.Context, now time.Time) (int, error) {
	due, err := d.store.DueBefore(ctx, now)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		log.Debug().Msg("No scheduled posts due")
		return 0, nil
	}

	log.Info().Int("due", len(due)).Msg("Dispatching scheduled posts")
	for _, post := range due {
		d.dispatchOne(ctx, post)
	}
	return len(due), nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, post *Post) {
	lg := log.With().Str("postId", post.ID).Str("subjectId", post.SubjectID).Logger()

	if err := d.store.Remove(ctx, post.SubjectID, post.ID); err != nil {
		lg.Error().Err(err).Msg("Failed to remove scheduled post, skipping dispatch")
		return
	}

	artifacts, err := d.preparer.PrepareWithCrops(ctx, post.ImageIDs, post.CropData, post.SubjectID, sessionKindScheduled)
	if err != nil {
		lg.Error().Err(err).Msg("Scheduled post preparation failed")
		d.emit(ctx, DispatchEvent{PostID: post.ID, SubjectID: post.SubjectID, Status: "failed", ErrorMessage: err.Error()})
		return
	}

	urls := make([]string, len(artifacts))
	for i, a := range artifacts {
		urls[i] = a.PublicURL
	}

	events := &notify.Collector{}
	outcome, err := d.runner.Start(ctx, urls, post.Caption, events.Listeners())
	if err != nil {
		lg.Error().Err(err).Msg("Scheduled post submission failed")
		d.emit(ctx, DispatchEvent{PostID: post.ID, SubjectID: post.SubjectID, Status: "failed", ErrorMessage: err.Error()})
		return
	}

	// Drive the session to a terminal state; the orchestrator never
	// polls on its own.
	for i := 0; i < maxDispatchPolls && (outcome.Status == publisher.StatusProcessing || outcome.Status == publisher.StatusPublishing); i++ {
		select {
		case <-ctx.Done():
			lg.Warn().Str("processingKey", outcome.ProcessingKey).Msg("Dispatch interrupted before terminal state")
			d.emit(ctx, DispatchEvent{PostID: post.ID, SubjectID: post.SubjectID, Status: "processing", ProcessingKey: outcome.ProcessingKey})
			return
		case <-time.After(d.pollInterval):
		}

		outcome, err = d.runner.Poll(ctx, outcome.ProcessingKey, events.Listeners())
		if err != nil {
			lg.Error().Err(err).Msg("Scheduled post poll failed")
			d.emit(ctx, DispatchEvent{PostID: post.ID, SubjectID: post.SubjectID, Status: "failed", ErrorMessage: err.Error()})
			return
		}
	}

	// Report from the events delivered during this dispatch. A session
	// finalized by a concurrent poller delivers no event here; its
	// terminal fields are read back from the record instead.
	switch {
	case events.Success != nil:
		lg.Info().Str("mediaId", events.Success.MediaID).Msg("Scheduled post published")
		d.emit(ctx, DispatchEvent{
			PostID:    post.ID,
			SubjectID: post.SubjectID,
			Status:    "published",
			MediaID:   events.Success.MediaID,
			Permalink: events.Success.Permalink,
		})
	case events.Failure != nil:
		lg.Error().Str("error", events.Failure.ErrorMessage).Msg("Scheduled post failed")
		d.emit(ctx, DispatchEvent{
			PostID:       post.ID,
			SubjectID:    post.SubjectID,
			Status:       "failed",
			ErrorMessage: events.Failure.ErrorMessage,
		})
	case outcome.Status == publisher.StatusCompleted:
		lg.Info().Str("mediaId", outcome.MediaID).Msg("Scheduled post published")
		d.emit(ctx, DispatchEvent{
			PostID:    post.ID,
			SubjectID: post.SubjectID,
			Status:    "published",
			MediaID:   outcome.MediaID,
			Permalink: outcome.Permalink,
		})
	case outcome.Status == publisher.StatusError:
		lg.Error().Str("error", outcome.ErrorMessage).Msg("Scheduled post failed")
		d.emit(ctx, DispatchEvent{
			PostID:       post.ID,
			SubjectID:    post.SubjectID,
			Status:       "failed",
			ErrorMessage: outcome.ErrorMessage,
		})
	default:
		lg.Warn().Str("status", string(outcome.Status)).Str("processingKey", outcome.ProcessingKey).Msg("Scheduled post still in flight after dispatch window")
		d.emit(ctx, DispatchEvent{PostID: post.ID, SubjectID: post.SubjectID, Status: "processing", ProcessingKey: outcome.ProcessingKey})
	}
}

func (d *Dispatcher) emit(ctx context.Context, event DispatchEvent) {
	if d.events == nil {
		return
	}
	if err := EmitDispatchEvent(ctx, d.events, d.eventBus, event); err != nil {
		log.Warn().Err(err).Str("postId", event.PostID).Msg("Outcome event emission failed")
	}
}
