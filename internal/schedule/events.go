package schedule

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"
)

// eventSource identifies this service on the event bus.
const eventSource = "instagram-publisher"

// EventsAPI is the slice of the EventBridge client used for outcome
// emission.
type EventsAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// DispatchEvent is the EventBridge detail payload emitted per
// dispatched post.
type DispatchEvent struct {
	PostID        string `json:"postId"`
	SubjectID     string `json:"subjectId"`
	Status        string `json:"status"` // published | failed | processing
	ProcessingKey string `json:"processingKey,omitempty"`
	MediaID       string `json:"mediaId,omitempty"`
	Permalink     string `json:"permalink,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
}

// EmitDispatchEvent publishes the outcome of a scheduled-post dispatch
// to EventBridge.
func EmitDispatchEvent(ctx context.Context, client EventsAPI, busName string, event DispatchEvent) error {
	detail, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal DispatchEvent: %w", err)
	}

	input := &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{
			{
				EventBusName: aws.String(busName),
				Source:       aws.String(eventSource),
				DetailType:   aws.String("ScheduledPostDispatched"),
				Detail:       aws.String(string(detail)),
			},
		},
	}

	result, err := client.PutEvents(ctx, input)
	if err != nil {
		log.Error().Err(err).Str("postId", event.PostID).Str("status", event.Status).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil || entry.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(entry.ErrorCode)).
					Str("errorMessage", aws.ToString(entry.ErrorMessage)).
					Str("postId", event.PostID).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
			}
		}
	}

	log.Debug().Str("postId", event.PostID).Str("status", event.Status).Msg("Dispatch event emitted to EventBridge")
	return nil
}
