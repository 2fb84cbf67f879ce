// Package schedule persists posts queued for future publishing and
// dispatches them once due. Posts are keyed by subject and never
// mutated after creation; dispatch removes them.
package schedule

import (
	"context"
	"time"

	"github.com/fpang/instagram-publisher/internal/geometry"
)

// Post is one scheduled publish request.
type Post struct {
	ID              string          `json:"id" dynamodbav:"-"`
	SubjectID       string          `json:"subjectId" dynamodbav:"-"`
	ParentSubjectID string          `json:"parentSubjectId,omitempty" dynamodbav:"-"` // set on aggregated listings
	ImageIDs        []string        `json:"imageIds" dynamodbav:"imageIds"`
	CropData        []geometry.Rect `json:"cropData" dynamodbav:"cropData"`
	Caption         string          `json:"caption" dynamodbav:"caption"`
	ScheduleTime    int64           `json:"scheduleTime" dynamodbav:"scheduleTime"`
	CreatedAt       int64           `json:"createdAt" dynamodbav:"createdAt"`
}

// Store persists scheduled posts as ordered per-subject sequences.
type Store interface {
	// Add appends a post to its subject's sequence.
	Add(ctx context.Context, post *Post) error

	// ListBySubject returns the subject's posts in insertion order.
	ListBySubject(ctx context.Context, subjectID string) ([]*Post, error)

	// ListAll returns every scheduled post across subjects, with
	// ParentSubjectID populated on each.
	ListAll(ctx context.Context) ([]*Post, error)

	// Remove deletes one post. Removing an unknown post is not an error.
	Remove(ctx context.Context, subjectID, postID string) error

	// DueBefore returns all posts whose schedule time is at or before t.
	DueBefore(ctx context.Context, t time.Time) ([]*Post, error)
}
