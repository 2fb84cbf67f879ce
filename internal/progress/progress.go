// Package progress tracks the lifecycle of an in-flight publish
// session: how many remote containers exist, which are still pending,
// and whether the final publish has been claimed. Records are
// short-lived and TTL-bound; a session nobody polls simply expires.
//
// Concurrent pollers for the same key are expected. Every mutation is
// read-modify-write safe, and BeginPublishing is an atomic
// compare-and-set so that exactly one of several pollers observing
// "all ready" performs the publish call.
package progress

import (
	"context"
	"errors"
	"time"
)

// RecordTTL bounds how long a processing record outlives its last
// write. It must exceed the expected remote container processing time,
// which is seconds to low minutes in practice.
const RecordTTL = 15 * time.Minute

// ErrNotReady is returned by BeginPublishing while containers are still
// pending.
var ErrNotReady = errors.New("containers still pending")

// Record is the persisted state of one publish session.
//
// Invariants, held at every observable point:
//   - ReadyContainers + len(PendingContainers) == TotalContainers
//   - Publishing implies ReadyContainers == TotalContainers
//   - Published is terminal
type Record struct {
	Key               string   `json:"key" dynamodbav:"-"`
	TotalContainers   int      `json:"totalContainers" dynamodbav:"totalContainers"`
	ReadyContainers   int      `json:"readyContainers" dynamodbav:"readyContainers"`
	PendingContainers []string `json:"pendingContainers" dynamodbav:"pendingContainers"`
	ContainerIDs      []string `json:"containerIds" dynamodbav:"containerIds"`
	Caption           string   `json:"caption" dynamodbav:"caption"`
	Publishing        bool     `json:"publishing" dynamodbav:"publishing"`
	Published         bool     `json:"published" dynamodbav:"published"`
	MediaID           string   `json:"mediaId,omitempty" dynamodbav:"mediaId,omitempty"`
	Permalink         string   `json:"permalink,omitempty" dynamodbav:"permalink,omitempty"`
	ErrorMessage      string   `json:"errorMessage,omitempty" dynamodbav:"errorMessage,omitempty"`
	CreatedAt         int64    `json:"createdAt" dynamodbav:"createdAt"`
}

// Terminal reports whether the session has reached a final state.
func (r *Record) Terminal() bool {
	return r.Published || r.ErrorMessage != ""
}

// Outcome is the terminal result written by Complete.
type Outcome struct {
	Published    bool
	MediaID      string
	Permalink    string
	ErrorMessage string
}

// Store persists processing records.
type Store interface {
	// Create writes a fresh record for the given container IDs, all
	// pending. The ordered ID list and caption are kept for the final
	// publish step, which may run in a later invocation.
	Create(ctx context.Context, key string, containerIDs []string, caption string) (*Record, error)

	// Get returns the record, or (nil, nil) when the key is unknown or
	// expired.
	Get(ctx context.Context, key string) (*Record, error)

	// MarkReady moves one container from pending to ready. Marking a
	// container that is already ready (or was never pending) is a no-op.
	// Returns the record after the update.
	MarkReady(ctx context.Context, key, containerID string) (*Record, error)

	// BeginPublishing atomically claims the publish step. It returns
	// true for exactly one caller once all containers are ready; false
	// when another caller already holds or completed the claim. While
	// containers remain pending it returns (false, ErrNotReady).
	BeginPublishing(ctx context.Context, key string) (bool, error)

	// Complete writes the terminal outcome.
	Complete(ctx context.Context, key string, outcome Outcome) error

	// Delete removes the record. Deleting an unknown key is not an error.
	Delete(ctx context.Context, key string) error
}
