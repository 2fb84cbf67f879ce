// Package keys generates the opaque tokens that identify in-flight
// publish sessions. Keys are cryptographically random so a caller
// cannot enumerate or guess another session's progress record.
package keys

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/rs/zerolog/log"
)

// processingPrefix marks processing keys so they are recognizable in
// logs and store dumps without being guessable.
const processingPrefix = "igpub-"

// NewProcessingKey creates a new random processing key for one publish session.
func NewProcessingKey() string {
	return processingPrefix + randomHex(16)
}

// NewScheduleID creates a new random identifier for a scheduled post entry.
func NewScheduleID() string {
	return "sched-" + randomHex(8)
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		log.Fatal().Err(err).Msg("Failed to generate random key")
	}
	return hex.EncodeToString(b)
}
