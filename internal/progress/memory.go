package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MemoryStore is an in-process Store for the local server and tests.
// Expiry is lazy: expired records are dropped when next touched.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*memoryEntry
}

type memoryEntry struct {
	record    Record
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*memoryEntry)}
}

var _ Store = (*MemoryStore)(nil)

// getLocked returns the live entry for key, dropping it if expired.
// Caller must hold mu.
func (s *MemoryStore) getLocked(key string) *memoryEntry {
	entry, ok := s.records[key]
	if !ok {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.records, key)
		return nil
	}
	return entry
}

func (s *MemoryStore) Create(ctx context.Context, key string, containerIDs []string, caption string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]string, len(containerIDs))
	copy(pending, containerIDs)

	entry := &memoryEntry{
		record: Record{
			Key:               key,
			TotalContainers:   len(containerIDs),
			PendingContainers: pending,
			ContainerIDs:      append([]string(nil), containerIDs...),
			Caption:           caption,
			CreatedAt:         time.Now().Unix(),
		},
		expiresAt: time.Now().Add(RecordTTL),
	}
	s.records[key] = entry

	log.Debug().Str("processingKey", key).Int("containers", len(containerIDs)).Msg("Processing record created")
	rec := entry.record
	return &rec, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.getLocked(key)
	if entry == nil {
		return nil, nil
	}
	rec := entry.record
	rec.PendingContainers = append([]string(nil), entry.record.PendingContainers...)
	return &rec, nil
}

func (s *MemoryStore) MarkReady(ctx context.Context, key, containerID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.getLocked(key)
	if entry == nil {
		return nil, fmt.Errorf("processing record %s not found", key)
	}

	rec := &entry.record
	for i, id := range rec.PendingContainers {
		if id == containerID {
			rec.PendingContainers = append(rec.PendingContainers[:i], rec.PendingContainers[i+1:]...)
			rec.ReadyContainers++
			entry.expiresAt = time.Now().Add(RecordTTL)
			break
		}
	}

	out := *rec
	out.PendingContainers = append([]string(nil), rec.PendingContainers...)
	return &out, nil
}

func (s *MemoryStore) BeginPublishing(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.getLocked(key)
	if entry == nil {
		return false, fmt.Errorf("processing record %s not found", key)
	}

	rec := &entry.record
	if len(rec.PendingContainers) > 0 {
		return false, ErrNotReady
	}
	if rec.Publishing || rec.Published {
		return false, nil
	}

	rec.Publishing = true
	entry.expiresAt = time.Now().Add(RecordTTL)
	return true, nil
}

func (s *MemoryStore) Complete(ctx context.Context, key string, outcome Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.getLocked(key)
	if entry == nil {
		return fmt.Errorf("processing record %s not found", key)
	}

	rec := &entry.record
	rec.Published = outcome.Published
	rec.MediaID = outcome.MediaID
	rec.Permalink = outcome.Permalink
	rec.ErrorMessage = outcome.ErrorMessage
	entry.expiresAt = time.Now().Add(RecordTTL)

	log.Debug().Str("processingKey", key).Bool("published", outcome.Published).Msg("Processing record completed")
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}
