// Package responses keeps the bounded-retention log of inference
// results. Eviction is lazy: the retention cutoff is applied against the
// wall clock on every record and snapshot, never by a background timer,
// which keeps the retention logic on the single mutation path.
package responses

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fallwatch/fallwatch/internal/model"
)

const DefaultRetention = 48 * time.Hour

type Store struct {
	mu        sync.Mutex
	entries   []model.ResponseEntry
	retention time.Duration
	now       func() time.Time
}

func NewStore(retention time.Duration) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{retention: retention, now: time.Now}
}

// Record prunes expired entries and then prepends the new one, so the
// store never exceeds the retention window even transiently. Newest-first
// ordering is a contract for consumers. A missing ID or timestamp is
// filled in.
func (s *Store) Record(entry model.ResponseEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = s.now().Unix()
	}
	s.pruneLocked()
	s.entries = append([]model.ResponseEntry{entry}, s.entries...)
}

// Snapshot prunes and returns an independent newest-first copy.
func (s *Store) Snapshot() []model.ResponseEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	out := make([]model.ResponseEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Store) pruneLocked() {
	cutoff := s.now().Add(-s.retention).Unix()
	kept := s.entries[:0]
	for _, entry := range s.entries {
		if entry.Timestamp >= cutoff {
			kept = append(kept, entry)
		}
	}
	s.entries = kept
}
