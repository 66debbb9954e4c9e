// Package deadletter holds REFLEX envelopes that exhausted their retry
// ceiling. Records belong to operator tooling, not the original
// publisher: they are never auto-retried, only inspected and cleared.
package deadletter

import (
	"sync"
	"time"

	"github.com/HomoYouDidnt/kloros-sub007/envelope"
)

// AttemptStatus is the terminal state of one delivery attempt.
type AttemptStatus string

// Delivery attempt states.
const (
	AttemptPending  AttemptStatus = "pending"
	AttemptAcked    AttemptStatus = "acked"
	AttemptNacked   AttemptStatus = "nacked"
	AttemptTimedOut AttemptStatus = "timed_out"
)

// Attempt records one REFLEX delivery attempt.
type Attempt struct {
	Number   int           `json:"number"`
	SentAt   time.Time     `json:"sent_at"`
	Deadline time.Time     `json:"deadline"`
	Status   AttemptStatus `json:"status"`
}

// Record is a dead-lettered envelope with its full attempt history.
type Record struct {
	Envelope   envelope.Envelope `json:"envelope"`
	Reason     string            `json:"failure_reason"`
	Attempts   []Attempt         `json:"attempt_history"`
	RecordedAt time.Time         `json:"recorded_at"`
}

// Store is a bounded in-memory dead-letter store. When full, the oldest
// record is discarded; drop counts are visible via Discarded.
type Store struct {
	mu        sync.RWMutex
	records   []Record
	capacity  int
	discarded int64
}

// NewStore creates a store holding at most capacity records
// (minimum 1, default 1024 for non-positive values).
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Store{capacity: capacity}
}

// Add appends a record, discarding the oldest when at capacity.
func (s *Store) Add(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records) == s.capacity {
		copy(s.records, s.records[1:])
		s.records = s.records[:len(s.records)-1]
		s.discarded++
	}
	s.records = append(s.records, rec)
}

// List returns a copy of all records, newest first.
func (s *Store) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, len(s.records))
	for i, rec := range s.records {
		out[len(s.records)-1-i] = rec
	}
	return out
}

// Len returns the number of held records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Discarded returns how many records were dropped to stay within capacity.
func (s *Store) Discarded() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.discarded
}

// Clear removes all records and returns how many were held.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.records)
	s.records = nil
	return n
}
