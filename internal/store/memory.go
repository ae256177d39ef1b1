package store

import (
	"context"
	"sync"

	"github.com/theirongolddev/furnace/internal/model"
)

// Slot is the in-memory snapshot store. It also keeps finished sessions for
// the lifetime of the process.
type Slot struct {
	mu      sync.RWMutex
	latest  model.Snapshot
	written bool
	history []Record
}

// NewSlot returns an empty in-memory slot.
func NewSlot() *Slot {
	return &Slot{}
}

// Latest returns the last saved snapshot, or a zero snapshot if none.
func (s *Slot) Latest(_ context.Context) (model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.written {
		return model.ZeroSnapshot(), nil
	}
	return s.latest.Sanitize(), nil
}

// Save replaces the slot contents.
func (s *Slot) Save(_ context.Context, snap model.Snapshot) error {
	snap = snap.Sanitize()
	s.mu.Lock()
	s.latest = snap
	s.written = true
	s.mu.Unlock()
	return nil
}

// AppendHistory records a finished session.
func (s *Slot) AppendHistory(_ context.Context, snap model.Snapshot) error {
	s.mu.Lock()
	s.history = append(s.history, NewRecord(snap))
	s.mu.Unlock()
	return nil
}

// History returns up to limit records, newest first. limit <= 0 means all.
func (s *Slot) History(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Record, 0, n)
	for i := len(s.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.history[i])
	}
	return out, nil
}

// Close is a no-op.
func (s *Slot) Close() error {
	return nil
}
