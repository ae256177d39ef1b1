// Package store holds the server-side snapshot slot and the finished-session
// history.
//
// The slot is a single global value with single-writer, last-write-wins
// semantics. Before anything is written it reads back model.ZeroSnapshot().
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/theirongolddev/furnace/internal/config"
	"github.com/theirongolddev/furnace/internal/model"
)

// ErrUnknownBackend is returned by Open for an unrecognized store type.
var ErrUnknownBackend = errors.New("store: unknown backend")

// SnapshotStore is the server-side snapshot slot.
type SnapshotStore interface {
	// Latest returns the last saved snapshot, or a zero snapshot if none.
	Latest(ctx context.Context) (model.Snapshot, error)
	// Save replaces the slot contents.
	Save(ctx context.Context, s model.Snapshot) error
	Close() error
}

// History is implemented by stores that keep a log of finished sessions.
type History interface {
	AppendHistory(ctx context.Context, s model.Snapshot) error
	History(ctx context.Context, limit int) ([]Record, error)
}

// HistoryCounter is implemented by stores that can count their whole log
// without reading it.
type HistoryCounter interface {
	HistoryCount(ctx context.Context) (int, error)
}

// Record is one finished session in the history log.
type Record struct {
	SessionID  string    `json:"session_id"`
	FinishedAt time.Time `json:"finished_at"`
	Balance    float64   `json:"balance"`
	Budget     float64   `json:"budget"`
	Burned     float64   `json:"burned"`
	Results    int       `json:"results"`
	Model      string    `json:"model,omitempty"`
}

// NewRecord summarizes a finished snapshot.
func NewRecord(s model.Snapshot) Record {
	return Record{
		SessionID:  s.SessionID,
		FinishedAt: s.At().UTC(),
		Balance:    s.Balance,
		Budget:     s.Budget,
		Burned:     s.Burned,
		Results:    len(s.Results),
		Model:      s.Model,
	}
}

// Open returns the snapshot store selected by cfg.Daemon.Store.
func Open(cfg config.Config) (SnapshotStore, error) {
	switch strings.ToLower(cfg.Daemon.Store) {
	case "", "memory":
		return NewSlot(), nil
	case "sqlite":
		return OpenSQLite(config.SQLitePath(cfg))
	case "redis":
		return NewRedis(cfg.Daemon.Redis)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Daemon.Store)
	}
}
