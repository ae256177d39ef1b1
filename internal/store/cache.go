package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/theirongolddev/furnace/internal/model"

	_ "modernc.org/sqlite" // register sqlite driver
)

// SQLite persists the snapshot slot and the finished-session log.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at the given path.
func OpenSQLite(dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening store db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database.
func (c *SQLite) Close() error {
	return c.db.Close()
}

// Latest returns the slot contents, or a zero snapshot if nothing was saved.
func (c *SQLite) Latest(ctx context.Context) (model.Snapshot, error) {
	var payload string
	err := c.db.QueryRowContext(ctx, "SELECT payload FROM tally_slot WHERE slot_key = ?", slotKey).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ZeroSnapshot(), nil
	}
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("reading slot: %w", err)
	}

	var snap model.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return model.Snapshot{}, fmt.Errorf("decoding slot: %w", err)
	}
	return snap.Sanitize(), nil
}

// Save replaces the slot contents.
func (c *SQLite) Save(ctx context.Context, snap model.Snapshot) error {
	snap = snap.Sanitize()
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding slot: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `INSERT OR REPLACE INTO tally_slot (slot_key, payload, ts_ms, updated_at)
		VALUES (?, ?, ?, ?)`,
		slotKey, string(payload), snap.TS, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("writing slot: %w", err)
	}
	return nil
}

// AppendHistory appends a finished session to burn_log.
func (c *SQLite) AppendHistory(ctx context.Context, snap model.Snapshot) error {
	snap = snap.Sanitize()
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}
	r := NewRecord(snap)

	_, err = c.db.ExecContext(ctx, `INSERT INTO burn_log
		(session_id, finished_at, balance, budget, burned, results, model, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.FinishedAt.Format(time.RFC3339), r.Balance, r.Budget, r.Burned, r.Results, r.Model, string(payload),
	)
	if err != nil {
		return fmt.Errorf("writing history: %w", err)
	}
	return nil
}

// History returns up to limit records, newest first. limit <= 0 means all.
func (c *SQLite) History(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := c.db.QueryContext(ctx, `SELECT
		session_id, finished_at, balance, budget, burned, results, model
		FROM burn_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		var r Record
		var finished string
		var modelName sql.NullString
		if err := rows.Scan(&r.SessionID, &finished, &r.Balance, &r.Budget, &r.Burned, &r.Results, &modelName); err != nil {
			return nil, err
		}
		r.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		if modelName.Valid {
			r.Model = modelName.String
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// HistoryCount returns the number of logged sessions.
func (c *SQLite) HistoryCount(ctx context.Context) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM burn_log").Scan(&count)
	return count, err
}
