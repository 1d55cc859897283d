// Package journal persists house events and settlement records to SQLite.
// A Journal is an engine.EventSink.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cloudx-io/escrowhouse/core"
	"github.com/cloudx-io/escrowhouse/engine"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no settlement is stored for an auction.
var ErrNotFound = errors.New("journal: not found")

type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal database at path. Use ":memory:" for a
// process-local journal.
func Open(ctx context.Context, path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	j := &Journal{db: db}
	if err := j.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	return j, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		auction_id INTEGER NOT NULL,
		at TEXT NOT NULL,
		payload JSON NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS events_auction ON events (auction_id, seq);`,
	`CREATE TABLE IF NOT EXISTS settlements (
		auction_id INTEGER PRIMARY KEY,
		settled_at TEXT NOT NULL,
		record JSON NOT NULL
	);`,
}

func (j *Journal) migrate(ctx context.Context) error {
	for _, query := range migrations {
		if _, err := j.db.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Publish appends ev to the event log.
func (j *Journal) Publish(ctx context.Context, ev engine.Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO events (event_id, kind, auction_id, at, payload) VALUES (?, ?, ?, ?, ?)`,
		ev.ID.String(), string(ev.Kind), int64(ev.AuctionID), ev.At.UTC().Format(time.RFC3339Nano), string(payload))
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Events returns the events of one auction in publication order. auctionID 0
// returns every event.
func (j *Journal) Events(ctx context.Context, auctionID uint64) ([]engine.Event, error) {
	query := `SELECT payload FROM events ORDER BY seq`
	args := []any{}
	if auctionID != 0 {
		query = `SELECT payload FROM events WHERE auction_id = ? ORDER BY seq`
		args = append(args, int64(auctionID))
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []engine.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev engine.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// SaveSettlement stores the settlement record of an auction. Saving the same
// auction again replaces the record, so rewards issued later can be recorded.
func (j *Journal) SaveSettlement(ctx context.Context, r *core.WinnerRecord) error {
	blob, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode settlement: %w", err)
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO settlements (auction_id, settled_at, record) VALUES (?, ?, ?)
		ON CONFLICT(auction_id) DO UPDATE SET settled_at = excluded.settled_at, record = excluded.record`,
		int64(r.AuctionID), r.SettledAt.UTC().Format(time.RFC3339Nano), string(blob))
	if err != nil {
		return fmt.Errorf("failed to insert settlement: %w", err)
	}
	return nil
}

// Settlement loads the stored settlement record of an auction.
func (j *Journal) Settlement(ctx context.Context, auctionID uint64) (*core.WinnerRecord, error) {
	var blob string
	err := j.db.QueryRowContext(ctx, `SELECT record FROM settlements WHERE auction_id = ?`, int64(auctionID)).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: settlement of auction %d", ErrNotFound, auctionID)
	}
	if err != nil {
		return nil, err
	}
	var r core.WinnerRecord
	if err := json.Unmarshal([]byte(blob), &r); err != nil {
		return nil, fmt.Errorf("failed to decode settlement: %w", err)
	}
	return &r, nil
}
