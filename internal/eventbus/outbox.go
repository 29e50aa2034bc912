// Copyright 2025 James Ross
package eventbus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Outbox durably stages events in a local SQLite database before they are
// drained to the broker, giving at-least-once delivery across process
// restarts. Schema grounded on the teacher's outbox_events table used in
// its exactly-once outbox tests.
type Outbox struct {
	db *sql.DB
}

func OpenOutbox(path string) (*Outbox, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("eventbus: open outbox: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS outbox_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type VARCHAR(255) NOT NULL,
			payload TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			published_at TIMESTAMP
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventbus: create outbox table: %w", err)
	}
	return &Outbox{db: db}, nil
}

func (o *Outbox) Close() error { return o.db.Close() }

// Stage durably records an event before it is published.
func (o *Outbox) Stage(ctx context.Context, evt Event) (int64, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return 0, err
	}
	res, err := o.db.ExecContext(ctx, `INSERT INTO outbox_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		evt.EventType, payload, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("eventbus: stage event: %w", err)
	}
	return res.LastInsertId()
}

// MarkPublished records that the staged event was successfully delivered.
func (o *Outbox) MarkPublished(ctx context.Context, id int64) error {
	_, err := o.db.ExecContext(ctx, `UPDATE outbox_events SET published_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// PendingRow is one undelivered outbox row.
type PendingRow struct {
	ID      int64
	Payload []byte
}

// Pending returns staged events not yet marked published, oldest first.
func (o *Outbox) Pending(ctx context.Context, limit int) ([]PendingRow, error) {
	rows, err := o.db.QueryContext(ctx, `SELECT id, payload FROM outbox_events WHERE published_at IS NULL ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PendingRow
	for rows.Next() {
		var r PendingRow
		if err := rows.Scan(&r.ID, &r.Payload); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
