package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yyyoichi/studygraph/internal/centroid"
)

const ingestCursor = "ingest"

// InsertEvents appends access events and returns them with their ids
func (d *DB) InsertEvents(ctx context.Context, events []centroid.Event) ([]centroid.Event, error) {
	out := make([]centroid.Event, len(events))
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO events (student_id, module_id, ts) VALUES (?, ?, ?)")
		if err != nil {
			return fmt.Errorf("failed to prepare event insert: %w", err)
		}
		defer stmt.Close()
		for i, ev := range events {
			res, err := stmt.ExecContext(ctx, ev.Student, ev.Module, ev.Time.UnixNano())
			if err != nil {
				return fmt.Errorf("failed to insert event: %w", err)
			}
			if ev.ID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("failed to get event id: %w", err)
			}
			out[i] = ev
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EventsAfter returns up to limit events with an id above after, in id
// order. A limit of zero returns all of them.
func (d *DB) EventsAfter(ctx context.Context, after int64, limit int) ([]centroid.Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, student_id, module_id, ts FROM events
		WHERE id > ? ORDER BY id LIMIT ?`,
		after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return scanEvents(rows)
}

// EventsUpTo returns every event with an id up to and including upTo, in id
// order.
func (d *DB) EventsUpTo(ctx context.Context, upTo int64) ([]centroid.Event, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, student_id, module_id, ts FROM events
		WHERE id <= ? ORDER BY id`,
		upTo,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return scanEvents(rows)
}

// History returns a student's events up to and including id upTo, in time
// order.
func (d *DB) History(ctx context.Context, student string, upTo int64) ([]centroid.Event, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, student_id, module_id, ts FROM events
		WHERE student_id = ? AND id <= ? ORDER BY ts, id`,
		student, upTo,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]centroid.Event, error) {
	defer rows.Close()
	var events []centroid.Event
	for rows.Next() {
		var (
			ev centroid.Event
			ts int64
		)
		if err := rows.Scan(&ev.ID, &ev.Student, &ev.Module, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Time = time.Unix(0, ts).UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return events, nil
}

// Cursor returns the id of the last event folded into centroids
func (d *DB) Cursor(ctx context.Context) (int64, error) {
	var id int64
	err := d.db.QueryRowContext(ctx,
		"SELECT event_id FROM cursors WHERE name = ?", ingestCursor,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get cursor: %w", err)
	}
	return id, nil
}
