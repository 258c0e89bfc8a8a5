package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/yyyoichi/studygraph/internal/centroid"
	"github.com/yyyoichi/studygraph/internal/geom"
	"github.com/yyyoichi/studygraph/internal/graph"
)

// Ingest is the result of folding a batch of events into centroids
type Ingest struct {
	// Cursor is the id of the last event in the batch
	Cursor     int64
	Geometric  map[centroid.Key]Sum
	Decomposed map[centroid.Key]geom.Point
}

// CommitIngest writes the updated centroids and moves the cursor in one
// transaction
func (d *DB) CommitIngest(ctx context.Context, in Ingest) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		for key, s := range in.Geometric {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO geometric_centroids (owner, config_id, student_id, sum_x, sum_y, sample_count)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (owner, config_id, student_id) DO UPDATE SET
					sum_x = excluded.sum_x,
					sum_y = excluded.sum_y,
					sample_count = excluded.sample_count`,
				key.Config.Owner, key.Config.ID, key.Student, s.X, s.Y, s.Count,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert geometric centroid: %w", err)
			}
		}
		for key, p := range in.Decomposed {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO decomposed_centroids (owner, config_id, student_id, x, y)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (owner, config_id, student_id) DO UPDATE SET
					x = excluded.x,
					y = excluded.y`,
				key.Config.Owner, key.Config.ID, key.Student, p.X, p.Y,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert decomposed centroid: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cursors (name, event_id) VALUES (?, ?)
			ON CONFLICT (name) DO UPDATE SET event_id = excluded.event_id`,
			ingestCursor, in.Cursor,
		)
		if err != nil {
			return fmt.Errorf("failed to move cursor: %w", err)
		}
		return nil
	})
}

// ReplaceCentroids swaps every student centroid of a configuration for the
// given ones. The cursor is left alone.
func (d *DB) ReplaceCentroids(ctx context.Context, key graph.Key, geometric map[string]Sum, decomposed map[string]geom.Point) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"geometric_centroids", "decomposed_centroids"} {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM "+table+" WHERE owner = ? AND config_id = ?", key.Owner, key.ID,
			); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		for student, s := range geometric {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO geometric_centroids (owner, config_id, student_id, sum_x, sum_y, sample_count)
				VALUES (?, ?, ?, ?, ?, ?)`,
				key.Owner, key.ID, student, s.X, s.Y, s.Count,
			); err != nil {
				return fmt.Errorf("failed to insert geometric centroid: %w", err)
			}
		}
		for student, p := range decomposed {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO decomposed_centroids (owner, config_id, student_id, x, y)
				VALUES (?, ?, ?, ?, ?)`,
				key.Owner, key.ID, student, p.X, p.Y,
			); err != nil {
				return fmt.Errorf("failed to insert decomposed centroid: %w", err)
			}
		}
		return nil
	})
}

// GeometricSums returns the running sums of every student of a configuration
func (d *DB) GeometricSums(ctx context.Context, key graph.Key) (map[string]Sum, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT student_id, sum_x, sum_y, sample_count FROM geometric_centroids
		WHERE owner = ? AND config_id = ?`,
		key.Owner, key.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query geometric centroids: %w", err)
	}
	defer rows.Close()

	sums := make(map[string]Sum)
	for rows.Next() {
		var (
			student string
			s       Sum
		)
		if err := rows.Scan(&student, &s.X, &s.Y, &s.Count); err != nil {
			return nil, fmt.Errorf("failed to scan geometric centroid: %w", err)
		}
		sums[student] = s
	}
	return sums, rows.Err()
}

// Centroids returns the current centroid of every student of a
// configuration for the given variant
func (d *DB) Centroids(ctx context.Context, key graph.Key, v centroid.Variant) (map[string]geom.Point, error) {
	if v == centroid.Geometric {
		sums, err := d.GeometricSums(ctx, key)
		if err != nil {
			return nil, err
		}
		out := make(map[string]geom.Point, len(sums))
		for student, s := range sums {
			if s.Count > 0 {
				out[student] = geom.Point{X: s.X / float64(s.Count), Y: s.Y / float64(s.Count)}
			}
		}
		return out, nil
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT student_id, x, y FROM decomposed_centroids
		WHERE owner = ? AND config_id = ?`,
		key.Owner, key.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query decomposed centroids: %w", err)
	}
	defer rows.Close()

	out := make(map[string]geom.Point)
	for rows.Next() {
		var (
			student string
			p       geom.Point
		)
		if err := rows.Scan(&student, &p.X, &p.Y); err != nil {
			return nil, fmt.Errorf("failed to scan decomposed centroid: %w", err)
		}
		out[student] = p
	}
	return out, rows.Err()
}

// Bounds returns the bounding box of the stored student centroids of one
// variant of a configuration
func (d *DB) Bounds(ctx context.Context, key graph.Key, v centroid.Variant) (geom.Rect, bool, error) {
	cs, err := d.Centroids(ctx, key, v)
	if err != nil {
		return geom.Rect{}, false, err
	}
	points := make([]geom.Point, 0, len(cs))
	for _, p := range cs {
		points = append(points, p)
	}
	r, ok := geom.Bounds(points)
	return r, ok, nil
}
