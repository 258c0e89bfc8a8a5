package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/yyyoichi/studygraph/internal/centroid"
	"github.com/yyyoichi/studygraph/internal/geom"
	"github.com/yyyoichi/studygraph/internal/kmeans"
)

// CreateRun inserts a run with its iterations. A converged run also gets its
// last iteration copied to FinalIteration.
func (d *DB) CreateRun(ctx context.Context, run Run, snaps []Snapshot) error {
	geometric := run.Variant == centroid.Geometric
	return d.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (owner, config_id, run_id, k, geometric, converged, colors, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.Config.Owner, run.Config.ID, run.ID, run.K,
			boolInt(geometric), boolInt(run.Converged),
			strings.Join(run.Colors, ","), run.CreatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}
		for _, s := range snaps {
			if err := insertSnapshot(ctx, tx, run.RunKey, geometric, s); err != nil {
				return err
			}
		}
		if run.Converged {
			return copyLatestToFinal(ctx, tx, run.RunKey)
		}
		return nil
	})
}

// AppendIterations records new iterations of an existing run and updates its
// converged flag
func (d *DB) AppendIterations(ctx context.Context, key RunKey, snaps []Snapshot, converged bool) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		geometric, err := runVariant(ctx, tx, key)
		if err != nil {
			return err
		}
		for _, s := range snaps {
			if err := insertSnapshot(ctx, tx, key, geometric, s); err != nil {
				return err
			}
		}
		if err := setConverged(ctx, tx, key, converged); err != nil {
			return err
		}
		if converged {
			return copyLatestToFinal(ctx, tx, key)
		}
		return nil
	})
}

// AppendReassignment records a manual reassignment: the resulting iteration,
// the pin that keeps the student in place and a cleared converged flag
func (d *DB) AppendReassignment(ctx context.Context, key RunKey, snap Snapshot, student string, pin kmeans.Pin) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		geometric, err := runVariant(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := insertSnapshot(ctx, tx, key, geometric, snap); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pins (owner, config_id, run_id, student_id, cluster_number, since)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (owner, config_id, run_id, student_id) DO UPDATE SET
				cluster_number = excluded.cluster_number,
				since = excluded.since`,
			key.Config.Owner, key.Config.ID, key.ID, student, pin.Cluster, pin.Since,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert pin: %w", err)
		}
		return setConverged(ctx, tx, key, false)
	})
}

func runVariant(ctx context.Context, tx *sql.Tx, key RunKey) (bool, error) {
	var geometric int
	err := tx.QueryRowContext(ctx,
		"SELECT geometric FROM runs WHERE owner = ? AND config_id = ? AND run_id = ?",
		key.Config.Owner, key.Config.ID, key.ID,
	).Scan(&geometric)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("run %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("failed to get run: %w", err)
	}
	return geometric == 1, nil
}

func setConverged(ctx context.Context, tx *sql.Tx, key RunKey, converged bool) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE runs SET converged = ? WHERE owner = ? AND config_id = ? AND run_id = ?",
		boolInt(converged), key.Config.Owner, key.Config.ID, key.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

// copyLatestToFinal replaces the FinalIteration rows with a copy of the
// highest numbered iteration
func copyLatestToFinal(ctx context.Context, tx *sql.Tx, key RunKey) error {
	for _, table := range []struct{ name, columns string }{
		{"clusters", "cluster_number, x, y, geometric, regenerated"},
		{"members", "student_id, cluster_number, x, y"},
	} {
		_, err := tx.ExecContext(ctx,
			"DELETE FROM "+table.name+" WHERE owner = ? AND config_id = ? AND run_id = ? AND iteration = ?",
			key.Config.Owner, key.Config.ID, key.ID, FinalIteration,
		)
		if err != nil {
			return fmt.Errorf("failed to clear final %s: %w", table.name, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO `+table.name+` (owner, config_id, run_id, iteration, `+table.columns+`)
			SELECT owner, config_id, run_id, ?, `+table.columns+` FROM `+table.name+`
			WHERE owner = ? AND config_id = ? AND run_id = ? AND iteration = (
				SELECT MAX(iteration) FROM clusters
				WHERE owner = ? AND config_id = ? AND run_id = ?
			)`,
			FinalIteration,
			key.Config.Owner, key.Config.ID, key.ID,
			key.Config.Owner, key.Config.ID, key.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to copy final %s: %w", table.name, err)
		}
	}
	return nil
}

func insertSnapshot(ctx context.Context, tx *sql.Tx, key RunKey, geometric bool, s Snapshot) error {
	for c, p := range s.Centroids {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO clusters (owner, config_id, run_id, iteration, cluster_number, x, y, geometric, regenerated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			key.Config.Owner, key.Config.ID, key.ID, s.Number, c, p.X, p.Y,
			boolInt(geometric), boolInt(slices.Contains(s.Regenerated, c)),
		)
		if err != nil {
			return fmt.Errorf("failed to insert cluster %d of iteration %d: %w", c, s.Number, err)
		}
	}
	for student, c := range s.Assign {
		p := s.Points[student]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO members (owner, config_id, run_id, iteration, student_id, cluster_number, x, y)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			key.Config.Owner, key.Config.ID, key.ID, s.Number, student, c, p.X, p.Y,
		)
		if err != nil {
			return fmt.Errorf("failed to insert member %s of iteration %d: %w", student, s.Number, err)
		}
	}
	return nil
}

// Run retrieves a run header
func (d *DB) Run(ctx context.Context, key RunKey) (Run, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT owner, config_id, run_id, k, geometric, converged, colors, created_at
		FROM runs WHERE owner = ? AND config_id = ? AND run_id = ?`,
		key.Config.Owner, key.Config.ID, key.ID,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// Runs lists every run, oldest first
func (d *DB) Runs(ctx context.Context) ([]Run, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT owner, config_id, run_id, k, geometric, converged, colors, created_at
		FROM runs ORDER BY created_at, owner, config_id, run_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		run                  Run
		geometric, converged int
		colors               string
		created              int64
	)
	err := s.Scan(&run.Config.Owner, &run.Config.ID, &run.ID, &run.K,
		&geometric, &converged, &colors, &created)
	if err != nil {
		return Run{}, err
	}
	run.Variant = centroid.Decomposed
	if geometric == 1 {
		run.Variant = centroid.Geometric
	}
	run.Converged = converged == 1
	if colors != "" {
		run.Colors = strings.Split(colors, ",")
	}
	run.CreatedAt = time.Unix(0, created).UTC()
	return run, nil
}

// Latest returns the highest numbered iteration of a run
func (d *DB) Latest(ctx context.Context, key RunKey) (Snapshot, error) {
	var n sql.NullInt64
	err := d.db.QueryRowContext(ctx, `
		SELECT MAX(iteration) FROM clusters
		WHERE owner = ? AND config_id = ? AND run_id = ? AND iteration >= 0`,
		key.Config.Owner, key.Config.ID, key.ID,
	).Scan(&n)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to get latest iteration: %w", err)
	}
	if !n.Valid {
		return Snapshot{}, fmt.Errorf("run %s: %w", key, ErrNotFound)
	}
	return d.Iteration(ctx, key, int(n.Int64))
}

// Iteration returns one stored iteration of a run
func (d *DB) Iteration(ctx context.Context, key RunKey, n int) (Snapshot, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT cluster_number, x, y, regenerated FROM clusters
		WHERE owner = ? AND config_id = ? AND run_id = ? AND iteration = ?
		ORDER BY cluster_number`,
		key.Config.Owner, key.Config.ID, key.ID, n,
	)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to query clusters: %w", err)
	}
	snap := Snapshot{
		Iteration: kmeans.Iteration{Number: n, Assign: make(map[string]int)},
		Points:    make(map[string]geom.Point),
	}
	for rows.Next() {
		var (
			c           int
			p           geom.Point
			regenerated int
		)
		if err := rows.Scan(&c, &p.X, &p.Y, &regenerated); err != nil {
			rows.Close()
			return Snapshot{}, fmt.Errorf("failed to scan cluster: %w", err)
		}
		for len(snap.Centroids) <= c {
			snap.Centroids = append(snap.Centroids, geom.Point{})
		}
		snap.Centroids[c] = p
		if regenerated == 1 {
			snap.Regenerated = append(snap.Regenerated, c)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("failed to read clusters: %w", err)
	}
	if len(snap.Centroids) == 0 {
		return Snapshot{}, fmt.Errorf("run %s iteration %d: %w", key, n, ErrNotFound)
	}

	rows, err = d.db.QueryContext(ctx, `
		SELECT student_id, cluster_number, x, y FROM members
		WHERE owner = ? AND config_id = ? AND run_id = ? AND iteration = ?`,
		key.Config.Owner, key.Config.ID, key.ID, n,
	)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			student string
			c       int
			p       geom.Point
		)
		if err := rows.Scan(&student, &c, &p.X, &p.Y); err != nil {
			return Snapshot{}, fmt.Errorf("failed to scan member: %w", err)
		}
		snap.Assign[student] = c
		snap.Points[student] = p
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("failed to read members: %w", err)
	}
	return snap, nil
}

// IterationNumbers lists the stored iteration numbers of a run in order
func (d *DB) IterationNumbers(ctx context.Context, key RunKey) ([]int, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT DISTINCT iteration FROM clusters
		WHERE owner = ? AND config_id = ? AND run_id = ?
		ORDER BY iteration`,
		key.Config.Owner, key.Config.ID, key.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query iterations: %w", err)
	}
	defer rows.Close()

	var numbers []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

// Pins returns the manual pins of a run
func (d *DB) Pins(ctx context.Context, key RunKey) (map[string]kmeans.Pin, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT student_id, cluster_number, since FROM pins
		WHERE owner = ? AND config_id = ? AND run_id = ?`,
		key.Config.Owner, key.Config.ID, key.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pins: %w", err)
	}
	defer rows.Close()

	pins := make(map[string]kmeans.Pin)
	for rows.Next() {
		var (
			student string
			pin     kmeans.Pin
		)
		if err := rows.Scan(&student, &pin.Cluster, &pin.Since); err != nil {
			return nil, fmt.Errorf("failed to scan pin: %w", err)
		}
		pins[student] = pin
	}
	return pins, rows.Err()
}

// SaveManual replaces the hand made membership of one iteration
func (d *DB) SaveManual(ctx context.Context, key RunKey, iteration int, assign map[string]int) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := runVariant(ctx, tx, key); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			DELETE FROM manual_members
			WHERE owner = ? AND config_id = ? AND run_id = ? AND iteration = ?`,
			key.Config.Owner, key.Config.ID, key.ID, iteration,
		)
		if err != nil {
			return fmt.Errorf("failed to clear manual members: %w", err)
		}
		for student, c := range assign {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO manual_members (owner, config_id, run_id, iteration, student_id, cluster_number)
				VALUES (?, ?, ?, ?, ?, ?)`,
				key.Config.Owner, key.Config.ID, key.ID, iteration, student, c,
			)
			if err != nil {
				return fmt.Errorf("failed to insert manual member: %w", err)
			}
		}
		return nil
	})
}

// Manual returns the hand made membership of one iteration
func (d *DB) Manual(ctx context.Context, key RunKey, iteration int) (map[string]int, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT student_id, cluster_number FROM manual_members
		WHERE owner = ? AND config_id = ? AND run_id = ? AND iteration = ?`,
		key.Config.Owner, key.Config.ID, key.ID, iteration,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query manual members: %w", err)
	}
	defer rows.Close()

	assign := make(map[string]int)
	for rows.Next() {
		var (
			student string
			c       int
		)
		if err := rows.Scan(&student, &c); err != nil {
			return nil, fmt.Errorf("failed to scan manual member: %w", err)
		}
		assign[student] = c
	}
	return assign, rows.Err()
}
