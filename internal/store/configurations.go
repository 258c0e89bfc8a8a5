package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/yyyoichi/studygraph/internal/geom"
	"github.com/yyyoichi/studygraph/internal/graph"
)

// SaveConfiguration inserts or replaces a configuration and its nodes. The
// student centroids of the configuration are dropped, since they were
// computed from the old node coordinates and visibility.
func (d *DB) SaveConfiguration(ctx context.Context, c *graph.Configuration) error {
	nodes := c.Nodes()
	flags := make([]bool, len(nodes))
	for i, n := range nodes {
		flags[i] = n.Visible
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO configurations (owner, config_id, center_x, center_y, scale, node_count, visibility)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (owner, config_id) DO UPDATE SET
				center_x = excluded.center_x,
				center_y = excluded.center_y,
				scale = excluded.scale,
				node_count = excluded.node_count,
				visibility = excluded.visibility`,
			c.Owner, c.ID, c.Center.X, c.Center.Y, c.Scale, len(nodes), packVisibility(flags),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert configuration: %w", err)
		}
		for _, table := range []string{"config_nodes", "geometric_centroids", "decomposed_centroids"} {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM "+table+" WHERE owner = ? AND config_id = ?", c.Owner, c.ID,
			); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		for i, n := range nodes {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO config_nodes (owner, config_id, node_id, ord, kind, x, y)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				c.Owner, c.ID, n.ID, i, string(n.Kind), n.Pos.X, n.Pos.Y,
			); err != nil {
				return fmt.Errorf("failed to insert node %s: %w", n.ID, err)
			}
		}
		return nil
	})
}

// Configuration retrieves a configuration by key
func (d *DB) Configuration(ctx context.Context, key graph.Key) (*graph.Configuration, error) {
	var (
		center geom.Point
		scale  float64
		count  int
		blob   []byte
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT center_x, center_y, scale, node_count, visibility
		FROM configurations WHERE owner = ? AND config_id = ?`,
		key.Owner, key.ID,
	).Scan(&center.X, &center.Y, &scale, &count, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("configuration %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT node_id, kind, x, y FROM config_nodes
		WHERE owner = ? AND config_id = ?
		ORDER BY ord`,
		key.Owner, key.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query configuration nodes: %w", err)
	}
	defer rows.Close()

	flags := unpackVisibility(blob, count)
	var nodes []graph.Node
	for rows.Next() {
		var (
			n    graph.Node
			kind string
		)
		if err := rows.Scan(&n.ID, &kind, &n.Pos.X, &n.Pos.Y); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		n.Kind = graph.Kind(kind)
		if i := len(nodes); i < len(flags) {
			n.Visible = flags[i]
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read configuration nodes: %w", err)
	}
	return graph.Restore(key.Owner, key.ID, center, scale, nodes), nil
}

// ConfigurationKeys lists every stored configuration
func (d *DB) ConfigurationKeys(ctx context.Context) ([]graph.Key, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT owner, config_id FROM configurations ORDER BY owner, config_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list configurations: %w", err)
	}
	defer rows.Close()

	var keys []graph.Key
	for rows.Next() {
		var k graph.Key
		if err := rows.Scan(&k.Owner, &k.ID); err != nil {
			return nil, fmt.Errorf("failed to scan configuration key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Configurations loads every stored configuration
func (d *DB) Configurations(ctx context.Context) ([]*graph.Configuration, error) {
	keys, err := d.ConfigurationKeys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*graph.Configuration, 0, len(keys))
	for _, k := range keys {
		c, err := d.Configuration(ctx, k)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
