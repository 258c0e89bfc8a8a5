package store

const schema = `
-- Graph configurations, one per owner layout
CREATE TABLE IF NOT EXISTS configurations (
    owner TEXT NOT NULL,
    config_id TEXT NOT NULL,
    center_x REAL NOT NULL,
    center_y REAL NOT NULL,
    scale REAL NOT NULL,
    node_count INTEGER NOT NULL,
    -- one bit per node in ord order
    visibility BLOB NOT NULL,
    PRIMARY KEY (owner, config_id)
);

-- Normalized node coordinates
CREATE TABLE IF NOT EXISTS config_nodes (
    owner TEXT NOT NULL,
    config_id TEXT NOT NULL,
    node_id TEXT NOT NULL,
    ord INTEGER NOT NULL,
    kind TEXT NOT NULL,
    x REAL NOT NULL,
    y REAL NOT NULL,
    PRIMARY KEY (owner, config_id, node_id),
    FOREIGN KEY (owner, config_id) REFERENCES configurations(owner, config_id) ON DELETE CASCADE
);

-- Raw access log
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    student_id TEXT NOT NULL,
    module_id TEXT NOT NULL,
    ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS events_student ON events(student_id, ts, id);

-- Last event folded into centroids
CREATE TABLE IF NOT EXISTS cursors (
    name TEXT PRIMARY KEY,
    event_id INTEGER NOT NULL
);

-- Running sums for geometric centroids
CREATE TABLE IF NOT EXISTS geometric_centroids (
    owner TEXT NOT NULL,
    config_id TEXT NOT NULL,
    student_id TEXT NOT NULL,
    sum_x REAL NOT NULL,
    sum_y REAL NOT NULL,
    sample_count INTEGER NOT NULL,
    PRIMARY KEY (owner, config_id, student_id)
);

-- Temporal midpoint centroids
CREATE TABLE IF NOT EXISTS decomposed_centroids (
    owner TEXT NOT NULL,
    config_id TEXT NOT NULL,
    student_id TEXT NOT NULL,
    x REAL NOT NULL,
    y REAL NOT NULL,
    PRIMARY KEY (owner, config_id, student_id)
);

-- Clustering runs
CREATE TABLE IF NOT EXISTS runs (
    owner TEXT NOT NULL,
    config_id TEXT NOT NULL,
    run_id TEXT NOT NULL,
    k INTEGER NOT NULL,
    geometric INTEGER NOT NULL,
    converged INTEGER NOT NULL,
    colors TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (owner, config_id, run_id)
);

CREATE TABLE IF NOT EXISTS clusters (
    owner TEXT NOT NULL,
    config_id TEXT NOT NULL,
    run_id TEXT NOT NULL,
    iteration INTEGER NOT NULL,
    cluster_number INTEGER NOT NULL,
    x REAL NOT NULL,
    y REAL NOT NULL,
    geometric INTEGER NOT NULL,
    regenerated INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (owner, config_id, run_id, iteration, cluster_number),
    FOREIGN KEY (owner, config_id, run_id) REFERENCES runs(owner, config_id, run_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS members (
    owner TEXT NOT NULL,
    config_id TEXT NOT NULL,
    run_id TEXT NOT NULL,
    iteration INTEGER NOT NULL,
    student_id TEXT NOT NULL,
    cluster_number INTEGER NOT NULL,
    x REAL NOT NULL,
    y REAL NOT NULL,
    PRIMARY KEY (owner, config_id, run_id, iteration, student_id),
    FOREIGN KEY (owner, config_id, run_id) REFERENCES runs(owner, config_id, run_id) ON DELETE CASCADE
);

-- Manually reassigned students, kept in place from iteration since on
CREATE TABLE IF NOT EXISTS pins (
    owner TEXT NOT NULL,
    config_id TEXT NOT NULL,
    run_id TEXT NOT NULL,
    student_id TEXT NOT NULL,
    cluster_number INTEGER NOT NULL,
    since INTEGER NOT NULL,
    PRIMARY KEY (owner, config_id, run_id, student_id),
    FOREIGN KEY (owner, config_id, run_id) REFERENCES runs(owner, config_id, run_id) ON DELETE CASCADE
);

-- Human made membership used for quality measures only
CREATE TABLE IF NOT EXISTS manual_members (
    owner TEXT NOT NULL,
    config_id TEXT NOT NULL,
    run_id TEXT NOT NULL,
    iteration INTEGER NOT NULL,
    student_id TEXT NOT NULL,
    cluster_number INTEGER NOT NULL,
    PRIMARY KEY (owner, config_id, run_id, iteration, student_id),
    FOREIGN KEY (owner, config_id, run_id) REFERENCES runs(owner, config_id, run_id) ON DELETE CASCADE
);
`
