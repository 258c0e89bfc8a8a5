package job

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yyyoichi/studygraph/internal/centroid"
	"github.com/yyyoichi/studygraph/internal/geom"
	"github.com/yyyoichi/studygraph/internal/graph"
	"github.com/yyyoichi/studygraph/internal/kmeans"
	"github.com/yyyoichi/studygraph/internal/metrics"
	"github.com/yyyoichi/studygraph/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var base = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

// newStore holds one configuration whose visible modules normalize to m1 at
// (-1,0) and m2 at (1,0). m3 is hidden.
func newStore(t *testing.T) (*store.DB, graph.Key) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "job.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg, err := graph.New("instructor", "default", []graph.Node{
		{ID: "m1", Pos: geom.Point{X: 0, Y: 0}, Visible: true},
		{ID: "m2", Pos: geom.Point{X: 200, Y: 0}, Visible: true},
		{ID: "m3", Pos: geom.Point{X: 100, Y: 0}, Visible: false},
	})
	require.NoError(t, err)
	require.NoError(t, db.SaveConfiguration(context.Background(), cfg))
	return db, cfg.Key
}

func click(student, module string, minute int) centroid.Event {
	return centroid.Event{Student: student, Module: module, Time: base.Add(time.Duration(minute) * time.Minute)}
}

func insert(t *testing.T, db *store.DB, events ...centroid.Event) {
	t.Helper()
	_, err := db.InsertEvents(context.Background(), events)
	require.NoError(t, err)
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	db, key := newStore(t)
	m := metrics.New(prometheus.NewRegistry())
	j := New(db, WithLogger(zaptest.NewLogger(t)), WithMetrics(m))

	insert(t, db,
		click("s1", "m1", 0),
		click("s1", "m2", 1),
		click("s1", "m3", 2),
		click("s2", "m2", 0),
	)
	sum, err := j.Ingest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Events)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 2, sum.Updated)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsSkipped))

	geo, err := db.Centroids(ctx, key, centroid.Geometric)
	require.NoError(t, err)
	assert.Equal(t, map[string]geom.Point{"s1": {X: 0, Y: 0}, "s2": {X: 1, Y: 0}}, geo)
	dec, err := db.Centroids(ctx, key, centroid.Decomposed)
	require.NoError(t, err)
	assert.Equal(t, map[string]geom.Point{"s1": {X: 1, Y: 0}, "s2": {X: 1, Y: 0}}, dec)

	// Nothing new: the cursor stays and nothing is written.
	again, err := j.Ingest(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Events)
	assert.Equal(t, sum.Cursor, again.Cursor)

	// The running sum continues from the stored one and the midpoint uses
	// the whole history.
	insert(t, db, click("s1", "m1", 3), click("s1", "m1", 4))
	_, err = j.Ingest(ctx)
	require.NoError(t, err)
	geo, err = db.Centroids(ctx, key, centroid.Geometric)
	require.NoError(t, err)
	assert.InDelta(t, -0.5, geo["s1"].X, 1e-12)
	dec, err = db.Centroids(ctx, key, centroid.Decomposed)
	require.NoError(t, err)
	assert.Equal(t, geom.Point{X: -1, Y: 0}, dec["s1"])
}

func TestIngestBatchSize(t *testing.T) {
	ctx := context.Background()
	db, _ := newStore(t)
	j := New(db, WithBatchSize(2))
	insert(t, db, click("s1", "m1", 0), click("s1", "m2", 1), click("s2", "m1", 2))

	first, err := j.Ingest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Events)
	second, err := j.Ingest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Events)
	assert.Greater(t, second.Cursor, first.Cursor)
}

func TestAddConfigurationReplaysHistory(t *testing.T) {
	ctx := context.Background()
	db, key := newStore(t)
	j := New(db, WithLogger(zaptest.NewLogger(t)))

	insert(t, db, click("s1", "m1", 0), click("s3", "m3", 1))
	_, err := j.Ingest(ctx)
	require.NoError(t, err)

	// m3 is hidden in the default layout but visible in this one.
	late, err := graph.New("other", "late", []graph.Node{
		{ID: "m1", Pos: geom.Point{X: 0, Y: 0}, Visible: true},
		{ID: "m3", Pos: geom.Point{X: 200, Y: 0}, Visible: true},
	})
	require.NoError(t, err)
	require.NoError(t, j.AddConfiguration(ctx, late))

	geo, err := db.Centroids(ctx, late.Key, centroid.Geometric)
	require.NoError(t, err)
	assert.Equal(t, map[string]geom.Point{"s1": {X: -1, Y: 0}, "s3": {X: 1, Y: 0}}, geo)

	insert(t, db, click("s1", "m3", 2))
	_, err = j.Ingest(ctx)
	require.NoError(t, err)

	geo, err = db.Centroids(ctx, late.Key, centroid.Geometric)
	require.NoError(t, err)
	assert.InDelta(t, 0, geo["s1"].X, 1e-12)
	assert.InDelta(t, 0, geo["s1"].Y, 1e-12)
	assert.Equal(t, geom.Point{X: 1, Y: 0}, geo["s3"])
	dec, err := db.Centroids(ctx, late.Key, centroid.Decomposed)
	require.NoError(t, err)
	assert.Equal(t, map[string]geom.Point{"s1": {X: 1, Y: 0}, "s3": {X: 1, Y: 0}}, dec)

	// Re-importing the default layout with m1 and m2 swapped moves s1 to
	// the new position of m1 in both variants.
	swapped, err := graph.New(key.Owner, key.ID, []graph.Node{
		{ID: "m1", Pos: geom.Point{X: 200, Y: 0}, Visible: true},
		{ID: "m2", Pos: geom.Point{X: 0, Y: 0}, Visible: true},
		{ID: "m3", Pos: geom.Point{X: 100, Y: 0}, Visible: false},
	})
	require.NoError(t, err)
	require.NoError(t, j.AddConfiguration(ctx, swapped))

	geo, err = db.Centroids(ctx, key, centroid.Geometric)
	require.NoError(t, err)
	assert.Equal(t, map[string]geom.Point{"s1": {X: 1, Y: 0}}, geo)
	dec, err = db.Centroids(ctx, key, centroid.Decomposed)
	require.NoError(t, err)
	assert.Equal(t, map[string]geom.Point{"s1": {X: 1, Y: 0}}, dec)

	// Nothing was ingested twice.
	require.NoError(t, j.Rebuild(ctx, late.Key))
	again, err := db.Centroids(ctx, late.Key, centroid.Geometric)
	require.NoError(t, err)
	assert.InDelta(t, 0, again["s1"].X, 1e-12)

	assert.ErrorIs(t, j.Rebuild(ctx, graph.Key{Owner: "nobody", ID: "x"}), store.ErrNotFound)
}

// seedRun ingests two groups of students and stores a converged run over
// them: cluster 0 holds s1 and s2 at (-1,0), cluster 1 holds s3 and s4 at
// (1,0).
func seedRun(t *testing.T, db *store.DB, key graph.Key, j *Job) store.RunKey {
	t.Helper()
	ctx := context.Background()
	insert(t, db,
		click("s1", "m1", 0), click("s2", "m1", 0),
		click("s3", "m2", 0), click("s4", "m2", 0),
	)
	_, err := j.Ingest(ctx)
	require.NoError(t, err)

	points, err := db.Centroids(ctx, key, centroid.Geometric)
	require.NoError(t, err)
	runKey := store.RunKey{Config: key, ID: "run-1"}
	snap := store.Snapshot{
		Iteration: kmeans.Iteration{
			Number:    1,
			Centroids: []geom.Point{{X: -1}, {X: 1}},
			Assign:    map[string]int{"s1": 0, "s2": 0, "s3": 1, "s4": 1},
		},
		Points: points,
	}
	require.NoError(t, db.CreateRun(ctx, store.Run{
		RunKey:    runKey,
		K:         2,
		Variant:   centroid.Geometric,
		Converged: true,
		CreatedAt: base,
	}, []store.Snapshot{snap}))
	return runKey
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	db, key := newStore(t)
	m := metrics.New(prometheus.NewRegistry())
	j := New(db, WithLogger(zaptest.NewLogger(t)), WithMetrics(m))
	runKey := seedRun(t, db, key, j)

	sum, err := j.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Outcomes[OutcomeUnchanged])

	// s2 moves to (1/3, 0), closer to cluster 1.
	insert(t, db, click("s2", "m2", 1), click("s2", "m2", 2))
	_, err = j.Ingest(ctx)
	require.NoError(t, err)

	sum, err = j.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Runs)
	assert.Equal(t, 1, sum.Outcomes[OutcomeConverged])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues(OutcomeConverged)))

	latest, err := db.Latest(ctx, runKey)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Number)
	assert.Equal(t, 1, latest.Assign["s2"])
	assert.Equal(t, geom.Point{X: -1}, latest.Centroids[0])
	assert.InDelta(t, 7.0/9.0, latest.Centroids[1].X, 1e-9)

	final, err := db.Iteration(ctx, runKey, store.FinalIteration)
	require.NoError(t, err)
	assert.Equal(t, latest.Assign, final.Assign)

	// A second pass finds nothing to do.
	sum, err = j.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Outcomes[OutcomeUnchanged])
	numbers, err := db.IterationNumbers(ctx, runKey)
	require.NoError(t, err)
	assert.Equal(t, []int{-1, 1, 2}, numbers)
}

func TestReconcileCollectsFailures(t *testing.T) {
	ctx := context.Background()
	db, key := newStore(t)
	j := New(db, WithWorkers(2))
	seedRun(t, db, key, j)

	// A run without iterations cannot be reconciled.
	broken := store.RunKey{Config: key, ID: "run-broken"}
	require.NoError(t, db.CreateRun(ctx, store.Run{RunKey: broken, K: 2, CreatedAt: base}, nil))

	sum, err := j.Reconcile(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorContains(t, err, "run-broken")
	assert.Equal(t, 2, sum.Runs)
	assert.Equal(t, 1, sum.Outcomes[OutcomeFailed])
	assert.Equal(t, 1, sum.Outcomes[OutcomeUnchanged])
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	db, key := newStore(t)
	core, logs := observer.New(zapcore.InfoLevel)
	j := New(db, WithLogger(zap.New(core)))
	seedRun(t, db, key, j)

	insert(t, db, click("s2", "m2", 1), click("s2", "m2", 2))
	sum, err := j.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Ingest.Events)
	assert.Equal(t, 1, sum.Reconcile.Outcomes[OutcomeConverged])

	entries := logs.FilterMessage("pass finished").All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, 2, entries[0].ContextMap()["events"])
}

func TestScheduler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, _ := newStore(t)
	core, logs := observer.New(zapcore.InfoLevel)
	clk := quartz.NewMock(t)
	trap := clk.Trap().TickerFunc("scheduler")
	defer trap.Close()

	s := NewScheduler(New(db, WithLogger(zap.New(core))), clk, time.Minute)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	trap.MustWait(ctx).MustRelease(ctx)

	clk.Advance(time.Minute).MustWait(ctx)
	insert(t, db, click("s1", "m1", 0))
	clk.Advance(time.Minute).MustWait(ctx)

	entries := logs.FilterMessage("pass finished").All()
	require.Len(t, entries, 2)
	assert.EqualValues(t, 0, entries[0].ContextMap()["events"])
	assert.EqualValues(t, 1, entries[1].ContextMap()["events"])

	cancel()
	require.NoError(t, <-done)
}
