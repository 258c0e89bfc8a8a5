package job

import (
	"context"
	"fmt"
	"hash/fnv"
	"maps"
	"math/rand"
	"slices"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yyyoichi/studygraph/internal/centroid"
	"github.com/yyyoichi/studygraph/internal/geom"
	"github.com/yyyoichi/studygraph/internal/graph"
	"github.com/yyyoichi/studygraph/internal/kmeans"
	"github.com/yyyoichi/studygraph/internal/metrics"
	"github.com/yyyoichi/studygraph/internal/reconcile"
	"github.com/yyyoichi/studygraph/internal/store"
)

// Store is the persistence the job reads from and writes to.
type Store interface {
	SaveConfiguration(ctx context.Context, c *graph.Configuration) error
	Configuration(ctx context.Context, key graph.Key) (*graph.Configuration, error)
	Configurations(ctx context.Context) ([]*graph.Configuration, error)
	Cursor(ctx context.Context) (int64, error)
	EventsAfter(ctx context.Context, after int64, limit int) ([]centroid.Event, error)
	EventsUpTo(ctx context.Context, upTo int64) ([]centroid.Event, error)
	History(ctx context.Context, student string, upTo int64) ([]centroid.Event, error)
	GeometricSums(ctx context.Context, key graph.Key) (map[string]store.Sum, error)
	CommitIngest(ctx context.Context, in store.Ingest) error
	ReplaceCentroids(ctx context.Context, key graph.Key, geometric map[string]store.Sum, decomposed map[string]geom.Point) error

	Runs(ctx context.Context) ([]store.Run, error)
	Latest(ctx context.Context, key store.RunKey) (store.Snapshot, error)
	Centroids(ctx context.Context, key graph.Key, v centroid.Variant) (map[string]geom.Point, error)
	Bounds(ctx context.Context, key graph.Key, v centroid.Variant) (geom.Rect, bool, error)
	Pins(ctx context.Context, key store.RunKey) (map[string]kmeans.Pin, error)
	AppendIterations(ctx context.Context, key store.RunKey, snaps []store.Snapshot, converged bool) error
}

const (
	OutcomeConverged = "converged"
	OutcomeUnchanged = "unchanged"
	OutcomeCapped    = "capped"
	OutcomeFailed    = "failed"
)

type IngestSummary struct {
	Events int
	// Skipped counts (event, configuration) pairs that hit no visible module.
	Skipped int
	Updated int
	Cursor  int64
}

type ReconcileSummary struct {
	Runs     int
	Outcomes map[string]int
}

type Summary struct {
	Ingest    IngestSummary
	Reconcile ReconcileSummary
}

type Option func(*Job)

func WithLogger(l *zap.Logger) Option {
	return func(j *Job) {
		if l != nil {
			j.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(j *Job) { j.metrics = m }
}

// WithWorkers limits how many runs are reconciled at once.
func WithWorkers(n int) Option {
	return func(j *Job) {
		if n > 0 {
			j.workers = n
		}
	}
}

// WithBatchSize caps the events folded per pass. Zero takes all of them.
func WithBatchSize(n int) Option {
	return func(j *Job) { j.batchSize = max(n, 0) }
}

func WithEpsilon(eps float64) Option {
	return func(j *Job) { j.epsilon = eps }
}

func WithMaxAttempts(n int) Option {
	return func(j *Job) { j.maxAttempts = n }
}

// WithSeed makes regenerated centroids reproducible. Every run draws from its
// own source derived from the seed and the run id.
func WithSeed(seed int64) Option {
	return func(j *Job) { j.seed = seed }
}

// Job folds new access events into student centroids and brings every
// clustering run up to date with them.
type Job struct {
	store       Store
	logger      *zap.Logger
	metrics     *metrics.Metrics
	workers     int
	batchSize   int
	epsilon     float64
	maxAttempts int
	seed        int64

	// ingest serializes everything that reads or writes centroids against
	// the cursor.
	ingest sync.Mutex
}

func New(s Store, opts ...Option) *Job {
	j := &Job{
		store:       s,
		logger:      zap.NewNop(),
		workers:     4,
		epsilon:     reconcile.DefaultEpsilon,
		maxAttempts: reconcile.DefaultMaxAttempts,
		seed:        1,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run ingests pending events and reconciles every run. Reconciliation still
// runs when ingestion fails, so runs left unconverged by an earlier pass make
// progress.
func (j *Job) Run(ctx context.Context) (Summary, error) {
	var (
		sum  Summary
		errs *multierror.Error
		err  error
	)
	sum.Ingest, err = j.Ingest(ctx)
	errs = multierror.Append(errs, err)
	sum.Reconcile, err = j.Reconcile(ctx)
	errs = multierror.Append(errs, err)

	j.logger.Info("pass finished",
		zap.Int("events", sum.Ingest.Events),
		zap.Int("skipped", sum.Ingest.Skipped),
		zap.Int("centroids_updated", sum.Ingest.Updated),
		zap.Int("runs", sum.Reconcile.Runs),
		zap.Int("converged", sum.Reconcile.Outcomes[OutcomeConverged]),
		zap.Int("unchanged", sum.Reconcile.Outcomes[OutcomeUnchanged]),
		zap.Int("capped", sum.Reconcile.Outcomes[OutcomeCapped]),
		zap.Int("failed", sum.Reconcile.Outcomes[OutcomeFailed]),
	)
	return sum, errs.ErrorOrNil()
}

// Ingest folds the events recorded after the cursor into the geometric and
// decomposed centroids of every configuration and moves the cursor.
func (j *Job) Ingest(ctx context.Context) (IngestSummary, error) {
	j.ingest.Lock()
	defer j.ingest.Unlock()

	cursor, err := j.store.Cursor(ctx)
	if err != nil {
		return IngestSummary{}, err
	}
	events, err := j.store.EventsAfter(ctx, cursor, j.batchSize)
	if err != nil {
		return IngestSummary{}, err
	}
	sum := IngestSummary{Cursor: cursor}
	if len(events) == 0 {
		return sum, nil
	}
	configs, err := j.store.Configurations(ctx)
	if err != nil {
		return sum, err
	}

	agg := centroid.NewAggregator(configs...)
	students := make(map[string]struct{})
	for _, ev := range events {
		students[ev.Student] = struct{}{}
	}
	ids := slices.Sorted(maps.Keys(students))
	for _, cfg := range configs {
		sums, err := j.store.GeometricSums(ctx, cfg.Key)
		if err != nil {
			return sum, err
		}
		for _, s := range ids {
			if v, ok := sums[s]; ok {
				agg.Seed(centroid.Key{Config: cfg.Key, Student: s}, v.X, v.Y, v.Count)
			}
		}
	}
	for _, s := range ids {
		history, err := j.store.History(ctx, s, cursor)
		if err != nil {
			return sum, err
		}
		agg.SeedHistory(s, history)
	}

	upd := agg.Add(events...)
	in := store.Ingest{
		Cursor:     events[len(events)-1].ID,
		Geometric:  make(map[centroid.Key]store.Sum, len(upd.Changed)),
		Decomposed: make(map[centroid.Key]geom.Point),
	}
	for _, key := range upd.Changed {
		acc, _ := agg.Accumulator(key)
		x, y := acc.Sum()
		in.Geometric[key] = store.Sum{X: x, Y: y, Count: acc.Count()}
		if c, ok := agg.Decomposed(key); ok {
			in.Decomposed[key] = c.Point
		}
	}
	if err := j.store.CommitIngest(ctx, in); err != nil {
		return sum, err
	}

	sum.Events = len(events)
	sum.Skipped = upd.Skipped
	sum.Updated = len(upd.Changed)
	sum.Cursor = in.Cursor
	j.metrics.Skipped(upd.Skipped)
	if upd.Skipped > 0 {
		j.logger.Debug("skipped events without a visible module",
			zap.Int("skipped", upd.Skipped),
			zap.Int("events", len(events)),
			zap.Int("configurations", len(configs)),
		)
	}
	return sum, nil
}

// AddConfiguration stores c and rebuilds its student centroids from every
// event already ingested, so a configuration added or changed late still
// covers the earlier clicks.
func (j *Job) AddConfiguration(ctx context.Context, c *graph.Configuration) error {
	j.ingest.Lock()
	defer j.ingest.Unlock()

	if err := j.store.SaveConfiguration(ctx, c); err != nil {
		return err
	}
	return j.rebuild(ctx, c)
}

// Rebuild recomputes the student centroids of one stored configuration by
// replaying every ingested event.
func (j *Job) Rebuild(ctx context.Context, key graph.Key) error {
	j.ingest.Lock()
	defer j.ingest.Unlock()

	c, err := j.store.Configuration(ctx, key)
	if err != nil {
		return err
	}
	return j.rebuild(ctx, c)
}

func (j *Job) rebuild(ctx context.Context, c *graph.Configuration) error {
	cursor, err := j.store.Cursor(ctx)
	if err != nil {
		return err
	}
	events, err := j.store.EventsUpTo(ctx, cursor)
	if err != nil {
		return err
	}
	agg := centroid.NewAggregator(c)
	upd := agg.Add(events...)

	geometric := make(map[string]store.Sum, len(upd.Changed))
	decomposed := make(map[string]geom.Point, len(upd.Changed))
	for _, key := range upd.Changed {
		acc, _ := agg.Accumulator(key)
		x, y := acc.Sum()
		geometric[key.Student] = store.Sum{X: x, Y: y, Count: acc.Count()}
		if d, ok := agg.Decomposed(key); ok {
			decomposed[key.Student] = d.Point
		}
	}
	if err := j.store.ReplaceCentroids(ctx, c.Key, geometric, decomposed); err != nil {
		return err
	}
	j.logger.Debug("rebuilt centroids",
		zap.String("owner", c.Owner),
		zap.String("configuration", c.ID),
		zap.Int("events", len(events)),
		zap.Int("students", len(geometric)),
	)
	return nil
}

// Reconcile brings every stored run up to date with the current centroids.
// Runs are handled in parallel; a failing run does not stop the others and
// all failures are returned together.
func (j *Job) Reconcile(ctx context.Context) (ReconcileSummary, error) {
	runs, err := j.store.Runs(ctx)
	if err != nil {
		return ReconcileSummary{}, err
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs *multierror.Error
		sum  = ReconcileSummary{Runs: len(runs), Outcomes: make(map[string]int)}
	)
	g.SetLimit(j.workers)
	for _, run := range runs {
		g.Go(func() error {
			outcome, err := j.reconcileRun(ctx, run)
			if err != nil {
				outcome = OutcomeFailed
				j.logger.Error("failed to reconcile run",
					zap.String("run", run.String()),
					zap.Error(err),
				)
			}
			j.metrics.Run(outcome)

			mu.Lock()
			defer mu.Unlock()
			sum.Outcomes[outcome]++
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("run %s: %w", run, err))
			}
			return nil
		})
	}
	g.Wait()
	return sum, errs.ErrorOrNil()
}

func (j *Job) reconcileRun(ctx context.Context, run store.Run) (string, error) {
	snap, err := j.store.Latest(ctx, run.RunKey)
	if err != nil {
		return "", err
	}
	current, err := j.store.Centroids(ctx, run.Config, run.Variant)
	if err != nil {
		return "", err
	}
	pins, err := j.store.Pins(ctx, run.RunKey)
	if err != nil {
		return "", err
	}
	in := reconcile.Input{
		Run: run.ID,
		State: reconcile.State{
			Iteration: snap.Iteration,
			Points:    snap.Points,
			Converged: run.Converged,
		},
		Current: current,
		Pins:    pins,
	}
	if bounds, ok, err := j.store.Bounds(ctx, run.Config, run.Variant); err != nil {
		return "", err
	} else if ok {
		in.Bounds = &bounds
	}

	r := reconcile.New(j.rand(run.RunKey),
		reconcile.WithEpsilon(j.epsilon),
		reconcile.WithMaxAttempts(j.maxAttempts),
		reconcile.WithMetrics(j.metrics),
		reconcile.WithLogger(j.logger.With(
			zap.String("owner", run.Config.Owner),
			zap.String("configuration", run.Config.ID),
		)),
	)
	if !r.Changed(in) {
		return OutcomeUnchanged, nil
	}
	out := r.Reconcile(in)

	snaps := make([]store.Snapshot, len(out.Steps))
	for i, step := range out.Steps {
		snaps[i] = store.Snapshot{Iteration: step.Iteration, Points: step.Points}
	}
	if err := j.store.AppendIterations(ctx, run.RunKey, snaps, out.Converged); err != nil {
		return "", err
	}
	if out.Capped {
		return OutcomeCapped, nil
	}
	return OutcomeConverged, nil
}

func (j *Job) rand(key store.RunKey) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(key.String()))
	return rand.New(rand.NewSource(j.seed ^ int64(h.Sum64())))
}
