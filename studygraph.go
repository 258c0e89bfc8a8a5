// Package studygraph clusters students by where they click on a course
// graph and keeps the clusters current as new clicks arrive.
//
// Every student gets one centroid per graph configuration, either the running
// mean of their visible clicks or the click at the temporal midpoint. Runs of
// Lloyd's k-means over those centroids are stored with their full iteration
// history and reconciled incrementally afterwards.
package studygraph

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/yyyoichi/studygraph/internal/centroid"
	"github.com/yyyoichi/studygraph/internal/geom"
	"github.com/yyyoichi/studygraph/internal/graph"
	"github.com/yyyoichi/studygraph/internal/job"
	"github.com/yyyoichi/studygraph/internal/kmeans"
	"github.com/yyyoichi/studygraph/internal/metrics"
	"github.com/yyyoichi/studygraph/internal/quality"
	"github.com/yyyoichi/studygraph/internal/store"
)

var (
	ErrNoCentroids           = errors.New("no student centroids to cluster")
	ErrConfigurationNotFound = errors.New("configuration not found")
	ErrRunNotFound           = errors.New("run not found")
	ErrNoManualMembership    = errors.New("no manual membership recorded")
	ErrInvalidK              = kmeans.ErrInvalidK
	ErrUnknownStudent        = kmeans.ErrUnknownStudent
	ErrUnknownCluster        = kmeans.ErrUnknownCluster
)

type (
	Point         = geom.Point
	Rect          = geom.Rect
	Variant       = centroid.Variant
	Event         = centroid.Event
	Node          = graph.Node
	Kind          = graph.Kind
	Configuration = graph.Configuration
	ConfigKey     = graph.Key
	RunKey        = store.RunKey
	Report        = quality.Report
	Scores        = quality.Scores

	IngestSummary    = job.IngestSummary
	ReconcileSummary = job.ReconcileSummary
	Summary          = job.Summary
)

const (
	Geometric  = centroid.Geometric
	Decomposed = centroid.Decomposed

	KindModule  = graph.KindModule
	KindSection = graph.KindSection
	KindRoot    = graph.KindRoot

	// FinalIteration addresses the latest converged iteration of a run.
	FinalIteration = store.FinalIteration
)

// NewConfiguration builds a graph configuration from screen coordinates.
func NewConfiguration(owner, id string, nodes []Node) (*Configuration, error) {
	return graph.New(owner, id, nodes)
}

// screenSeparation is the minimum distance between starting centroids in
// screen units, converted with the configuration's scale.
const screenSeparation = 100

type Engine struct {
	db      *store.DB
	job     *job.Job
	logger  *zap.Logger
	metrics *metrics.Metrics
	clock   quartz.Clock

	dbPath        string
	seed          int64
	epsilon       float64
	maxIterations int
	minSeparation float64
	margin        float64
	area          *geom.Rect

	reconcileEpsilon float64
	maxAttempts      int
	workers          int
	batchSize        int

	mu   sync.Mutex
	rand *rand.Rand
}

// New opens the engine's database and prepares the batch job. Without
// WithDatabase the data lives in memory.
func New(opts ...Option) (*Engine, error) {
	e := new(Engine)
	if err := e.init(opts...); err != nil {
		return nil, err
	}
	db, err := store.Open(e.dbPath)
	if err != nil {
		return nil, err
	}
	e.db = db
	e.job = job.New(db,
		job.WithLogger(e.logger.Named("job")),
		job.WithMetrics(e.metrics),
		job.WithWorkers(e.workers),
		job.WithBatchSize(e.batchSize),
		job.WithEpsilon(e.reconcileEpsilon),
		job.WithMaxAttempts(e.maxAttempts),
		job.WithSeed(e.seed),
	)
	return e, nil
}

func (e *Engine) init(opts ...Option) error {
	e.seed = time.Now().UnixNano()
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return err
		}
	}
	if e.dbPath == "" {
		e.dbPath = ":memory:"
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.clock == nil {
		e.clock = quartz.NewReal()
	}
	if e.epsilon == 0 {
		e.epsilon = kmeans.DefaultEpsilon
	}
	if e.reconcileEpsilon == 0 {
		e.reconcileEpsilon = e.epsilon
	}
	if e.maxIterations == 0 {
		e.maxIterations = kmeans.DefaultMaxIterations
	}
	if e.maxAttempts == 0 {
		e.maxAttempts = 100
	}
	if e.workers == 0 {
		e.workers = 4
	}
	e.rand = rand.New(rand.NewSource(e.seed))
	return nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

// AddConfiguration stores a configuration, replacing one with the same key.
// Its student centroids are recomputed from every aggregated event.
func (e *Engine) AddConfiguration(ctx context.Context, c *Configuration) error {
	return e.job.AddConfiguration(ctx, c)
}

func (e *Engine) Configuration(ctx context.Context, key ConfigKey) (*Configuration, error) {
	c, err := e.db.Configuration(ctx, key)
	if err != nil {
		return nil, notFound(err, ErrConfigurationNotFound, key.String())
	}
	return c, nil
}

// Configurations lists the keys of every stored configuration.
func (e *Engine) Configurations(ctx context.Context) ([]ConfigKey, error) {
	return e.db.ConfigurationKeys(ctx)
}

// AddEvents records raw access events. They reach the centroids on the next
// Aggregate.
func (e *Engine) AddEvents(ctx context.Context, events ...Event) ([]Event, error) {
	return e.db.InsertEvents(ctx, events)
}

// Aggregate folds the events recorded since the last call into every
// configuration's student centroids.
func (e *Engine) Aggregate(ctx context.Context) (IngestSummary, error) {
	return e.job.Ingest(ctx)
}

// Centroids returns the current centroid of every student of a
// configuration.
func (e *Engine) Centroids(ctx context.Context, key ConfigKey, v Variant) (map[string]Point, error) {
	return e.db.Centroids(ctx, key, v)
}

// Reconcile brings every run up to date with the current centroids.
func (e *Engine) Reconcile(ctx context.Context) (ReconcileSummary, error) {
	return e.job.Reconcile(ctx)
}

// Pass aggregates pending events and reconciles every run.
func (e *Engine) Pass(ctx context.Context) (Summary, error) {
	return e.job.Run(ctx)
}

// Schedule runs Pass every interval until ctx is done.
func (e *Engine) Schedule(ctx context.Context, interval time.Duration) error {
	return job.NewScheduler(e.job, e.clock, interval).Run(ctx)
}

// SetManual records a hand made membership for one iteration of a run.
func (e *Engine) SetManual(ctx context.Context, key RunKey, iteration int, assign map[string]int) error {
	if err := e.db.SaveManual(ctx, key, iteration, assign); err != nil {
		return notFound(err, ErrRunNotFound, key.String())
	}
	return nil
}

// Quality compares one iteration of a run with the manual membership
// recorded for it.
func (e *Engine) Quality(ctx context.Context, key RunKey, iteration int) (Report, error) {
	snap, err := e.db.Iteration(ctx, key, iteration)
	if err != nil {
		return Report{}, notFound(err, ErrRunNotFound, fmt.Sprintf("%s iteration %d", key, iteration))
	}
	manual, err := e.db.Manual(ctx, key, iteration)
	if err != nil {
		return Report{}, err
	}
	if len(manual) == 0 {
		return Report{}, fmt.Errorf("%w: %s iteration %d", ErrNoManualMembership, key, iteration)
	}
	return quality.Compare(snap.Assign, manual), nil
}

func notFound(err, sentinel error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", sentinel, what)
	}
	return err
}
