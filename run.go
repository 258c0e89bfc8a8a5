package studygraph

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yyyoichi/studygraph/internal/geom"
	"github.com/yyyoichi/studygraph/internal/kmeans"
	"github.com/yyyoichi/studygraph/internal/store"
)

// Cluster is one cluster of a run iteration.
type Cluster struct {
	Number   int
	Centroid Point
	Color    string
	Members  []string
}

// Run is a clustering run as of one of its iterations.
type Run struct {
	Key       RunKey
	K         int
	Variant   Variant
	Converged bool
	CreatedAt time.Time
	// Iteration is the number of the iteration Clusters describe.
	Iteration int
	Clusters  []Cluster
}

// Cluster runs k-means over the current centroids of a configuration and
// stores the run with every iteration.
//
// Starting centroids are placed at random, at least the minimum separation
// apart, inside the placement area. The run refines them until the summed
// centroid movement drops to epsilon; clusters that lose all members get a
// regenerated centroid. k is reduced to the number of distinct centroids.
func (e *Engine) Cluster(ctx context.Context, key ConfigKey, k int, v Variant) (*Run, error) {
	if k < 2 {
		return nil, ErrInvalidK
	}
	cfg, err := e.Configuration(ctx, key)
	if err != nil {
		return nil, err
	}
	points, err := e.db.Centroids(ctx, key, v)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, ErrNoCentroids
	}

	runKey := RunKey{Config: key, ID: uuid.NewString()}
	log := e.logger.With(
		zap.String("owner", key.Owner),
		zap.String("configuration", key.ID),
		zap.String("run", runKey.ID),
	)
	area := geom.Rect{Min: geom.Point{X: -1, Y: -1}, Max: geom.Point{X: 1, Y: 1}}
	if e.area != nil {
		area = *e.area
	}
	sep := e.minSeparation
	if sep == 0 && cfg.Scale > 0 {
		sep = screenSeparation / cfg.Scale
	}

	e.mu.Lock()
	res, err := kmeans.Run(points, kmeans.Config{
		K:             k,
		Epsilon:       e.epsilon,
		MaxIterations: e.maxIterations,
		MinSeparation: sep,
		Margin:        e.margin,
		Area:          &area,
		Rand:          e.rand,
		OnRegenerate: func(iteration, cluster int) {
			log.Warn("regenerated empty cluster",
				zap.Int("iteration", iteration),
				zap.Int("cluster", cluster),
				zap.Int("k", k),
			)
		},
	})
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	snaps := make([]store.Snapshot, len(res.Iterations))
	var regenerated int
	for i, it := range res.Iterations {
		snaps[i] = store.Snapshot{Iteration: it, Points: points}
		regenerated += len(it.Regenerated)
	}
	e.metrics.AddIterations("cluster", len(res.Iterations)-1)
	e.metrics.AddRegenerations("cluster", regenerated)
	if !res.Converged {
		log.Warn("clustering did not converge", zap.Int("iterations", e.maxIterations))
	}

	run := store.Run{
		RunKey:    runKey,
		K:         res.K,
		Variant:   v,
		Converged: res.Converged,
		Colors:    res.Colors,
		CreatedAt: e.clock.Now().UTC(),
	}
	if err := e.db.CreateRun(ctx, run, snaps); err != nil {
		return nil, err
	}
	log.Info("clustered",
		zap.Int("k", res.K),
		zap.Int("students", len(points)),
		zap.Int("iterations", len(res.Iterations)-1),
		zap.Bool("converged", res.Converged),
	)
	return view(run, snaps[len(snaps)-1]), nil
}

// Run returns a run as of its highest numbered iteration.
func (e *Engine) Run(ctx context.Context, key RunKey) (*Run, error) {
	run, err := e.db.Run(ctx, key)
	if err != nil {
		return nil, notFound(err, ErrRunNotFound, key.String())
	}
	snap, err := e.db.Latest(ctx, key)
	if err != nil {
		return nil, notFound(err, ErrRunNotFound, key.String())
	}
	return view(run, snap), nil
}

// Iteration returns a run as of iteration n. FinalIteration addresses the
// latest converged one.
func (e *Engine) Iteration(ctx context.Context, key RunKey, n int) (*Run, error) {
	run, err := e.db.Run(ctx, key)
	if err != nil {
		return nil, notFound(err, ErrRunNotFound, key.String())
	}
	snap, err := e.db.Iteration(ctx, key, n)
	if err != nil {
		return nil, notFound(err, ErrRunNotFound, key.String())
	}
	return view(run, snap), nil
}

// Iterations lists the stored iteration numbers of a run.
func (e *Engine) Iterations(ctx context.Context, key RunKey) ([]int, error) {
	if _, err := e.db.Run(ctx, key); err != nil {
		return nil, notFound(err, ErrRunNotFound, key.String())
	}
	return e.db.IterationNumbers(ctx, key)
}

// Runs lists every run as of its highest numbered iteration.
func (e *Engine) Runs(ctx context.Context) ([]*Run, error) {
	runs, err := e.db.Runs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Run, 0, len(runs))
	for _, run := range runs {
		snap, err := e.db.Latest(ctx, run.RunKey)
		if err != nil {
			return nil, err
		}
		out = append(out, view(run, snap))
	}
	return out, nil
}

// Reassign moves a student into another cluster by hand. The result is
// recorded as a new iteration, the student stays pinned to the cluster in
// later iterations and the run is reconciled again on the next pass.
func (e *Engine) Reassign(ctx context.Context, key RunKey, student string, cluster int) (*Run, error) {
	run, err := e.db.Run(ctx, key)
	if err != nil {
		return nil, notFound(err, ErrRunNotFound, key.String())
	}
	snap, err := e.db.Latest(ctx, key)
	if err != nil {
		return nil, notFound(err, ErrRunNotFound, key.String())
	}
	bounds, ok, err := e.db.Bounds(ctx, key.Config, run.Variant)
	if err != nil {
		return nil, err
	}
	if !ok {
		bounds, _ = geom.Bounds(slices.Collect(maps.Values(snap.Points)))
	}

	e.mu.Lock()
	it, pin, err := kmeans.Reassign(snap.Points, snap.Iteration, student, cluster, bounds, e.rand)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	next := store.Snapshot{Iteration: it, Points: snap.Points}
	if err := e.db.AppendReassignment(ctx, key, next, student, pin); err != nil {
		return nil, err
	}
	e.logger.Info("reassigned student",
		zap.String("run", key.String()),
		zap.String("student", student),
		zap.Int("cluster", cluster),
		zap.Int("iteration", it.Number),
	)
	run.Converged = false
	return view(run, next), nil
}

func view(run store.Run, snap store.Snapshot) *Run {
	out := &Run{
		Key:       run.RunKey,
		K:         run.K,
		Variant:   run.Variant,
		Converged: run.Converged,
		CreatedAt: run.CreatedAt,
		Iteration: snap.Number,
		Clusters:  make([]Cluster, len(snap.Centroids)),
	}
	for c, p := range snap.Centroids {
		out.Clusters[c] = Cluster{Number: c, Centroid: p, Members: snap.Members(c)}
		if c < len(run.Colors) {
			out.Clusters[c].Color = run.Colors[c]
		}
	}
	return out
}
