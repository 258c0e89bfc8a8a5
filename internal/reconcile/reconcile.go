package reconcile

import (
	"maps"
	"math/rand"
	"slices"

	"go.uber.org/zap"

	"github.com/yyyoichi/studygraph/internal/geom"
	"github.com/yyyoichi/studygraph/internal/kmeans"
	"github.com/yyyoichi/studygraph/internal/metrics"
)

const (
	DefaultEpsilon     = 1e-6
	DefaultMaxAttempts = 100

	phase = "reconcile"
)

// State is the latest recorded iteration of a run.
type State struct {
	kmeans.Iteration
	// Points are the member coordinates snapshotted with the iteration.
	Points    map[string]geom.Point
	Converged bool
}

type Input struct {
	// Run labels log lines.
	Run   string
	State State
	// Current holds the students' present centroids. Members missing here
	// keep their snapshotted coordinate.
	Current map[string]geom.Point
	// Bounds limits regenerated centroids. Nil uses the bounding box of the
	// run's points.
	Bounds *geom.Rect
	Pins   map[string]kmeans.Pin
}

// Step is an appended iteration with the coordinates it was computed from.
type Step struct {
	kmeans.Iteration
	Points map[string]geom.Point
}

type Outcome struct {
	Steps     []Step
	Converged bool
	// Capped is set when MaxAttempts passes ran without converging. Steps
	// then holds everything computed so far and the run is resumed by the
	// next reconcile pass.
	Capped bool
}

// Last returns the newest state after the outcome was applied to in.
func (o Outcome) Last(in State) State {
	if len(o.Steps) == 0 {
		in.Converged = in.Converged || o.Converged
		return in
	}
	s := o.Steps[len(o.Steps)-1]
	return State{Iteration: s.Iteration, Points: s.Points, Converged: o.Converged}
}

type Option func(*Reconciler)

func WithEpsilon(eps float64) Option {
	return func(r *Reconciler) {
		if eps > 0 {
			r.epsilon = eps
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// Reconciler brings a converged run up to date with moved student
// centroids without restarting it.
type Reconciler struct {
	epsilon     float64
	maxAttempts int
	rand        *rand.Rand
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

func New(rd *rand.Rand, opts ...Option) *Reconciler {
	r := &Reconciler{
		epsilon:     DefaultEpsilon,
		maxAttempts: DefaultMaxAttempts,
		rand:        rd,
		logger:      zap.NewNop(),
	}
	if r.rand == nil {
		r.rand = rand.New(rand.NewSource(1))
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Changed reports whether reconciling in can produce anything: the run is
// not converged yet or a member's centroid moved away from its snapshot.
func (r *Reconciler) Changed(in Input) bool {
	if !in.State.Converged {
		return true
	}
	for s := range in.State.Assign {
		cur, ok := in.Current[s]
		if !ok {
			continue
		}
		if !geom.Near(cur, in.State.Points[s], r.epsilon) {
			return true
		}
	}
	return false
}

// Reconcile reassigns the run's members with their current centroids and
// iterates until the cluster centroids stop moving. Every pass that changes
// anything is returned as a Step; a pass that changes nothing ends the loop.
func (r *Reconciler) Reconcile(in Input) Outcome {
	log := r.logger.With(zap.String("run", in.Run))
	if !r.Changed(in) {
		return Outcome{Converged: true}
	}

	points := make(map[string]geom.Point, len(in.State.Assign))
	for s := range in.State.Assign {
		if p, ok := in.Current[s]; ok {
			points[s] = p
		} else {
			points[s] = in.State.Points[s]
		}
	}
	ids := slices.Sorted(maps.Keys(points))
	bounds := boundsOf(points)
	if in.Bounds != nil {
		bounds = *in.Bounds
	}
	k := len(in.State.Centroids)

	var (
		out = Outcome{}
		cur = in.State
	)
	for range r.maxAttempts {
		n := cur.Number + 1
		assign := kmeans.Assign(points, ids, cur.Centroids, in.Pins, n)
		next, regen := kmeans.Update(points, assign, k, bounds, r.rand)
		for _, c := range regen {
			log.Warn("regenerated empty cluster",
				zap.Int("iteration", n),
				zap.Int("cluster", c),
				zap.Int("k", k),
			)
		}
		r.metrics.AddRegenerations(phase, len(regen))

		if len(regen) == 0 && r.stable(cur, assign, next, points) {
			out.Converged = true
			break
		}
		step := Step{
			Iteration: kmeans.Iteration{
				Number:      n,
				Centroids:   next,
				Assign:      assign,
				Regenerated: regen,
				Movement:    kmeans.Movement(cur.Centroids, next),
			},
			Points: maps.Clone(points),
		}
		out.Steps = append(out.Steps, step)
		cur = State{Iteration: step.Iteration, Points: step.Points}
	}
	r.metrics.AddIterations(phase, len(out.Steps))
	if !out.Converged {
		out.Capped = true
		r.metrics.CapHit()
		log.Error("reconcile iteration cap exceeded",
			zap.Int("attempts", r.maxAttempts),
			zap.Int("last_iteration", cur.Number),
		)
	}
	return out
}

func (r *Reconciler) stable(cur State, assign map[string]int, next []geom.Point, points map[string]geom.Point) bool {
	if !maps.Equal(cur.Assign, assign) {
		return false
	}
	if len(cur.Centroids) != len(next) {
		return false
	}
	for c := range next {
		if !geom.Near(cur.Centroids[c], next[c], r.epsilon) {
			return false
		}
	}
	for s, p := range points {
		if !geom.Near(cur.Points[s], p, r.epsilon) {
			return false
		}
	}
	return true
}

func boundsOf(points map[string]geom.Point) geom.Rect {
	r, _ := geom.Bounds(slices.Collect(maps.Values(points)))
	return r
}
