package studygraph

import (
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/yyyoichi/studygraph/internal/geom"
	"github.com/yyyoichi/studygraph/internal/metrics"
)

type Option func(*Engine) error

// WithDatabase stores everything in the SQLite database at path.
func WithDatabase(path string) Option {
	return func(e *Engine) error {
		e.dbPath = path
		return nil
	}
}

// WithSeed fixes the random source used for starting centroids, colours and
// regenerated centroids, so runs can be reproduced. Zero seeds from the clock.
func WithSeed(seed int64) Option {
	return func(e *Engine) error {
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		e.seed = seed
		return nil
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) error {
		e.logger = l
		return nil
	}
}

// WithRegisterer exports the engine's counters to reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) error {
		e.metrics = metrics.New(reg)
		return nil
	}
}

func WithClock(c quartz.Clock) Option {
	return func(e *Engine) error {
		e.clock = c
		return nil
	}
}

// WithEpsilon sets the distance below which a centroid counts as unmoved
// while a new run is clustered, in normalized units. Reconciling uses it too
// unless WithReconcileEpsilon is given.
func WithEpsilon(eps float64) Option {
	return func(e *Engine) error {
		if eps <= 0 {
			return fmt.Errorf("epsilon must be positive, got %g", eps)
		}
		e.epsilon = eps
		return nil
	}
}

// WithReconcileEpsilon sets how far a student centroid or a cluster centroid
// may move before a stored run counts as changed.
func WithReconcileEpsilon(eps float64) Option {
	return func(e *Engine) error {
		if eps <= 0 {
			return fmt.Errorf("reconcile epsilon must be positive, got %g", eps)
		}
		e.reconcileEpsilon = eps
		return nil
	}
}

// WithMaxIterations caps the refinement passes of a new run.
func WithMaxIterations(n int) Option {
	return func(e *Engine) error {
		if n < 1 {
			return fmt.Errorf("max iterations must be at least 1, got %d", n)
		}
		e.maxIterations = n
		return nil
	}
}

// WithMaxAttempts caps the passes of one reconcile attempt on a run.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) error {
		if n < 1 {
			return fmt.Errorf("max attempts must be at least 1, got %d", n)
		}
		e.maxAttempts = n
		return nil
	}
}

// WithMinSeparation sets the minimum distance between starting centroids in
// normalized units. By default it is 100 screen units.
func WithMinSeparation(d float64) Option {
	return func(e *Engine) error {
		if d < 0 {
			return fmt.Errorf("min separation must not be negative, got %g", d)
		}
		e.minSeparation = d
		return nil
	}
}

// WithArea sets where starting centroids are placed, in normalized units.
// The default is the square around the unit disk.
func WithArea(r geom.Rect) Option {
	return func(e *Engine) error {
		if r.Dx() < 0 || r.Dy() < 0 {
			return fmt.Errorf("area %v is inverted", r)
		}
		e.area = &r
		return nil
	}
}

// WithMargin keeps a fraction of the placement area free on every edge.
func WithMargin(m float64) Option {
	return func(e *Engine) error {
		if m < 0 || m >= 0.5 {
			return fmt.Errorf("margin must be in [0, 0.5), got %g", m)
		}
		e.margin = m
		return nil
	}
}

// WithWorkers limits how many runs are reconciled at once.
func WithWorkers(n int) Option {
	return func(e *Engine) error {
		if n < 1 {
			return fmt.Errorf("workers must be at least 1, got %d", n)
		}
		e.workers = n
		return nil
	}
}

// WithBatchSize caps the events folded per Aggregate call.
func WithBatchSize(n int) Option {
	return func(e *Engine) error {
		if n < 0 {
			return fmt.Errorf("batch size must not be negative, got %d", n)
		}
		e.batchSize = n
		return nil
	}
}
