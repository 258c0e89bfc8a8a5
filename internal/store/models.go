package store

import (
	"time"

	"github.com/yyyoichi/studygraph/internal/centroid"
	"github.com/yyyoichi/studygraph/internal/geom"
	"github.com/yyyoichi/studygraph/internal/graph"
	"github.com/yyyoichi/studygraph/internal/kmeans"
)

// FinalIteration marks the copy of a run's latest converged iteration.
const FinalIteration = -1

type (
	// RunKey identifies a clustering run under its configuration
	RunKey struct {
		Config graph.Key
		ID     string // UUID
	}

	// Run is the header of a clustering run
	Run struct {
		RunKey
		K         int
		Variant   centroid.Variant
		Converged bool
		Colors    []string // One per cluster number
		CreatedAt time.Time
	}

	// Snapshot is one stored iteration with the member coordinates it was
	// computed from
	Snapshot struct {
		kmeans.Iteration
		Points map[string]geom.Point
	}

	// Sum is a persisted geometric running sum
	Sum struct {
		X, Y  float64
		Count int
	}
)

func (k RunKey) String() string { return k.Config.String() + "/" + k.ID }
