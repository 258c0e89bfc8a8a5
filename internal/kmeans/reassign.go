package kmeans

import (
	"errors"
	"maps"
	"math/rand"

	"github.com/yyyoichi/studygraph/internal/geom"
)

var (
	ErrUnknownStudent = errors.New("student is not a member of the run")
	ErrUnknownCluster = errors.New("cluster does not exist in the run")
)

// Reassign moves student into cluster by hand and recomputes every centroid
// from the resulting membership. The returned iteration follows last and the
// pin keeps the student in place from that iteration on.
func Reassign(points map[string]geom.Point, last Iteration, student string, cluster int, bounds geom.Rect, rd *rand.Rand) (Iteration, Pin, error) {
	if _, ok := last.Assign[student]; !ok {
		return Iteration{}, Pin{}, ErrUnknownStudent
	}
	k := len(last.Centroids)
	if cluster < 0 || cluster >= k {
		return Iteration{}, Pin{}, ErrUnknownCluster
	}
	assign := maps.Clone(last.Assign)
	assign[student] = cluster

	centroids, regen := Update(points, assign, k, bounds, rd)
	it := Iteration{
		Number:      last.Number + 1,
		Centroids:   centroids,
		Assign:      assign,
		Regenerated: regen,
		Movement:    Movement(last.Centroids, centroids),
	}
	return it, Pin{Cluster: cluster, Since: it.Number}, nil
}
