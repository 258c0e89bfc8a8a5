package kmeans

import (
	"errors"
	"math"
	"math/rand"
	"slices"

	"github.com/yyyoichi/studygraph/internal/geom"
)

var (
	ErrInvalidK = errors.New("k must be at least 2")
	ErrNoPoints = errors.New("no points to cluster")
)

const (
	DefaultEpsilon       = 1e-6
	DefaultMaxIterations = 300
	// initAttempts bounds the search for a starting centroid that keeps the
	// minimum separation.
	initAttempts = 100
)

// Pin forces a student into a cluster for every iteration numbered Since or
// later.
type Pin struct {
	Cluster int
	Since   int
}

type Config struct {
	K             int
	Epsilon       float64
	MaxIterations int
	// MinSeparation is the minimum pairwise distance between starting
	// centroids. Zero derives it from the placement area.
	MinSeparation float64
	// Margin is the fraction of the placement area kept free on every edge.
	Margin float64
	// Area is where starting centroids are placed. Nil uses the bounding box
	// of the points.
	Area *geom.Rect
	Rand *rand.Rand
	Pins map[string]Pin
	// OnRegenerate is called for every empty cluster that received a new
	// centroid.
	OnRegenerate func(iteration, cluster int)
}

// Iteration is one assignment and update pass.
type Iteration struct {
	Number    int
	Centroids []geom.Point
	// Assign maps every student to its cluster number.
	Assign      map[string]int
	Regenerated []int
	// Movement is the summed distance every centroid moved in this pass.
	Movement float64
}

// Members returns the students of cluster c in id order.
func (it Iteration) Members(c int) []string {
	var out []string
	for s, n := range it.Assign {
		if n == c {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out
}

type Result struct {
	K int
	// Iterations[0] is the random placement, the last entry the final state.
	Iterations []Iteration
	Converged  bool
	Colors     []string
}

func (r *Result) Final() Iteration {
	return r.Iterations[len(r.Iterations)-1]
}

// Run clusters points with Lloyd's algorithm.
//
// Empty clusters get a regenerated centroid on the data and block
// convergence for that pass. The run stops when the summed
// centroid movement falls to Epsilon or MaxIterations passes were made.
func Run(points map[string]geom.Point, cfg Config) (*Result, error) {
	if cfg.K < 2 {
		return nil, ErrInvalidK
	}
	if len(points) == 0 {
		return nil, ErrNoPoints
	}
	cfg = withDefaults(cfg)

	ids := sortedIDs(points)
	bounds := boundsOf(points)
	k := min(cfg.K, distinct(points))

	area := bounds
	if cfg.Area != nil {
		area = *cfg.Area
	}
	area = area.Inset(cfg.Margin)
	sep := cfg.MinSeparation
	if sep <= 0 {
		sep = area.Diagonal() / float64(2*k)
	}

	centroids := Init(cfg.Rand, area, k, sep)
	res := &Result{
		K:      k,
		Colors: Colors(k, cfg.Rand),
	}
	res.Iterations = append(res.Iterations, Iteration{
		Number:    0,
		Centroids: centroids,
		Assign:    Assign(points, ids, centroids, cfg.Pins, 0),
	})
	for n := 1; n <= cfg.MaxIterations; n++ {
		prev := res.Final()
		assign := Assign(points, ids, prev.Centroids, cfg.Pins, n)
		next, regen := Update(points, assign, k, bounds, cfg.Rand)
		for _, c := range regen {
			if cfg.OnRegenerate != nil {
				cfg.OnRegenerate(n, c)
			}
		}
		it := Iteration{
			Number:      n,
			Centroids:   next,
			Assign:      assign,
			Regenerated: regen,
			Movement:    Movement(prev.Centroids, next),
		}
		res.Iterations = append(res.Iterations, it)
		if len(regen) == 0 && it.Movement <= cfg.Epsilon {
			res.Converged = true
			break
		}
	}
	return res, nil
}

func withDefaults(cfg Config) Config {
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = DefaultEpsilon
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(1))
	}
	return cfg
}

// Init places k centroids uniformly in area, each at least sep away from the
// ones placed before it. When no such spot turns up the farthest candidate
// found is used.
func Init(rd *rand.Rand, area geom.Rect, k int, sep float64) []geom.Point {
	centroids := make([]geom.Point, 0, k)
	for range k {
		var best geom.Point
		bestDist := -1.0
		for range initAttempts {
			p := area.Random(rd)
			d := nearest(p, centroids)
			if d > bestDist {
				best, bestDist = p, d
			}
			if d >= sep {
				break
			}
		}
		centroids = append(centroids, best)
	}
	return centroids
}

// Assign maps every point to its nearest centroid. Ties go to the lowest
// cluster number. Pinned students keep their pinned cluster from the pin's
// iteration on.
func Assign(points map[string]geom.Point, ids []string, centroids []geom.Point, pins map[string]Pin, iteration int) map[string]int {
	assign := make(map[string]int, len(ids))
	for _, id := range ids {
		if pin, ok := pins[id]; ok && iteration >= pin.Since && pin.Cluster < len(centroids) {
			assign[id] = pin.Cluster
			continue
		}
		assign[id] = Nearest(points[id], centroids)
	}
	return assign
}

// Nearest returns the index of the closest centroid.
func Nearest(p geom.Point, centroids []geom.Point) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := geom.Dist(p, centroid); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// Update recomputes every centroid as the mean of its members. Clusters
// without members get a regenerated centroid; their numbers are returned in
// regen.
func Update(points map[string]geom.Point, assign map[string]int, k int, bounds geom.Rect, rd *rand.Rand) (centroids []geom.Point, regen []int) {
	ids := sortedIDs(points)
	members := make([][]geom.Point, k)
	for _, id := range ids {
		c, ok := assign[id]
		if !ok || c < 0 || c >= k {
			continue
		}
		members[c] = append(members[c], points[id])
	}
	centroids = make([]geom.Point, k)
	for c := range k {
		if m, ok := geom.Mean(members[c]); ok {
			centroids[c] = m
			continue
		}
		regen = append(regen, c)
	}
	if len(regen) == 0 {
		return centroids, nil
	}
	candidates := make([]geom.Point, len(ids))
	for i, id := range ids {
		candidates[i] = points[id]
	}
	others := make([]geom.Point, 0, k)
	for c := range k {
		if !slices.Contains(regen, c) {
			others = append(others, centroids[c])
		}
	}
	for _, c := range regen {
		centroids[c] = Regenerate(rd, candidates, others, bounds)
		others = append(others, centroids[c])
	}
	return centroids, regen
}

// Regenerate picks a new centroid for an empty cluster. One of candidates is
// drawn with probability proportional to its squared distance from the
// nearest of others, so the new centroid lies on the data and never on top
// of an existing centroid. When every candidate already sits on a centroid a
// random point inside bounds is used.
func Regenerate(rd *rand.Rand, candidates, others []geom.Point, bounds geom.Rect) geom.Point {
	weights := make([]float64, len(candidates))
	var total float64
	for i, p := range candidates {
		d := nearest(p, others)
		if math.IsInf(d, 1) {
			d = 1
		}
		weights[i] = d * d
		total += weights[i]
	}
	if total == 0 {
		return bounds.Random(rd)
	}
	target := rd.Float64() * total
	for i, w := range weights {
		if w == 0 {
			continue
		}
		target -= w
		if target < 0 {
			return candidates[i]
		}
	}
	// Rounding left target marginally positive; take the last weighted one.
	for i := len(weights) - 1; i >= 0; i-- {
		if weights[i] > 0 {
			return candidates[i]
		}
	}
	return bounds.Random(rd)
}

// Movement sums the distances between matching centroids.
func Movement(prev, next []geom.Point) float64 {
	var total float64
	for c := range min(len(prev), len(next)) {
		total += geom.Dist(prev[c], next[c])
	}
	return total
}

// SSE is the sum of squared distances between points and their centroid.
func SSE(points map[string]geom.Point, it Iteration) float64 {
	var total float64
	for id, c := range it.Assign {
		p, ok := points[id]
		if !ok || c >= len(it.Centroids) {
			continue
		}
		d := geom.Dist(p, it.Centroids[c])
		total += d * d
	}
	return total
}

func nearest(p geom.Point, others []geom.Point) float64 {
	if len(others) == 0 {
		return math.Inf(1)
	}
	d := math.Inf(1)
	for _, o := range others {
		d = min(d, geom.Dist(p, o))
	}
	return d
}

func sortedIDs(points map[string]geom.Point) []string {
	ids := make([]string, 0, len(points))
	for id := range points {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func boundsOf(points map[string]geom.Point) geom.Rect {
	ps := make([]geom.Point, 0, len(points))
	for _, p := range points {
		ps = append(ps, p)
	}
	r, _ := geom.Bounds(ps)
	return r
}

func distinct(points map[string]geom.Point) int {
	seen := make(map[geom.Point]struct{}, len(points))
	for _, p := range points {
		seen[p] = struct{}{}
	}
	return len(seen)
}
