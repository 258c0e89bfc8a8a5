package geom

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Point is a coordinate in the normalized graph space.
type Point struct {
	X, Y float64
}

func (p Point) vec() []float64 { return []float64{p.X, p.Y} }

// Dist returns the Euclidean distance between p and q.
func Dist(p, q Point) float64 {
	return floats.Distance(p.vec(), q.vec(), 2)
}

// Near reports whether every component of p and q differs by at most eps.
func Near(p, q Point, eps float64) bool {
	return math.Abs(p.X-q.X) <= eps && math.Abs(p.Y-q.Y) <= eps
}

// Mean returns the arithmetic mean of points. ok is false for an empty slice.
func Mean(points []Point) (mean Point, ok bool) {
	if len(points) == 0 {
		return Point{}, false
	}
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i], ys[i] = p.X, p.Y
	}
	return Point{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil)}, true
}

// Rect is an axis aligned box.
type Rect struct {
	Min, Max Point
}

// Bounds returns the smallest Rect containing every point.
func Bounds(points []Point) (Rect, bool) {
	if len(points) == 0 {
		return Rect{}, false
	}
	r := Rect{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		r.Min.X = min(r.Min.X, p.X)
		r.Min.Y = min(r.Min.Y, p.Y)
		r.Max.X = max(r.Max.X, p.X)
		r.Max.Y = max(r.Max.Y, p.Y)
	}
	return r, true
}

func (r Rect) Dx() float64 { return r.Max.X - r.Min.X }

func (r Rect) Dy() float64 { return r.Max.Y - r.Min.Y }

// Diagonal returns the length of the box diagonal.
func (r Rect) Diagonal() float64 { return Dist(r.Min, r.Max) }

func (r Rect) Contains(p Point) bool {
	return r.Min.X <= p.X && p.X <= r.Max.X && r.Min.Y <= p.Y && p.Y <= r.Max.Y
}

// Inset shrinks the box by margin (a fraction of each side) on every edge.
// Margins that would invert the box collapse it to its center.
func (r Rect) Inset(margin float64) Rect {
	if margin <= 0 {
		return r
	}
	mx, my := r.Dx()*margin, r.Dy()*margin
	out := Rect{
		Min: Point{X: r.Min.X + mx, Y: r.Min.Y + my},
		Max: Point{X: r.Max.X - mx, Y: r.Max.Y - my},
	}
	if out.Min.X > out.Max.X {
		c := (r.Min.X + r.Max.X) / 2
		out.Min.X, out.Max.X = c, c
	}
	if out.Min.Y > out.Max.Y {
		c := (r.Min.Y + r.Max.Y) / 2
		out.Min.Y, out.Max.Y = c, c
	}
	return out
}

// Random returns a uniformly distributed point inside r.
func (r Rect) Random(rd *rand.Rand) Point {
	return Point{
		X: r.Min.X + rd.Float64()*r.Dx(),
		Y: r.Min.Y + rd.Float64()*r.Dy(),
	}
}
