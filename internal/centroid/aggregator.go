package centroid

import (
	"cmp"
	"slices"
	"time"

	"github.com/yyyoichi/studygraph/internal/geom"
	"github.com/yyyoichi/studygraph/internal/graph"
)

type Variant int

const (
	Geometric Variant = iota
	Decomposed
)

func (v Variant) String() string {
	if v == Decomposed {
		return "decomposed"
	}
	return "geometric"
}

// Event is one module access of a student.
type Event struct {
	ID      int64
	Student string
	Module  string
	Time    time.Time
}

func compareEvents(a, b Event) int {
	if c := a.Time.Compare(b.Time); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Key identifies a student's centroid under one configuration.
type Key struct {
	Config  graph.Key
	Student string
}

// Centroid is a student's point together with the number of visible clicks
// that produced it.
type Centroid struct {
	geom.Point
	Count int
}

// Update lists what one Add call changed.
type Update struct {
	Changed []Key
	// Skipped counts (event, configuration) pairs whose module was unknown or
	// hidden in that configuration.
	Skipped int
}

// Aggregator folds access events into per-student centroids for every
// configuration it knows.
//
// Geometric centroids are running sums and never need the history again.
// Decomposed centroids are derived from each student's full, time ordered
// click history whenever they are read, because the midpoint moves with
// every new click.
type Aggregator struct {
	configs   map[graph.Key]*graph.Configuration
	geometric map[Key]*Accumulator
	history   map[string][]Event
}

func NewAggregator(configs ...*graph.Configuration) *Aggregator {
	a := &Aggregator{
		configs:   make(map[graph.Key]*graph.Configuration, len(configs)),
		geometric: make(map[Key]*Accumulator),
		history:   make(map[string][]Event),
	}
	for _, c := range configs {
		a.configs[c.Key] = c
	}
	return a
}

func (a *Aggregator) Configuration(key graph.Key) (*graph.Configuration, bool) {
	c, ok := a.configs[key]
	return c, ok
}

// Seed restores a previously persisted geometric running sum.
func (a *Aggregator) Seed(key Key, sumX, sumY float64, count int) {
	if count <= 0 {
		return
	}
	acc := a.accumulator(key)
	acc.Initialize(sumX, sumY, count)
}

// SeedHistory restores the already processed clicks of a student. They only
// feed decomposed centroids; geometric sums come from Seed.
func (a *Aggregator) SeedHistory(student string, events []Event) {
	h := append(a.history[student], events...)
	slices.SortStableFunc(h, compareEvents)
	a.history[student] = h
}

// Add folds new events into the centroids.
func (a *Aggregator) Add(events ...Event) Update {
	var (
		upd     Update
		changed = make(map[Key]struct{})
		touched = make(map[string]struct{})
	)
	for _, ev := range events {
		touched[ev.Student] = struct{}{}
		a.history[ev.Student] = append(a.history[ev.Student], ev)
		for _, cfg := range a.configs {
			p, ok := cfg.Visible(ev.Module)
			if !ok {
				upd.Skipped++
				continue
			}
			key := Key{Config: cfg.Key, Student: ev.Student}
			a.accumulator(key).Add(p)
			changed[key] = struct{}{}
		}
	}
	for student := range touched {
		slices.SortStableFunc(a.history[student], compareEvents)
	}
	upd.Changed = make([]Key, 0, len(changed))
	for key := range changed {
		upd.Changed = append(upd.Changed, key)
	}
	slices.SortFunc(upd.Changed, compareKeys)
	return upd
}

func compareKeys(a, b Key) int {
	if c := cmp.Compare(a.Config.Owner, b.Config.Owner); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Config.ID, b.Config.ID); c != 0 {
		return c
	}
	return cmp.Compare(a.Student, b.Student)
}

func (a *Aggregator) accumulator(key Key) *Accumulator {
	acc, ok := a.geometric[key]
	if !ok {
		acc = new(Accumulator)
		a.geometric[key] = acc
	}
	return acc
}

// Accumulator returns the running sum behind a geometric centroid.
func (a *Aggregator) Accumulator(key Key) (*Accumulator, bool) {
	acc, ok := a.geometric[key]
	return acc, ok
}

// Geometric returns the running mean of a student's visible clicks.
func (a *Aggregator) Geometric(key Key) (Centroid, bool) {
	acc, ok := a.geometric[key]
	if !ok {
		return Centroid{}, false
	}
	p, ok := acc.Point()
	if !ok {
		return Centroid{}, false
	}
	return Centroid{Point: p, Count: acc.Count()}, true
}

// Decomposed returns the coordinate of the click at the temporal midpoint of
// the student's visible click sequence.
func (a *Aggregator) Decomposed(key Key) (Centroid, bool) {
	cfg, ok := a.configs[key.Config]
	if !ok {
		return Centroid{}, false
	}
	var visible []geom.Point
	for _, ev := range a.history[key.Student] {
		if p, ok := cfg.Visible(ev.Module); ok {
			visible = append(visible, p)
		}
	}
	p, ok := Midpoint(visible)
	if !ok {
		return Centroid{}, false
	}
	return Centroid{Point: p, Count: len(visible)}, true
}

// Centroid returns the student's centroid for the requested variant.
func (a *Aggregator) Centroid(key Key, v Variant) (Centroid, bool) {
	if v == Decomposed {
		return a.Decomposed(key)
	}
	return a.Geometric(key)
}

// Centroids returns every student centroid of one configuration.
func (a *Aggregator) Centroids(cfg graph.Key, v Variant) map[string]geom.Point {
	out := make(map[string]geom.Point)
	students := make(map[string]struct{})
	for key := range a.geometric {
		if key.Config == cfg {
			students[key.Student] = struct{}{}
		}
	}
	if v == Decomposed {
		for student := range a.history {
			students[student] = struct{}{}
		}
	}
	for student := range students {
		if c, ok := a.Centroid(Key{Config: cfg, Student: student}, v); ok {
			out[student] = c.Point
		}
	}
	return out
}

// Midpoint returns points[floor(n/2)] of an ordered sequence.
func Midpoint(points []geom.Point) (geom.Point, bool) {
	if len(points) == 0 {
		return geom.Point{}, false
	}
	return points[len(points)/2], true
}
