package centroid

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yyyoichi/studygraph/internal/geom"
	"github.com/yyyoichi/studygraph/internal/graph"
)

// testConfiguration lays m1..m4 out on a square of side 200 around (100,100);
// after normalization m1=(-1,0) m2=(1,0) m3=(0,-1) m4=(0,1). m4 is hidden.
func testConfiguration(t *testing.T) *graph.Configuration {
	t.Helper()
	c, err := graph.New("instructor", "layout", []graph.Node{
		{ID: "root", Kind: graph.KindRoot, Pos: geom.Point{X: 100, Y: 100}, Visible: true},
		{ID: "m1", Pos: geom.Point{X: 0, Y: 100}, Visible: true},
		{ID: "m2", Pos: geom.Point{X: 200, Y: 100}, Visible: true},
		{ID: "m3", Pos: geom.Point{X: 100, Y: 0}, Visible: true},
		{ID: "m4", Pos: geom.Point{X: 100, Y: 200}, Visible: false},
	})
	require.NoError(t, err)
	return c
}

func events(student string, modules ...string) []Event {
	base := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	out := make([]Event, len(modules))
	for i, m := range modules {
		out[i] = Event{ID: int64(i + 1), Student: student, Module: m, Time: base.Add(time.Duration(i) * time.Minute)}
	}
	return out
}

func TestAccumulator(t *testing.T) {
	var acc Accumulator
	_, ok := acc.Point()
	assert.False(t, ok)

	acc.Add(geom.Point{X: 1, Y: 2})
	acc.Add(geom.Point{X: 3, Y: 4})
	p, ok := acc.Point()
	require.True(t, ok)
	assert.Equal(t, geom.Point{X: 2, Y: 3}, p)
	assert.Equal(t, 2, acc.Count())

	acc.Initialize(10, 20, 5)
	x, y := acc.Sum()
	assert.Equal(t, 10.0, x)
	assert.Equal(t, 20.0, y)
	p, _ = acc.Point()
	assert.Equal(t, geom.Point{X: 2, Y: 4}, p)
}

func TestGeometric(t *testing.T) {
	cfg := testConfiguration(t)
	a := NewAggregator(cfg)
	upd := a.Add(events("s1", "m1", "m2", "m3", "m4", "unknown")...)

	// m4 is hidden and "unknown" does not exist.
	assert.Equal(t, 2, upd.Skipped)
	require.Len(t, upd.Changed, 1)

	c, ok := a.Geometric(Key{Config: cfg.Key, Student: "s1"})
	require.True(t, ok)
	assert.Equal(t, 3, c.Count)
	assert.InDelta(t, 0.0, c.X, 1e-9)
	assert.InDelta(t, -1.0/3.0, c.Y, 1e-9)
}

func TestGeometricOrderIndependence(t *testing.T) {
	cfg := testConfiguration(t)
	evs := append(events("s1", "m1", "m2", "m2", "m3", "m1"), events("s2", "m3", "m3", "m4", "m2")...)

	want := NewAggregator(cfg)
	want.Add(evs...)

	rd := rand.New(rand.NewSource(1234))
	for range 20 {
		shuffled := append([]Event(nil), evs...)
		rd.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		got := NewAggregator(cfg)
		// Feed in two batches to exercise incremental accumulation.
		got.Add(shuffled[:4]...)
		got.Add(shuffled[4:]...)
		for _, student := range []string{"s1", "s2"} {
			key := Key{Config: cfg.Key, Student: student}
			w, _ := want.Geometric(key)
			g, ok := got.Geometric(key)
			require.True(t, ok)
			assert.Equal(t, w.Count, g.Count)
			assert.InDelta(t, w.X, g.X, 1e-12)
			assert.InDelta(t, w.Y, g.Y, 1e-12)
		}
	}
}

func TestZeroVisibleClicks(t *testing.T) {
	cfg := testConfiguration(t)
	a := NewAggregator(cfg)
	upd := a.Add(events("s1", "m4", "m4")...)
	assert.Empty(t, upd.Changed)

	key := Key{Config: cfg.Key, Student: "s1"}
	_, ok := a.Geometric(key)
	assert.False(t, ok)
	_, ok = a.Decomposed(key)
	assert.False(t, ok)
	assert.Empty(t, a.Centroids(cfg.Key, Geometric))
	assert.Empty(t, a.Centroids(cfg.Key, Decomposed))
}

func TestDecomposedMidpoint(t *testing.T) {
	cfg := testConfiguration(t)
	key := Key{Config: cfg.Key, Student: "s1"}

	test := []struct {
		name    string
		modules []string
		want    string
	}{
		{"single", []string{"m1"}, "m1"},
		{"even", []string{"m1", "m2"}, "m2"},
		{"odd", []string{"m1", "m2", "m3"}, "m2"},
		{"hidden_filtered", []string{"m1", "m4", "m4", "m3", "m2"}, "m3"},
	}
	for _, tt := range test {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAggregator(cfg)
			a.Add(events("s1", tt.modules...)...)
			want, _ := cfg.Visible(tt.want)

			got, ok := a.Decomposed(key)
			require.True(t, ok)
			assert.Equal(t, want, got.Point)

			// Reading again must not change the answer.
			again, _ := a.Decomposed(key)
			assert.Equal(t, got, again)
		})
	}
}

func TestDecomposedUsesTimeOrder(t *testing.T) {
	cfg := testConfiguration(t)
	key := Key{Config: cfg.Key, Student: "s1"}
	evs := events("s1", "m1", "m2", "m3")

	a := NewAggregator(cfg)
	// Arrive out of order; the midpoint still follows timestamps.
	a.Add(evs[2], evs[0])
	a.Add(evs[1])
	want, _ := cfg.Visible("m2")
	got, ok := a.Decomposed(key)
	require.True(t, ok)
	assert.Equal(t, want, got.Point)
}

func TestSeed(t *testing.T) {
	cfg := testConfiguration(t)
	key := Key{Config: cfg.Key, Student: "s1"}

	a := NewAggregator(cfg)
	a.Seed(key, -1, 0, 1) // one earlier click on m1
	a.SeedHistory("s1", events("s1", "m1"))
	later := events("s1", "m1", "m2")[1]
	later.ID = 10
	a.Add(later)

	g, ok := a.Geometric(key)
	require.True(t, ok)
	assert.Equal(t, 2, g.Count)
	assert.InDelta(t, 0.0, g.X, 1e-9)

	d, ok := a.Decomposed(key)
	require.True(t, ok)
	m2, _ := cfg.Visible("m2")
	assert.Equal(t, m2, d.Point)
}

func TestMidpoint(t *testing.T) {
	_, ok := Midpoint(nil)
	assert.False(t, ok)
	p, ok := Midpoint([]geom.Point{{X: 1}, {X: 2}, {X: 3}, {X: 4}})
	require.True(t, ok)
	assert.Equal(t, geom.Point{X: 3}, p)
}
