package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yyyoichi/studygraph/internal/geom"
)

func newTestConfiguration(t *testing.T) *Configuration {
	t.Helper()
	c, err := New("instructor", "layout-1", []Node{
		{ID: "root", Kind: KindRoot, Pos: geom.Point{X: 100, Y: 100}, Visible: true},
		{ID: "m1", Pos: geom.Point{X: 0, Y: 100}, Visible: true},
		{ID: "m2", Pos: geom.Point{X: 200, Y: 100}, Visible: true},
		{ID: "m3", Pos: geom.Point{X: 100, Y: 0}, Visible: false},
		{ID: "m4", Pos: geom.Point{X: 100, Y: 200}, Visible: true},
	})
	require.NoError(t, err)
	return c
}

func TestNormalize(t *testing.T) {
	c := newTestConfiguration(t)
	assert.InDelta(t, 100.0, c.Center.X, 1e-9)
	assert.InDelta(t, 100.0, c.Center.Y, 1e-9)
	assert.InDelta(t, 100.0, c.Scale, 1e-9)

	for _, n := range c.Nodes() {
		assert.LessOrEqual(t, geom.Dist(n.Pos, geom.Point{}), 1.0+1e-9, n.ID)
	}
	m1, ok := c.Visible("m1")
	require.True(t, ok)
	assert.InDelta(t, -1.0, m1.X, 1e-9)
	assert.InDelta(t, 0.0, m1.Y, 1e-9)

	screen := c.ToScreen(m1)
	assert.InDelta(t, 0.0, screen.X, 1e-9)
	assert.InDelta(t, 100.0, screen.Y, 1e-9)
}

func TestVisible(t *testing.T) {
	c := newTestConfiguration(t)

	_, ok := c.Visible("m3")
	assert.False(t, ok, "hidden module")
	_, ok = c.Visible("root")
	assert.False(t, ok, "root is not a module")
	_, ok = c.Visible("missing")
	assert.False(t, ok)

	require.True(t, c.SetVisible("m3", true))
	_, ok = c.Visible("m3")
	assert.True(t, ok)
	assert.False(t, c.SetVisible("missing", true))
}

func TestSetNodeRenormalizes(t *testing.T) {
	c := newTestConfiguration(t)
	c.SetNode(Node{ID: "m5", Pos: geom.Point{X: 700, Y: 100}, Visible: true})

	assert.Equal(t, 6, c.Len())
	assert.InDelta(t, 200.0, c.Center.X, 1e-9)
	assert.InDelta(t, 100.0, c.Center.Y, 1e-9)
	assert.InDelta(t, 500.0, c.Scale, 1e-9)

	m2, ok := c.Visible("m2")
	require.True(t, ok)
	screen := c.ToScreen(m2)
	assert.InDelta(t, 200.0, screen.X, 1e-9)
	assert.InDelta(t, 100.0, screen.Y, 1e-9)
}

func TestNewRejectsEmptyID(t *testing.T) {
	_, err := New("instructor", "bad", []Node{{Pos: geom.Point{X: 1}}})
	assert.Error(t, err)
}
