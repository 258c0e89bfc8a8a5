package graph

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/yyyoichi/studygraph/internal/geom"
)

type Kind string

const (
	KindModule  Kind = "module"
	KindSection Kind = "section"
	KindRoot    Kind = "root"
)

// Node is a graph node. Pos is a screen coordinate when handed to New or
// SetNode and a normalized one once stored in a Configuration.
type Node struct {
	ID      string
	Kind    Kind
	Pos     geom.Point
	Visible bool
}

// Key identifies a configuration.
type Key struct {
	Owner string
	ID    string
}

func (k Key) String() string { return k.Owner + "/" + k.ID }

// Configuration is one owner's layout of the course graph.
//
// Node positions are kept normalized on the unit disk around a dynamic
// center. Center and Scale convert them back into screen coordinates and are
// recomputed whenever a node is set.
type Configuration struct {
	Key
	Center geom.Point
	Scale  float64
	nodes  map[string]Node
}

// New builds a configuration from screen coordinates.
func New(owner, id string, nodes []Node) (*Configuration, error) {
	c := &Configuration{
		Key:   Key{Owner: owner, ID: id},
		nodes: make(map[string]Node, len(nodes)),
	}
	for _, n := range nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("configuration %s: node without id", c.Key)
		}
		if n.Kind == "" {
			n.Kind = KindModule
		}
		c.nodes[n.ID] = n
	}
	c.normalize()
	return c, nil
}

// Restore rebuilds a configuration from already normalized nodes and their
// recorded center and scale.
func Restore(owner, id string, center geom.Point, scale float64, nodes []Node) *Configuration {
	c := &Configuration{
		Key:    Key{Owner: owner, ID: id},
		Center: center,
		Scale:  scale,
		nodes:  make(map[string]Node, len(nodes)),
	}
	for _, n := range nodes {
		c.nodes[n.ID] = n
	}
	return c
}

// SetNode places (or moves) a node at the given screen coordinate and
// renormalizes the configuration.
func (c *Configuration) SetNode(n Node) {
	if n.Kind == "" {
		n.Kind = KindModule
	}
	// Bring every node back to screen space before recomputing the center.
	center, scale := c.Center, c.Scale
	for id, m := range c.nodes {
		m.Pos = toScreen(m.Pos, center, scale)
		c.nodes[id] = m
	}
	c.nodes[n.ID] = n
	c.normalize()
}

// SetVisible toggles the visibility of a node. It reports false for an
// unknown node.
func (c *Configuration) SetVisible(id string, visible bool) bool {
	n, ok := c.nodes[id]
	if !ok {
		return false
	}
	n.Visible = visible
	c.nodes[id] = n
	return true
}

// Visible returns the normalized coordinate of a visible module node.
func (c *Configuration) Visible(module string) (geom.Point, bool) {
	n, ok := c.nodes[module]
	if !ok || !n.Visible || n.Kind != KindModule {
		return geom.Point{}, false
	}
	return n.Pos, true
}

func (c *Configuration) Node(id string) (Node, bool) {
	n, ok := c.nodes[id]
	return n, ok
}

// Nodes returns all nodes ordered by id.
func (c *Configuration) Nodes() []Node {
	out := make([]Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b Node) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (c *Configuration) Len() int { return len(c.nodes) }

func (c *Configuration) ToScreen(p geom.Point) geom.Point {
	return toScreen(p, c.Center, c.Scale)
}

func (c *Configuration) ToNormalized(p geom.Point) geom.Point {
	if c.Scale == 0 {
		return geom.Point{}
	}
	return geom.Point{X: (p.X - c.Center.X) / c.Scale, Y: (p.Y - c.Center.Y) / c.Scale}
}

func toScreen(p, center geom.Point, scale float64) geom.Point {
	return geom.Point{X: p.X*scale + center.X, Y: p.Y*scale + center.Y}
}

// normalize expects node positions in screen space. The center is the mean
// of all nodes and the scale the largest distance from it, so every node
// ends up inside the unit disk.
func (c *Configuration) normalize() {
	points := make([]geom.Point, 0, len(c.nodes))
	for _, n := range c.nodes {
		points = append(points, n.Pos)
	}
	center, ok := geom.Mean(points)
	if !ok {
		c.Center, c.Scale = geom.Point{}, 1
		return
	}
	var scale float64
	for _, p := range points {
		scale = max(scale, geom.Dist(p, center))
	}
	if scale == 0 {
		scale = 1
	}
	c.Center, c.Scale = center, scale
	for id, n := range c.nodes {
		n.Pos = c.ToNormalized(n.Pos)
		c.nodes[id] = n
	}
}
