package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yyyoichi/studygraph/internal/geom"
	"github.com/yyyoichi/studygraph/internal/graph"
)

// GraphFile is the YAML form of a graph configuration. Coordinates are
// screen coordinates.
//
//	owner: instructor-1
//	id: default
//	nodes:
//	  - {id: m1, kind: module, x: 120, y: 80, visible: true}
type GraphFile struct {
	Owner string      `yaml:"owner"`
	ID    string      `yaml:"id"`
	Nodes []GraphNode `yaml:"nodes"`
}

type GraphNode struct {
	ID   string  `yaml:"id"`
	Kind string  `yaml:"kind"`
	X    float64 `yaml:"x"`
	Y    float64 `yaml:"y"`
	// Visible defaults to true when omitted.
	Visible *bool `yaml:"visible"`
}

// DecodeGraphs reads every YAML document in r.
func DecodeGraphs(r io.Reader) ([]*graph.Configuration, error) {
	dec := yaml.NewDecoder(r)
	var out []*graph.Configuration
	for {
		var f GraphFile
		err := dec.Decode(&f)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode graph configuration: %w", err)
		}
		c, err := f.Configuration()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
}

// LoadGraphs reads the graph configurations of a YAML file.
func LoadGraphs(path string) ([]*graph.Configuration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return DecodeGraphs(f)
}

func (f GraphFile) Configuration() (*graph.Configuration, error) {
	if f.Owner == "" || f.ID == "" {
		return nil, fmt.Errorf("graph configuration needs owner and id")
	}
	nodes := make([]graph.Node, 0, len(f.Nodes))
	for _, n := range f.Nodes {
		kind := graph.Kind(n.Kind)
		switch kind {
		case "":
			kind = graph.KindModule
		case graph.KindModule, graph.KindSection, graph.KindRoot:
		default:
			return nil, fmt.Errorf("node %s: unknown kind %q", n.ID, n.Kind)
		}
		visible := n.Visible == nil || *n.Visible
		nodes = append(nodes, graph.Node{
			ID:      n.ID,
			Kind:    kind,
			Pos:     geom.Point{X: n.X, Y: n.Y},
			Visible: visible,
		})
	}
	return graph.New(f.Owner, f.ID, nodes)
}

// LoadManual reads a hand made membership, a YAML mapping of student id to
// cluster number.
func LoadManual(path string) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var assign map[string]int
	if err := yaml.Unmarshal(data, &assign); err != nil {
		return nil, fmt.Errorf("failed to decode manual membership: %w", err)
	}
	return assign, nil
}
