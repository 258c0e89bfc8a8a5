package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yyyoichi/studygraph/internal/geom"
	"github.com/yyyoichi/studygraph/internal/graph"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "studygraph.db", cfg.DB.Path)
	assert.Equal(t, 4, cfg.Job.Workers)
	assert.Equal(t, time.Minute, cfg.Job.Interval)
	assert.Equal(t, 1e-6, cfg.Cluster.Epsilon)
	assert.Equal(t, 1e-6, cfg.Reconcile.Epsilon)
	assert.Equal(t, 300, cfg.Cluster.MaxIterations)
	assert.Equal(t, 100, cfg.Reconcile.MaxAttempts)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "studygraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db:
  path: /var/lib/studygraph.db
job:
  workers: 8
  interval: 30s
cluster:
  epsilon: 0.001
reconcile:
  max_attempts: 20
  epsilon: 0.5
`), 0o600))
	t.Setenv("STUDYGRAPH_JOB_WORKERS", "2")
	t.Setenv("STUDYGRAPH_RECONCILE_EPSILON", "0.01")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "info", "")
	require.NoError(t, flags.Parse([]string{"--log-level=debug"}))

	v := New()
	require.NoError(t, BindFlags(v, flags))
	cfg, err := Load(v, path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/studygraph.db", cfg.DB.Path)
	assert.Equal(t, 2, cfg.Job.Workers, "env wins over file")
	assert.Equal(t, 30*time.Second, cfg.Job.Interval)
	assert.Equal(t, 20, cfg.Reconcile.MaxAttempts)
	assert.Equal(t, 0.001, cfg.Cluster.Epsilon)
	assert.Equal(t, 0.01, cfg.Reconcile.Epsilon, "env wins over file")
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"no db":       func(c *Config) { c.DB.Path = "" },
		"no workers":  func(c *Config) { c.Job.Workers = 0 },
		"no interval": func(c *Config) { c.Job.Interval = 0 },
		"margin":      func(c *Config) { c.Cluster.Margin = 0.5 },
		"attempts":    func(c *Config) { c.Reconcile.MaxAttempts = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(New(), "")
			require.NoError(t, err)
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDecodeGraphs(t *testing.T) {
	cfgs, err := DecodeGraphs(strings.NewReader(`
owner: instructor-1
id: default
nodes:
  - {id: m1, x: 0, y: 0}
  - {id: m2, kind: module, x: 200, y: 0, visible: false}
  - {id: sec, kind: section, x: 100, y: 0}
---
owner: instructor-2
id: alt
nodes:
  - {id: m1, x: 5, y: 5}
`))
	require.NoError(t, err)
	require.Len(t, cfgs, 2)

	c := cfgs[0]
	assert.Equal(t, graph.Key{Owner: "instructor-1", ID: "default"}, c.Key)
	assert.Equal(t, geom.Point{X: 100, Y: 0}, c.Center)
	assert.Equal(t, 100.0, c.Scale)
	p, ok := c.Visible("m1")
	require.True(t, ok)
	assert.Equal(t, geom.Point{X: -1, Y: 0}, p)
	_, ok = c.Visible("m2")
	assert.False(t, ok, "hidden module")
	_, ok = c.Visible("sec")
	assert.False(t, ok, "sections are not clickable modules")
}

func TestDecodeGraphsErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"no owner":     "id: x\nnodes: []\n",
		"bad kind":     "owner: o\nid: x\nnodes:\n  - {id: m1, kind: chapter}\n",
		"missing id":   "owner: o\nid: x\nnodes:\n  - {x: 1}\n",
		"invalid yaml": "owner: [\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeGraphs(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestDecodeEvents(t *testing.T) {
	events, err := DecodeEvents(strings.NewReader(`{"student":"s1","module":"m1","time":"2024-04-01T09:00:00Z"}

{"student":"s2","module":"m2","time":"2024-04-01T18:00:00+09:00"}
`))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "s1", events[0].Student)
	assert.True(t, time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC).Equal(events[1].Time))

	_, err = DecodeEvents(strings.NewReader(`{"student":"s1"}`))
	assert.Error(t, err)
	_, err = DecodeEvents(strings.NewReader(`not json`))
	assert.ErrorContains(t, err, "line 1")
}

func TestLoadManual(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manual.yaml")
	require.NoError(t, os.WriteFile(path, []byte("s1: 0\ns2: 1\n"), 0o600))
	assign, err := LoadManual(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"s1": 0, "s2": 1}, assign)

	require.NoError(t, os.WriteFile(path, []byte("s1: zero\n"), 0o600))
	_, err = LoadManual(path)
	assert.Error(t, err)
}
