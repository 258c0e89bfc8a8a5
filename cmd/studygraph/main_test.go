package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{
		"--config", filepath.Join(dir, "absent.yaml"),
		"--db", filepath.Join(dir, "studygraph.db"),
		"--log-level", "error",
		"--seed", "5",
	}, args...))
	require.NoError(t, cmd.Execute(), out.String())
	return out.String()
}

func TestCLI(t *testing.T) {
	dir := t.TempDir()
	graphs := filepath.Join(dir, "graph.yaml")
	require.NoError(t, os.WriteFile(graphs, []byte(`
owner: instructor
id: default
nodes:
  - {id: m1, x: 0, y: 0}
  - {id: m2, x: 10, y: 0}
  - {id: m3, x: 300, y: 300}
  - {id: m4, x: 310, y: 300}
`), 0o600))
	events := filepath.Join(dir, "events.jsonl")
	require.NoError(t, os.WriteFile(events, []byte(strings.Join([]string{
		`{"student":"s1","module":"m1","time":"2024-04-01T09:00:00Z"}`,
		`{"student":"s2","module":"m2","time":"2024-04-01T09:01:00Z"}`,
		`{"student":"s3","module":"m3","time":"2024-04-01T09:02:00Z"}`,
		`{"student":"s4","module":"m4","time":"2024-04-01T09:03:00Z"}`,
	}, "\n")), 0o600))

	assert.Contains(t, run(t, dir, "config", "import", graphs), "imported instructor/default (4 nodes)")
	assert.Equal(t, "instructor/default\n", run(t, dir, "config", "list"))
	assert.Contains(t, run(t, dir, "events", "ingest", events), "aggregated 4 events")

	out := run(t, dir, "cluster", "instructor", "default", "-k", "2")
	assert.Contains(t, out, "converged true")
	assert.Contains(t, out, "s1,s2")
	assert.Contains(t, out, "s3,s4")

	out = run(t, dir, "reconcile")
	assert.Contains(t, out, "reconciled 1 runs: 0 converged, 1 unchanged")

	out = run(t, dir, "runs")
	assert.Contains(t, out, "instructor/default")
	assert.Contains(t, out, "geometric")
}

func TestCLIErrors(t *testing.T) {
	dir := t.TempDir()
	for name, args := range map[string][]string{
		"variant": {"cluster", "instructor", "default", "--variant", "median"},
		"unknown": {"cluster", "instructor", "default"},
		"cluster": {"reassign", "o", "c", "r", "s1", "x"},
		"missing": {"runs", "show", "o", "c", "r"},
	} {
		t.Run(name, func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetArgs(append([]string{
				"--config", filepath.Join(dir, "absent.yaml"),
				"--db", filepath.Join(dir, name+".db"),
				"--log-level", "error",
			}, args...))
			assert.Error(t, cmd.Execute())
		})
	}
}

func TestCLIReconcileEpsilon(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STUDYGRAPH_RECONCILE_EPSILON", "0")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{
		"--config", filepath.Join(dir, "absent.yaml"),
		"--db", filepath.Join(dir, "studygraph.db"),
		"reconcile",
	})
	err := cmd.Execute()
	require.Error(t, err)
	assert.ErrorContains(t, err, "reconcile.epsilon")
}
