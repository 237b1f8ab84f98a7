package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validGraph = `
nodes:
  - id: start
    kind: trigger
  - id: greet
    kind: transform
    config:
      mapping:
        greeting: "Hello {{start.name}}"
edges:
  - from: start
    to: greet
`

const cyclicGraph = `{
	"nodes": [
		{"id": "start", "kind": "trigger"},
		{"id": "a", "kind": "transform", "config": {"mapping": {"x": "1"}}},
		{"id": "b", "kind": "transform", "config": {"mapping": {"x": "2"}}}
	],
	"edges": [{"from": "start", "to": "a"}, {"from": "a", "to": "b"}, {"from": "b", "to": "a"}]
}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	valid := writeFile(t, dir, "valid.yaml", validGraph)
	cyclic := writeFile(t, dir, "cyclic.json", cyclicGraph)

	err := newApp().Run(context.Background(), []string{"conduit", "validate", "--log-level", "error", valid})
	require.NoError(t, err)

	err = newApp().Run(context.Background(), []string{"conduit", "validate", "--log-level", "error", valid, cyclic})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")

	err = newApp().Run(context.Background(), []string{"conduit", "validate"})
	require.ErrorIs(t, err, errGraphFileRequired)
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	graph := writeFile(t, dir, "graph.yaml", validGraph)
	input := writeFile(t, dir, "input.json", `{"name": "Ada"}`)

	err := newApp().Run(context.Background(), []string{
		"conduit", "run",
		"--database-url", filepath.Join(dir, "data"),
		"--log-level", "error",
		"--input", input,
		"--workflow-id", "cli",
		graph,
	})
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "data"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestRunCommandRequiresGraph(t *testing.T) {
	err := newApp().Run(context.Background(), []string{"conduit", "run", "--database-url", t.TempDir()})
	require.ErrorIs(t, err, errGraphFileRequired)
}
