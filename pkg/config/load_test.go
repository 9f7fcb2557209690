package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mlpYAML = `
name: mlp
inputs:
  - {name: x, shape: [-1, 2], dtype: float32}
nodes:
  - {name: w, op: Variable, attrs: {shape: [2, 2], values: [1, 0, 0, 1]}}
  - {name: y, op: Relu, inputs: [h]}
  - {name: h, op: MatMul, inputs: [x, w]}
fetches: [y]
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	path := writeFile(t, "symgraph.yaml", `
engine:
  plan_cache_size: 8
  training: true
  script_timeout: 2s
telemetry:
  logging:
    level: debug
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Engine.PlanCacheSize)
	assert.True(t, cfg.Engine.Training)
	assert.Equal(t, 2*time.Second, cfg.Engine.ScriptTimeout)
	assert.Equal(t, 4, cfg.Engine.MaxParallel, "unset fields keep their defaults")
	assert.Equal(t, "debug", cfg.Telemetry.Logging.Level)
	assert.Equal(t, "console", cfg.Telemetry.Logging.Format)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"negative cache size", "engine: {plan_cache_size: -1}", "engine.plan_cache_size"},
		{"zero parallelism", "engine: {max_parallel: 0}", "engine.max_parallel"},
		{"bad log level", "telemetry: {logging: {level: loud}}", "invalid log level"},
		{"not yaml", "engine: [", "failed to parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, "c.yaml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseGraphYAML(t *testing.T) {
	doc, err := ParseGraphYAML([]byte(mlpYAML))
	require.NoError(t, err)

	assert.Equal(t, "mlp", doc.Name)
	require.Len(t, doc.Inputs, 1)
	assert.Equal(t, []int{-1, 2}, doc.Inputs[0].Shape)
	require.Len(t, doc.Nodes, 3)
	assert.Equal(t, []any{2, 2}, doc.Nodes[0].Attrs["shape"])
	assert.Equal(t, []string{"x", "w"}, doc.Nodes[2].Inputs)
	assert.Equal(t, []string{"y"}, doc.Fetches)
}

func TestParseGraphYAML_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantPath string
	}{
		{
			name:     "missing inputs",
			content:  "name: g\nnodes: []",
			wantPath: "inputs",
		},
		{
			name:     "bad input name",
			content:  "name: g\ninputs: [{name: 1x}]",
			wantPath: "inputs[0].name",
		},
		{
			name:     "bad dtype",
			content:  "name: g\ninputs: [{name: x, dtype: complex64}]",
			wantPath: "inputs[0].dtype",
		},
		{
			name:     "duplicate name",
			content:  "name: g\ninputs: [{name: x}]\nnodes: [{name: x, op: Relu, inputs: [x]}]",
			wantPath: "nodes[0]",
		},
		{
			name:     "undeclared input",
			content:  "name: g\ninputs: [{name: x}]\nnodes: [{name: y, op: Relu, inputs: [z]}]",
			wantPath: "nodes[0].inputs[0]",
		},
		{
			name:     "undeclared fetch",
			content:  "name: g\ninputs: [{name: x}]\nfetches: [y]",
			wantPath: "fetches[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseGraphYAML([]byte(tt.content))
			var verrs ValidationErrors
			require.ErrorAs(t, err, &verrs)

			var paths []string
			for _, e := range verrs {
				paths = append(paths, e.Path)
			}
			assert.Contains(t, paths, tt.wantPath)
		})
	}
}

func TestParseGraphYAML_OutputReferences(t *testing.T) {
	doc, err := ParseGraphYAML([]byte(`
name: halves
inputs: [{name: x, shape: [4]}]
nodes:
  - {name: parts, op: Split, inputs: [x], attrs: {parts: 2}}
  - {name: y, op: Add, inputs: ["parts:0", "parts:1"]}
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"parts:0", "parts:1"}, doc.Nodes[1].Inputs)
}

func TestParseGraphYAML_UnknownField(t *testing.T) {
	_, err := ParseGraphYAML([]byte("name: g\ninputs: [{name: x}]\ncolour: red"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse graph document")
}

func TestSplitRef(t *testing.T) {
	tests := []struct {
		ref   string
		name  string
		index int
	}{
		{"x", "x", -1},
		{"parts:1", "parts", 1},
		{"a:b", "a:b", -1},
	}
	for _, tt := range tests {
		name, index := SplitRef(tt.ref)
		assert.Equal(t, tt.name, name, tt.ref)
		assert.Equal(t, tt.index, index, tt.ref)
	}
}

func TestParseFeedYAML(t *testing.T) {
	doc, err := ParseFeedYAML([]byte(`
feeds:
  - {name: x, shape: [2, 2], values: [1, 2.5, 3, 4]}
  - {name: m, values: [1, 0], mask: [true, false]}
`))
	require.NoError(t, err)
	require.Len(t, doc.Feeds, 2)
	assert.Equal(t, []any{1, 2.5, 3, 4}, doc.Feeds[0].Values)
	assert.Equal(t, []bool{true, false}, doc.Feeds[1].Mask)

	_, err = ParseFeedYAML([]byte("feeds: [{name: x, values: [1]}, {name: x, values: [2]}]"))
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "feeds[1].name", verrs[0].Path)

	_, err = ParseFeedYAML([]byte("feeds: [{name: x}]"))
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "feeds[0].values", verrs[0].Path)
}

func TestLoadGraphFile_ChoosesFormat(t *testing.T) {
	ctx := context.Background()

	yamlDoc, err := LoadGraphFile(ctx, writeFile(t, "g.yaml", mlpYAML))
	require.NoError(t, err)
	assert.Equal(t, "mlp", yamlDoc.Name)

	cueDoc, err := LoadGraphFile(ctx, writeFile(t, "g.cue", `
name: "relu"
inputs: [{name: "x"}]
nodes: [{name: "y", op: "Relu", inputs: ["x"]}]
`))
	require.NoError(t, err)
	assert.Equal(t, "relu", cueDoc.Name)

	_, err = LoadGraphFile(ctx, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
