package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/symgraph/pkg/config"
	"github.com/openfroyo/symgraph/pkg/engine"
	"github.com/openfroyo/symgraph/pkg/tensor"
)

const feedGraphYAML = `
name: feeds
inputs:
  - {name: x, shape: [-1, 2], dtype: float32}
  - {name: flags, dtype: bool}
  - {name: words, dtype: string}
nodes:
  - {name: y, op: Relu, inputs: [x]}
`

func TestBindFeeds(t *testing.T) {
	model := mustBuild(t, feedGraphYAML)
	pool := tensor.NewPool()

	doc := &config.FeedDocument{Feeds: []config.FeedValue{
		{Name: "x", Shape: []int{1, 2}, DType: "int32", Values: []any{1, int64(2)}, Mask: []bool{true, false}},
		{Name: "flags", Values: []any{true, false, 1}},
		{Name: "words", Values: []any{"a", "b"}},
	}}

	feeds, err := model.BindFeeds(doc, pool)
	require.NoError(t, err)

	x, err := feeds.GetValueByName("x")
	require.NoError(t, err)
	assert.Equal(t, tensor.Float32, x.DType(), "int32 feed is cast to the declared dtype")
	assert.Equal(t, []int{1, 2}, x.Shape())

	xNode, _ := model.Graph.Node("x")
	mask := feeds.GetMask(xNode)
	require.NotNil(t, mask)
	bits, err := mask.(*tensor.Tensor).Numbers()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, bits)

	flags, err := feeds.GetValueByName("flags")
	require.NoError(t, err)
	flagValues, err := flags.(*tensor.Tensor).Numbers()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 1}, flagValues)

	words, err := feeds.GetValueByName("words")
	require.NoError(t, err)
	assert.Equal(t, tensor.String, words.DType())

	// x, its cast, its mask, flags and words.
	assert.Equal(t, 5, pool.NumLive())
	feeds.Release()
	assert.Equal(t, 0, pool.NumLive())
}

func TestBindFeeds_Errors(t *testing.T) {
	model := mustBuild(t, feedGraphYAML)

	tests := []struct {
		name  string
		feeds []config.FeedValue
		check func(*testing.T, error)
	}{
		{
			name:  "unknown node",
			feeds: []config.FeedValue{{Name: "z", Values: []any{1}}},
		},
		{
			name:  "shape mismatch",
			feeds: []config.FeedValue{{Name: "x", Shape: []int{1, 3}, Values: []any{1, 2, 3}}},
			check: func(t *testing.T, err error) {
				assert.True(t, engine.IsShapeError(err), "error = %v", err)
			},
		},
		{
			name:  "size mismatch",
			feeds: []config.FeedValue{{Name: "x", Shape: []int{2, 2}, Values: []any{1}}},
		},
		{
			name:  "string for number",
			feeds: []config.FeedValue{{Name: "flags", Values: []any{"yes"}}},
		},
		{
			name:  "number for string",
			feeds: []config.FeedValue{{Name: "words", Values: []any{1}}},
		},
		{
			name:  "mask size",
			feeds: []config.FeedValue{{Name: "x", Shape: []int{1, 2}, Values: []any{1, 2}, Mask: []bool{true}}},
		},
		{
			name:  "unexpanded script",
			feeds: []config.FeedValue{{Name: "x", Script: "values = [1, 2]"}},
		},
		{
			name: "duplicate after a valid feed",
			feeds: []config.FeedValue{
				{Name: "flags", Values: []any{true}},
				{Name: "flags", Values: []any{false}},
			},
			check: func(t *testing.T, err error) {
				assert.True(t, engine.IsDuplicateKeyError(err), "error = %v", err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := tensor.NewPool()
			_, err := model.BindFeeds(&config.FeedDocument{Feeds: tt.feeds}, pool)
			require.Error(t, err)
			if tt.check != nil {
				tt.check(t, err)
			}
			assert.Equal(t, 0, pool.NumLive(), "failed binding leaked values")
		})
	}
}
