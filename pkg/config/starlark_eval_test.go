package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStarlarkEvaluator_Evaluate(t *testing.T) {
	se := NewStarlarkEvaluator(time.Second)

	result, err := se.Evaluate(context.Background(), `
def double(v):
    return v * 2

x = double(a)
_private = 1
`, map[string]interface{}{"a": 21})
	require.NoError(t, err)
	assert.Equal(t, int64(42), result.Output["x"])
	assert.NotContains(t, result.Output, "_private")
	assert.NotContains(t, result.Output, "double")
}

func TestStarlarkEvaluator_Errors(t *testing.T) {
	se := NewStarlarkEvaluator(time.Second)

	_, err := se.Evaluate(context.Background(), "x = undefined_name", nil)
	assert.Error(t, err)

	_, err = se.Evaluate(context.Background(), "x = 1", map[string]interface{}{"c": make(chan int)})
	assert.Error(t, err)
}

func TestStarlarkEvaluator_Timeout(t *testing.T) {
	se := NewStarlarkEvaluator(10 * time.Millisecond)

	result, err := se.Evaluate(context.Background(), "x = len([i for i in range(100000000)])", nil)
	require.Error(t, err)
	assert.Contains(t, result.Error, "timeout")
}

func TestStarlarkEvaluator_ExpandFeeds(t *testing.T) {
	se := NewStarlarkEvaluator(time.Second)
	doc := &FeedDocument{Feeds: []FeedValue{
		{Name: "literal", Values: []any{1}},
		{Name: "grid", Script: "values = [[j * 0.5 for j in range(3)] for i in range(2)]\nshape = [2, 3]"},
		{Name: "ones", Shape: []int{2, 2}, Script: "values = [1] * (shape[0] * shape[1])"},
	}}

	require.NoError(t, se.ExpandFeeds(context.Background(), doc))

	assert.Equal(t, []any{1}, doc.Feeds[0].Values)

	grid := doc.Feeds[1]
	assert.Empty(t, grid.Script)
	assert.Equal(t, []int{2, 3}, grid.Shape)
	assert.Equal(t, []any{0.0, 0.5, 1.0, 0.0, 0.5, 1.0}, grid.Values)

	ones := doc.Feeds[2]
	assert.Equal(t, []int{2, 2}, ones.Shape)
	assert.Equal(t, []any{int64(1), int64(1), int64(1), int64(1)}, ones.Values)
}

func TestStarlarkEvaluator_ExpandFeedsErrors(t *testing.T) {
	se := NewStarlarkEvaluator(time.Second)
	ctx := context.Background()

	tests := []struct {
		name   string
		script string
	}{
		{"no values", "x = 1"},
		{"values not a list", "values = 3"},
		{"bad shape", "values = [1]\nshape = ['a']"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := &FeedDocument{Feeds: []FeedValue{{Name: "x", Script: tt.script}}}
			assert.Error(t, se.ExpandFeeds(ctx, doc))
		})
	}
}
