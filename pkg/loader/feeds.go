package loader

import (
	"fmt"

	"github.com/openfroyo/symgraph/pkg/config"
	"github.com/openfroyo/symgraph/pkg/engine"
	"github.com/openfroyo/symgraph/pkg/graph"
	"github.com/openfroyo/symgraph/pkg/tensor"
)

// BoundFeeds is a feed table built from a document together with the values
// allocated for it.
type BoundFeeds struct {
	*engine.FeedDict

	owned []tensor.Value
}

// Release disposes every value allocated for the table, including the casts
// made by the table itself.
func (b *BoundFeeds) Release() {
	if b == nil {
		return
	}
	b.FeedDict.ReleaseConverted()
	for _, v := range b.owned {
		v.Dispose()
	}
	b.owned = nil
}

// BindFeeds allocates the document's values in pool and binds them to the
// model's nodes. Scripted feeds must be expanded first. A nil pool uses the
// default pool.
func (m *Model) BindFeeds(doc *config.FeedDocument, pool *tensor.Pool) (*BoundFeeds, error) {
	if pool == nil {
		pool = tensor.Default()
	}
	dict, err := engine.NewFeedDict()
	if err != nil {
		return nil, err
	}
	bound := &BoundFeeds{FeedDict: dict}

	for i, f := range doc.Feeds {
		if err := m.bindFeed(bound, f, pool); err != nil {
			bound.Release()
			return nil, fmt.Errorf("feeds[%d] %s: %w", i, f.Name, err)
		}
	}
	return bound, nil
}

func (m *Model) bindFeed(bound *BoundFeeds, f config.FeedValue, pool *tensor.Pool) error {
	if f.Script != "" {
		return fmt.Errorf("scripted feed has not been expanded")
	}
	node, err := m.node(f.Name)
	if err != nil {
		return err
	}

	value, err := newFeedValue(node, f, pool)
	if err != nil {
		return err
	}
	if err := bound.Add(node, value); err != nil {
		value.Dispose()
		return err
	}
	bound.owned = append(bound.owned, value)

	if f.Mask == nil {
		return nil
	}
	if len(f.Mask) != value.Size() {
		return fmt.Errorf("mask has %d entries for %d values", len(f.Mask), value.Size())
	}
	bits := make([]float64, len(f.Mask))
	for i, keep := range f.Mask {
		if keep {
			bits[i] = 1
		}
	}
	mask, err := pool.New(value.Shape(), tensor.Bool, bits)
	if err != nil {
		return err
	}
	bound.owned = append(bound.owned, mask)
	return bound.AddMask(node, mask)
}

// newFeedValue allocates the tensor described by f. The dtype defaults to
// the node's declared dtype, then float32.
func newFeedValue(node *graph.Node, f config.FeedValue, pool *tensor.Pool) (*tensor.Tensor, error) {
	dtype := tensor.DType(f.DType)
	if dtype == "" {
		dtype = node.DType()
	}
	if dtype == "" {
		dtype = tensor.Float32
	}

	shape := f.Shape
	if shape == nil {
		shape = []int{len(f.Values)}
	}

	if dtype == tensor.String {
		data := make([]string, len(f.Values))
		for i, v := range f.Values {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("value %d: expected a string, got %T", i, v)
			}
			data[i] = s
		}
		return pool.NewStrings(shape, data)
	}

	data := make([]float64, len(f.Values))
	for i, v := range f.Values {
		n, err := toNumber(v)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		data[i] = n
	}
	return pool.New(shape, dtype, data)
}

func toNumber(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}
