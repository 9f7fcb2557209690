package engine

import (
	"fmt"

	"github.com/openfroyo/symgraph/pkg/graph"
	"github.com/openfroyo/symgraph/pkg/tensor"
)

// Feed binds a concrete value, and optionally a mask, to a node.
type Feed struct {
	Node  *graph.Node
	Value tensor.Value
	Mask  tensor.Value
}

// FeedDict maps nodes to concrete values. Entries are only ever added; a
// node or name can be bound once. It is not safe for concurrent mutation.
type FeedDict struct {
	values   map[int64]tensor.Value
	masks    map[int64]tensor.Value
	nodes    map[int64]*graph.Node
	nameToID map[string]int64
	names    []string

	// converted holds values this table allocated while adapting dtypes.
	converted []tensor.Value
}

// NewFeedDict builds a table from feeds, failing on the first bad entry.
func NewFeedDict(feeds ...Feed) (*FeedDict, error) {
	f := newFeedDict(len(feeds))
	for _, feed := range feeds {
		if err := f.Add(feed.Node, feed.Value); err != nil {
			return nil, err
		}
		if feed.Mask != nil {
			if err := f.AddMask(feed.Node, feed.Mask); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

func newFeedDict(capacity int) *FeedDict {
	return &FeedDict{
		values:   make(map[int64]tensor.Value, capacity),
		masks:    make(map[int64]tensor.Value),
		nodes:    make(map[int64]*graph.Node, capacity),
		nameToID: make(map[string]int64, capacity),
		names:    make([]string, 0, capacity),
	}
}

// Clone returns a table sharing every entry of f. Values are not copied.
// A nil receiver yields an empty table.
func (f *FeedDict) Clone() *FeedDict {
	if f == nil {
		return newFeedDict(0)
	}
	out := newFeedDict(len(f.values))
	for id, v := range f.values {
		out.values[id] = v
	}
	for id, m := range f.masks {
		out.masks[id] = m
	}
	for id, n := range f.nodes {
		out.nodes[id] = n
	}
	for name, id := range f.nameToID {
		out.nameToID[name] = id
	}
	out.names = append(out.names, f.names...)
	return out
}

// Add binds value to node after checking it against the node's declared
// shape and dtype. A value of another dtype is cast and the cast result is
// stored. On failure the table is unchanged.
func (f *FeedDict) Add(node *graph.Node, value tensor.Value) error {
	if node == nil {
		return NewInvariantError("cannot bind a value to a nil node")
	}
	if value == nil {
		return NewInvariantError("cannot bind a nil value").WithNode(node.Name())
	}
	if _, exists := f.values[node.ID()]; exists {
		return NewDuplicateKeyError(fmt.Sprintf("node %q is already bound", node.Name())).
			WithNode(node.Name())
	}
	if _, exists := f.nameToID[node.Name()]; exists {
		return NewDuplicateKeyError(fmt.Sprintf("name %q is already bound to another node", node.Name())).
			WithNode(node.Name())
	}

	adapted, err := adaptValue(node, value)
	if err != nil {
		return err
	}
	if adapted != value {
		f.converted = append(f.converted, adapted)
	}

	f.bind(node, adapted)
	return nil
}

// bind stores value without checks. The executor uses it for values it
// produced itself.
func (f *FeedDict) bind(node *graph.Node, value tensor.Value) {
	f.values[node.ID()] = value
	f.nodes[node.ID()] = node
	f.nameToID[node.Name()] = node.ID()
	f.names = append(f.names, node.Name())
}

// AddMask attaches a mask to a bound node. A node can carry one mask.
func (f *FeedDict) AddMask(node *graph.Node, mask tensor.Value) error {
	if node == nil || mask == nil {
		return NewInvariantError("mask and node are required")
	}
	if _, ok := f.values[node.ID()]; !ok {
		return NewLookupError(fmt.Sprintf("cannot mask unbound node %q", node.Name())).
			WithNode(node.Name())
	}
	if _, exists := f.masks[node.ID()]; exists {
		return NewDuplicateKeyError(fmt.Sprintf("node %q already has a mask", node.Name())).
			WithNode(node.Name())
	}
	f.masks[node.ID()] = mask
	return nil
}

// HasKey reports whether node is bound.
func (f *FeedDict) HasKey(node *graph.Node) bool {
	if f == nil || node == nil {
		return false
	}
	_, ok := f.values[node.ID()]
	return ok
}

// HasName reports whether a node with this name is bound.
func (f *FeedDict) HasName(name string) bool {
	if f == nil {
		return false
	}
	_, ok := f.nameToID[name]
	return ok
}

// Names returns the bound node names in insertion order.
func (f *FeedDict) Names() []string {
	if f == nil {
		return nil
	}
	return append([]string(nil), f.names...)
}

// Len returns the number of bound nodes.
func (f *FeedDict) Len() int {
	if f == nil {
		return 0
	}
	return len(f.values)
}

// Nodes returns the bound nodes in insertion order.
func (f *FeedDict) Nodes() []*graph.Node {
	if f == nil {
		return nil
	}
	out := make([]*graph.Node, len(f.names))
	for i, name := range f.names {
		out[i] = f.nodes[f.nameToID[name]]
	}
	return out
}

// Feeds returns every binding in insertion order. Passing the result to
// NewFeedDict rebuilds an equivalent table.
func (f *FeedDict) Feeds() []Feed {
	if f == nil {
		return nil
	}
	out := make([]Feed, len(f.names))
	for i, name := range f.names {
		id := f.nameToID[name]
		out[i] = Feed{Node: f.nodes[id], Value: f.values[id], Mask: f.masks[id]}
	}
	return out
}

// GetValue returns the value bound to node.
func (f *FeedDict) GetValue(node *graph.Node) (tensor.Value, error) {
	if f != nil && node != nil {
		if v, ok := f.values[node.ID()]; ok {
			return v, nil
		}
	}
	name := "<nil>"
	if node != nil {
		name = node.Name()
	}
	return nil, NewLookupError(fmt.Sprintf("no value is bound to node %q", name)).WithNode(name)
}

// GetValueByName returns the value bound to the node with this name.
func (f *FeedDict) GetValueByName(name string) (tensor.Value, error) {
	if f != nil {
		if id, ok := f.nameToID[name]; ok {
			return f.values[id], nil
		}
	}
	return nil, NewLookupError(fmt.Sprintf("no value is bound to name %q", name)).WithNode(name)
}

// GetMask returns the mask of node, or nil.
func (f *FeedDict) GetMask(node *graph.Node) tensor.Value {
	if f == nil || node == nil {
		return nil
	}
	return f.masks[node.ID()]
}

// ReleaseConverted disposes the values this table allocated when casting
// feeds to their declared dtype. Clones never own such values.
func (f *FeedDict) ReleaseConverted() {
	if f == nil {
		return
	}
	for _, v := range f.converted {
		v.Dispose()
	}
	f.converted = nil
}

// adaptValue checks value against node's declared shape and casts it to
// the declared dtype when they differ.
func adaptValue(node *graph.Node, value tensor.Value) (tensor.Value, error) {
	if value.IsDisposed() {
		return nil, NewInvariantError(fmt.Sprintf("value fed to %q has been disposed", node.Name())).
			WithNode(node.Name())
	}

	if declared := node.Shape(); declared.Declared() {
		actual := value.Shape()
		if len(declared) != len(actual) {
			return nil, NewShapeError(fmt.Sprintf(
				"the value fed to %q has rank %d, but the node expects rank %d %s",
				node.Name(), len(actual), len(declared), declared)).
				WithNode(node.Name()).
				WithDetail("expected", declared.String()).
				WithDetail("actual", actual)
		}
		for i, d := range declared {
			if d != graph.Wildcard && d != actual[i] {
				return nil, NewShapeError(fmt.Sprintf(
					"the value fed to %q has %d at dimension %d, but the node expects %d %s",
					node.Name(), actual[i], i, d, declared)).
					WithNode(node.Name()).
					WithDetail("dimension", i).
					WithDetail("expected", declared.String()).
					WithDetail("actual", actual)
			}
		}
	}

	if declared := node.DType(); declared != "" && declared != value.DType() {
		cast, err := value.Cast(declared)
		if err != nil {
			return nil, NewTypeError(fmt.Sprintf(
				"the dtype of the value fed to %q (%s) cannot be converted to the declared dtype %s",
				node.Name(), value.DType(), declared), err).
				WithNode(node.Name())
		}
		return cast, nil
	}

	return value, nil
}
