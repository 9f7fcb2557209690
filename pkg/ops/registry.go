package ops

import (
	"fmt"
	"sort"
	"sync"

	"github.com/openfroyo/symgraph/pkg/graph"
)

// Attrs are the static parameters of a kernel, as written in graph documents.
type Attrs map[string]any

// Factory builds a kernel from its attributes.
type Factory func(attrs Attrs) (graph.Kernel, error)

// Registry maps kernel type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Registering the same type twice is an error.
func (r *Registry) Register(kernelType string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[kernelType]; exists {
		return fmt.Errorf("kernel type %s already registered", kernelType)
	}
	r.factories[kernelType] = factory
	return nil
}

// Build constructs a kernel of the given type.
func (r *Registry) Build(kernelType string, attrs Attrs) (graph.Kernel, error) {
	r.mu.RLock()
	factory, ok := r.factories[kernelType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown kernel type: %s", kernelType)
	}
	kernel, err := factory(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s: %w", kernelType, err)
	}
	return kernel, nil
}

// Has reports whether a type is registered.
func (r *Registry) Has(kernelType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kernelType]
	return ok
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Builtin returns a registry holding every kernel in this package.
func Builtin() *Registry {
	r := NewRegistry()
	for t, f := range map[string]Factory{
		"Add":      func(Attrs) (graph.Kernel, error) { return NewAdd(), nil },
		"Mul":      func(Attrs) (graph.Kernel, error) { return NewMul(), nil },
		"MatMul":   func(Attrs) (graph.Kernel, error) { return NewMatMul(), nil },
		"Relu":     func(Attrs) (graph.Kernel, error) { return NewRelu(), nil },
		"Sum":      func(Attrs) (graph.Kernel, error) { return NewSum(), nil },
		"Concat":   func(Attrs) (graph.Kernel, error) { return NewConcat(), nil },
		"Scale":    scaleFromAttrs,
		"Cast":     castFromAttrs,
		"Split":    splitFromAttrs,
		"Dropout":  dropoutFromAttrs,
		"Masking":  maskingFromAttrs,
		"Variable": variableFromAttrs,
		"Lambda":   lambdaFromAttrs,
	} {
		_ = r.Register(t, f)
	}
	return r
}

func (a Attrs) getFloat(key string, def float64) (float64, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("attribute %s must be a number, got %T", key, v)
	}
}

func (a Attrs) getInt(key string, def int) (int, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("attribute %s must be an integer, got %v", key, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("attribute %s must be an integer, got %T", key, v)
	}
}

func (a Attrs) getString(key, def string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("attribute %s must be a string, got %T", key, v)
	}
	return s, nil
}

func (a Attrs) getInts(key string) ([]int, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		if direct, ok := v.([]int); ok {
			return direct, nil
		}
		return nil, fmt.Errorf("attribute %s must be a list, got %T", key, v)
	}
	out := make([]int, len(list))
	for i, item := range list {
		n, err := Attrs{key: item}.getInt(key, 0)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func (a Attrs) getFloats(key string) ([]float64, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		if direct, ok := v.([]float64); ok {
			return direct, nil
		}
		return nil, fmt.Errorf("attribute %s must be a list, got %T", key, v)
	}
	out := make([]float64, len(list))
	for i, item := range list {
		n, err := Attrs{key: item}.getFloat(key, 0)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}
