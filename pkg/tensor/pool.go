package tensor

import (
	"fmt"
	"sync/atomic"
)

// Pool allocates tensors and tracks how many are still live.
// It is safe for concurrent use.
type Pool struct {
	nextID atomic.Uint64
	live   atomic.Int64
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{}
}

// NumLive returns the number of allocated tensors that have not been disposed.
func (p *Pool) NumLive() int {
	return int(p.live.Load())
}

func (p *Pool) release() {
	p.live.Add(-1)
}

// New allocates a numeric tensor. The data is copied and normalized for the dtype.
func (p *Pool) New(shape []int, dtype DType, data []float64) (*Tensor, error) {
	if err := dtype.Validate(); err != nil {
		return nil, err
	}
	if !dtype.IsNumeric() {
		return nil, fmt.Errorf("dtype %s is not numeric", dtype)
	}
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if len(data) != sizeOf(shape) {
		return nil, fmt.Errorf("%w: shape %v needs %d elements, got %d",
			ErrSizeMismatch, shape, sizeOf(shape), len(data))
	}

	numbers := make([]float64, len(data))
	for i, v := range data {
		numbers[i] = coerce(v, dtype)
	}
	return p.track(&Tensor{
		shape:   append([]int(nil), shape...),
		dtype:   dtype,
		numbers: numbers,
	}), nil
}

// NewStrings allocates a string tensor.
func (p *Pool) NewStrings(shape []int, data []string) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if len(data) != sizeOf(shape) {
		return nil, fmt.Errorf("%w: shape %v needs %d elements, got %d",
			ErrSizeMismatch, shape, sizeOf(shape), len(data))
	}
	return p.track(&Tensor{
		shape: append([]int(nil), shape...),
		dtype: String,
		strs:  append([]string(nil), data...),
	}), nil
}

// Zeros allocates a numeric tensor filled with zeros.
func (p *Pool) Zeros(shape []int, dtype DType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	return p.New(shape, dtype, make([]float64, sizeOf(shape)))
}

// Scalar allocates a rank-0 float32 tensor.
func (p *Pool) Scalar(v float64) *Tensor {
	t, _ := p.New(nil, Float32, []float64{v})
	return t
}

func (p *Pool) track(t *Tensor) *Tensor {
	t.id = p.nextID.Add(1)
	t.pool = p
	p.live.Add(1)
	return t
}

func validateShape(shape []int) error {
	for i, d := range shape {
		if d < 0 {
			return fmt.Errorf("invalid dimension %d at index %d", d, i)
		}
	}
	return nil
}

// defaultPool backs the package-level constructors.
var defaultPool = NewPool()

// Default returns the process-wide pool.
func Default() *Pool {
	return defaultPool
}

// NumLive returns the number of live tensors in the process-wide pool.
func NumLive() int {
	return defaultPool.NumLive()
}

// New allocates a numeric tensor from the process-wide pool.
func New(shape []int, dtype DType, data []float64) (*Tensor, error) {
	return defaultPool.New(shape, dtype, data)
}

// NewStrings allocates a string tensor from the process-wide pool.
func NewStrings(shape []int, data []string) (*Tensor, error) {
	return defaultPool.NewStrings(shape, data)
}

// Scalar allocates a rank-0 float32 tensor from the process-wide pool.
func Scalar(v float64) *Tensor {
	return defaultPool.Scalar(v)
}

// PoolOf returns the pool owning v when v is a *Tensor, otherwise the process-wide pool.
func PoolOf(v Value) *Pool {
	if t, ok := v.(*Tensor); ok && t.pool != nil {
		return t.pool
	}
	return defaultPool
}

// AsTensor converts a Value to a live *Tensor.
func AsTensor(v Value) (*Tensor, error) {
	t, ok := v.(*Tensor)
	if !ok {
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
	if t.IsDisposed() {
		return nil, ErrDisposed
	}
	return t, nil
}
