package tensor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

var (
	// ErrUnsupportedCast is returned when no implicit conversion exists between two dtypes.
	ErrUnsupportedCast = errors.New("unsupported cast")

	// ErrDisposed is returned when a disposed value is read.
	ErrDisposed = errors.New("value has been disposed")

	// ErrSizeMismatch is returned when the data length does not match the shape.
	ErrSizeMismatch = errors.New("data size does not match shape")
)

// Value is the opaque concrete value the engine moves between nodes.
// Implementations must make Dispose idempotent.
type Value interface {
	// Shape returns the concrete dimensions of the value.
	Shape() []int

	// DType returns the element type.
	DType() DType

	// IsDisposed reports whether Dispose has been called.
	IsDisposed() bool

	// Dispose releases the value. Calling it twice is a no-op.
	Dispose()

	// Cast returns a new value converted to the given dtype.
	Cast(to DType) (Value, error)
}

// Tensor is the in-memory Value implementation. Numeric data is held as
// float64 regardless of dtype and normalized on construction.
type Tensor struct {
	id       uint64
	shape    []int
	dtype    DType
	numbers  []float64
	strs     []string
	pool     *Pool
	disposed atomic.Bool
}

// ID returns the tensor's pool-unique identifier.
func (t *Tensor) ID() uint64 {
	return t.id
}

// Shape returns a copy of the tensor's dimensions.
func (t *Tensor) Shape() []int {
	out := make([]int, len(t.shape))
	copy(out, t.shape)
	return out
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.shape)
}

// DType returns the element type.
func (t *Tensor) DType() DType {
	return t.dtype
}

// Size returns the number of elements.
func (t *Tensor) Size() int {
	return sizeOf(t.shape)
}

// Pool returns the pool that owns the tensor.
func (t *Tensor) Pool() *Pool {
	return t.pool
}

// IsDisposed reports whether Dispose has been called.
func (t *Tensor) IsDisposed() bool {
	return t.disposed.Load()
}

// Dispose releases the tensor and decrements the pool's live count once.
func (t *Tensor) Dispose() {
	if !t.disposed.CompareAndSwap(false, true) {
		return
	}
	t.numbers = nil
	t.strs = nil
	if t.pool != nil {
		t.pool.release()
	}
}

// Numbers returns the numeric elements in row-major order.
// The returned slice must not be modified.
func (t *Tensor) Numbers() ([]float64, error) {
	if t.IsDisposed() {
		return nil, ErrDisposed
	}
	if !t.dtype.IsNumeric() {
		return nil, fmt.Errorf("tensor of dtype %s has no numeric data", t.dtype)
	}
	return t.numbers, nil
}

// Strings returns the string elements in row-major order.
// The returned slice must not be modified.
func (t *Tensor) Strings() ([]string, error) {
	if t.IsDisposed() {
		return nil, ErrDisposed
	}
	if t.dtype != String {
		return nil, fmt.Errorf("tensor of dtype %s has no string data", t.dtype)
	}
	return t.strs, nil
}

// Cast converts the tensor to another dtype, allocating from the same pool.
func (t *Tensor) Cast(to DType) (Value, error) {
	if t.IsDisposed() {
		return nil, ErrDisposed
	}
	if err := to.Validate(); err != nil {
		return nil, err
	}
	if !canCast(t.dtype, to) {
		return nil, fmt.Errorf("%w: %s to %s", ErrUnsupportedCast, t.dtype, to)
	}
	if to == String {
		return t.pool.NewStrings(t.shape, t.strs)
	}
	return t.pool.New(t.shape, to, t.numbers)
}

// Clone returns a copy of the tensor allocated from the same pool.
func (t *Tensor) Clone() (*Tensor, error) {
	if t.IsDisposed() {
		return nil, ErrDisposed
	}
	if t.dtype == String {
		return t.pool.NewStrings(t.shape, t.strs)
	}
	return t.pool.New(t.shape, t.dtype, t.numbers)
}

// String renders the tensor for display.
func (t *Tensor) String() string {
	if t.IsDisposed() {
		return fmt.Sprintf("Tensor<%s %v disposed>", t.dtype, t.shape)
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Tensor<%s %v> [", t.dtype, t.shape))
	n := t.Size()
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		if i == 16 {
			sb.WriteString("...")
			break
		}
		switch t.dtype {
		case String:
			sb.WriteString(strconv.Quote(t.strs[i]))
		case Bool:
			sb.WriteString(strconv.FormatBool(t.numbers[i] != 0))
		default:
			sb.WriteString(strconv.FormatFloat(t.numbers[i], 'g', -1, 64))
		}
	}
	sb.WriteString("]")
	return sb.String()
}

// sizeOf returns the element count of a shape. A rank-0 shape holds one element.
func sizeOf(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
