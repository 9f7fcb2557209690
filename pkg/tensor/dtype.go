package tensor

import (
	"fmt"
	"math"
)

// DType is the element type tag of a value.
type DType string

const (
	// Float32 holds single precision floats.
	Float32 DType = "float32"

	// Int32 holds 32-bit signed integers.
	Int32 DType = "int32"

	// Bool holds booleans stored as 0 and 1.
	Bool DType = "bool"

	// String holds UTF-8 strings.
	String DType = "string"
)

// Validate returns an error if the dtype is not recognized.
func (d DType) Validate() error {
	switch d {
	case Float32, Int32, Bool, String:
		return nil
	default:
		return fmt.Errorf("invalid dtype: %q", string(d))
	}
}

// IsNumeric reports whether values of this dtype are stored as numbers.
func (d DType) IsNumeric() bool {
	return d == Float32 || d == Int32 || d == Bool
}

// ParseDType converts a string to a DType.
func ParseDType(s string) (DType, error) {
	d := DType(s)
	if err := d.Validate(); err != nil {
		return "", err
	}
	return d, nil
}

// canCast reports whether an implicit conversion from one dtype to another exists.
// Numeric dtypes convert freely between each other; strings never convert.
func canCast(from, to DType) bool {
	if from == to {
		return true
	}
	return from.IsNumeric() && to.IsNumeric()
}

// coerce normalizes a float64 so it is representable in the given dtype.
func coerce(v float64, d DType) float64 {
	switch d {
	case Float32:
		return float64(float32(v))
	case Int32:
		if math.IsNaN(v) {
			return 0
		}
		t := math.Trunc(v)
		if t > math.MaxInt32 {
			return math.MaxInt32
		}
		if t < math.MinInt32 {
			return math.MinInt32
		}
		return t
	case Bool:
		if v != 0 {
			return 1
		}
		return 0
	default:
		return v
	}
}
