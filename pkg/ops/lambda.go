package ops

import (
	"context"
	"fmt"

	"go.starlark.net/starlark"

	"github.com/openfroyo/symgraph/pkg/graph"
	"github.com/openfroyo/symgraph/pkg/tensor"
)

// lambdaEntrypoint is the function a Lambda script must define.
const lambdaEntrypoint = "fn"

// maxLambdaSteps bounds the Starlark steps spent on a single element.
const maxLambdaSteps = 100000

// Lambda applies a Starlark function to every element of its input.
//
// The script must define fn(x) returning a number or bool:
//
//	def fn(x):
//	    return x * x if x > 0 else 0
type Lambda struct {
	source string
	dtype  tensor.DType
	fn     *starlark.Function
}

// NewLambda compiles script. An empty dtype keeps the input dtype.
func NewLambda(script string, dtype tensor.DType) (*Lambda, error) {
	if dtype != "" {
		if err := dtype.Validate(); err != nil {
			return nil, err
		}
		if !dtype.IsNumeric() {
			return nil, fmt.Errorf("lambda output dtype must be numeric, got %s", dtype)
		}
	}

	thread := &starlark.Thread{
		Name:  "lambda-compile",
		Print: func(_ *starlark.Thread, _ string) {},
	}
	globals, err := starlark.ExecFile(thread, "lambda.star", script, nil)
	if err != nil {
		return nil, fmt.Errorf("starlark compilation failed: %w", err)
	}
	globals.Freeze()

	fn, ok := globals[lambdaEntrypoint].(*starlark.Function)
	if !ok {
		return nil, fmt.Errorf("script must define %s(x)", lambdaEntrypoint)
	}
	if fn.NumParams() != 1 {
		return nil, fmt.Errorf("%s must take exactly 1 parameter, got %d", lambdaEntrypoint, fn.NumParams())
	}

	return &Lambda{source: script, dtype: dtype, fn: fn}, nil
}

func lambdaFromAttrs(attrs Attrs) (graph.Kernel, error) {
	script, err := attrs.getString("script", "")
	if err != nil {
		return nil, err
	}
	if script == "" {
		return nil, fmt.Errorf("attribute script is required")
	}
	dtype, err := attrs.getString("dtype", "")
	if err != nil {
		return nil, err
	}
	return NewLambda(script, tensor.DType(dtype))
}

func (k *Lambda) Type() string { return "Lambda" }

// Source returns the script text.
func (k *Lambda) Source() string { return k.source }

func (k *Lambda) InferOutputs(inputs []graph.Spec) ([]graph.Spec, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("Lambda takes 1 input, got %d", len(inputs))
	}
	if inputs[0].DType == tensor.String {
		return nil, fmt.Errorf("Lambda does not support string inputs")
	}
	dtype := k.dtype
	if dtype == "" {
		dtype = inputs[0].DType
	}
	return []graph.Spec{{Shape: inputs[0].Shape.Clone(), DType: dtype}}, nil
}

func (k *Lambda) Apply(_ context.Context, inputs []tensor.Value, _ graph.Kwargs) ([]tensor.Value, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("Lambda takes 1 input, got %d", len(inputs))
	}
	t, x, err := numbersOf(inputs[0])
	if err != nil {
		return nil, err
	}

	thread := &starlark.Thread{
		Name:  "lambda",
		Print: func(_ *starlark.Thread, _ string) {},
	}

	out := make([]float64, len(x))
	for i, v := range x {
		thread.SetMaxExecutionSteps(thread.ExecutionSteps() + maxLambdaSteps)
		result, err := starlark.Call(thread, k.fn, starlark.Tuple{starlark.Float(v)}, nil)
		if err != nil {
			return nil, fmt.Errorf("lambda failed at element %d: %w", i, err)
		}
		out[i], err = toFloat(result)
		if err != nil {
			return nil, fmt.Errorf("lambda element %d: %w", i, err)
		}
	}

	dtype := k.dtype
	if dtype == "" {
		dtype = t.DType()
	}
	result, err := t.Pool().New(t.Shape(), dtype, out)
	if err != nil {
		return nil, err
	}
	return []tensor.Value{result}, nil
}

func (k *Lambda) ComputeMask(_ []tensor.Value, masks []tensor.Value) ([]tensor.Value, error) {
	return forwardMask(masks)
}

// toFloat converts a Starlark scalar result to float64.
func toFloat(v starlark.Value) (float64, error) {
	switch val := v.(type) {
	case starlark.Float:
		return float64(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return 0, fmt.Errorf("integer too large")
		}
		return float64(i), nil
	case starlark.Bool:
		if val {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported result type: %s", v.Type())
	}
}
