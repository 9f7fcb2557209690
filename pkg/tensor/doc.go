// Package tensor provides the concrete value type evaluated by the engine.
//
// A Tensor carries a shape, an element dtype and its data. Tensors are
// allocated from a Pool, which counts how many are still live; the engine's
// execution probe samples that count. Dispose releases a tensor and is
// idempotent, so the engine can batch releases without double-free hazards.
//
// Numeric dtypes (float32, int32, bool) convert implicitly between each
// other through Cast. Strings never convert.
package tensor
