// Package transform implements the recursive argument/result transform
// pipeline described in spec.md §4.2: pipe(x, f1..fn) applies transforms
// left to right, and Apply recurses into the *output* of a transform
// rather than its input, so a transformer that replaces a whole subtree
// with a scalar halts further descent into what was originally a
// container (spec.md §9).
package transform

// Func is a single value-to-value transform step.
type Func func(any) any

// Pipe applies fns in order: fn(...f2(f1(x))).
func Pipe(x any, fns ...Func) any {
	result := x
	for _, fn := range fns {
		result = fn(result)
	}
	return result
}

// Apply applies t once to x, then recurses into the *output*: for slices
// it maps element-wise, for string-keyed maps it maps value-wise (keys
// untouched), and for any other value it stops. Because recursion walks
// the output, a transformer that collapses a container into a scalar (for
// example, serializing an image buffer into a base64 blob) stops descent
// there rather than recursing into the pre-transform container.
func Apply(x any, t Func) any {
	output := t(x)

	switch v := output.(type) {
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = Apply(item, t)
		}
		return result
	case map[string]any:
		result := make(map[string]any, len(v))
		for k, item := range v {
			result[k] = Apply(item, t)
		}
		return result
	default:
		return output
	}
}

// ApplyPipeline runs the full pipe-then-recurse contract: Apply(x, func(v
// any) any { return Pipe(v, fns...) }).
func ApplyPipeline(x any, fns ...Func) any {
	return Apply(x, func(v any) any {
		return Pipe(v, fns...)
	})
}

// ApplyAll runs ApplyPipeline over every element of objs, matching the
// original's transform_objects helper used for RPC argument lists.
func ApplyAll(objs []any, fns ...Func) []any {
	out := make([]any, len(objs))
	for i, obj := range objs {
		out[i] = ApplyPipeline(obj, fns...)
	}
	return out
}
