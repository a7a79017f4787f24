// Package imaging provides one illustrative pluggable transformer for the
// argument/result pipeline (spec.md §4.2/§4.7): it serializes an
// ImageBuffer into a JSON-safe, base64-encoded blob and reverses that on
// the way back in. It is the Go-idiomatic stand-in for the original's
// ITK⇆vtk.js converters (see DESIGN.md for why capnp/protobuf codegen is
// not reproduced here).
package imaging

import (
	"encoding/base64"
	"fmt"
)

// ImageBuffer is a raw voxel buffer plus the metadata needed to interpret
// it: dimensions, per-axis spacing, origin, and element dtype.
type ImageBuffer struct {
	Dims    []int
	Spacing []float64
	Origin  []float64
	Dtype   string
	Data    []byte
}

const tagKey = "__image__"

// Serialize is a transform.Func: it replaces an ImageBuffer with a
// JSON-safe map carrying the base64-encoded payload. Any other value
// passes through unchanged. The transform pipeline still walks into the
// output map, but its values (a bool, strings, and lists of numbers) are
// not ImageBuffers, so Serialize leaves them as they are; the voxel bytes
// are already a single base64 string by then and are never walked
// element-by-element.
func Serialize(v any) any {
	img, ok := v.(ImageBuffer)
	if !ok {
		if p, ok := v.(*ImageBuffer); ok {
			img = *p
		} else {
			return v
		}
	}

	dims := make([]any, len(img.Dims))
	for i, d := range img.Dims {
		dims[i] = d
	}
	spacing := make([]any, len(img.Spacing))
	for i, s := range img.Spacing {
		spacing[i] = s
	}
	origin := make([]any, len(img.Origin))
	for i, o := range img.Origin {
		origin[i] = o
	}

	return map[string]any{
		tagKey:    true,
		"dims":    dims,
		"spacing": spacing,
		"origin":  origin,
		"dtype":   img.Dtype,
		"data":    base64.StdEncoding.EncodeToString(img.Data),
	}
}

// Deserialize is the inverse transform.Func: it recognizes the tagged map
// produced by Serialize and reconstructs an ImageBuffer. Any other value
// passes through unchanged.
func Deserialize(v any) any {
	m, ok := v.(map[string]any)
	if !ok || m[tagKey] != true {
		return v
	}

	dims, err := toIntSlice(m["dims"])
	if err != nil {
		return v
	}
	spacing, err := toFloatSlice(m["spacing"])
	if err != nil {
		return v
	}
	origin, err := toFloatSlice(m["origin"])
	if err != nil {
		return v
	}
	dtype, _ := m["dtype"].(string)
	encoded, _ := m["data"].(string)

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return v
	}

	return ImageBuffer{
		Dims:    dims,
		Spacing: spacing,
		Origin:  origin,
		Dtype:   dtype,
		Data:    data,
	}
}

func toIntSlice(v any) ([]int, error) {
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("imaging: expected a list, got %T", v)
	}
	out := make([]int, len(raw))
	for i, item := range raw {
		n, ok := item.(int)
		if !ok {
			if f, ok := item.(float64); ok {
				n = int(f)
			} else {
				return nil, fmt.Errorf("imaging: expected an int at index %d, got %T", i, item)
			}
		}
		out[i] = n
	}
	return out, nil
}

func toFloatSlice(v any) ([]float64, error) {
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("imaging: expected a list, got %T", v)
	}
	out := make([]float64, len(raw))
	for i, item := range raw {
		f, ok := item.(float64)
		if !ok {
			if n, ok := item.(int); ok {
				f = float64(n)
			} else {
				return nil, fmt.Errorf("imaging: expected a float at index %d, got %T", i, item)
			}
		}
		out[i] = f
	}
	return out, nil
}
