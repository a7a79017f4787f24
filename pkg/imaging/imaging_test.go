package imaging

import (
	"testing"

	"github.com/kitware/volview-rpc/pkg/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeProducesTaggedBlob(t *testing.T) {
	img := ImageBuffer{
		Dims:    []int{2, 2, 1},
		Spacing: []float64{1, 1, 1},
		Origin:  []float64{0, 0, 0},
		Dtype:   "uint8",
		Data:    []byte{1, 2, 3, 4},
	}

	out := Serialize(img)
	m, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, m["__image__"])
	assert.Equal(t, "uint8", m["dtype"])
	assert.Equal(t, []any{2, 2, 1}, m["dims"])
	assert.Equal(t, "AQIDBA==", m["data"])
}

func TestSerializeNonImagePassesThrough(t *testing.T) {
	assert.Equal(t, "hello", Serialize("hello"))
	assert.Equal(t, 5, Serialize(5))
}

func TestDeserializeReversesSerialize(t *testing.T) {
	img := ImageBuffer{
		Dims:    []int{3},
		Spacing: []float64{0.5},
		Origin:  []float64{1.5},
		Dtype:   "float32",
		Data:    []byte{9, 8, 7},
	}

	blob := Serialize(img)
	got := Deserialize(blob)

	back, ok := got.(ImageBuffer)
	require.True(t, ok)
	assert.Equal(t, img.Dims, back.Dims)
	assert.Equal(t, img.Spacing, back.Spacing)
	assert.Equal(t, img.Origin, back.Origin)
	assert.Equal(t, img.Dtype, back.Dtype)
	assert.Equal(t, img.Data, back.Data)
}

func TestDeserializeNonTaggedMapPassesThrough(t *testing.T) {
	m := map[string]any{"foo": "bar"}
	assert.Equal(t, m, Deserialize(m))
}

func TestSerializeHaltsPipelineDescent(t *testing.T) {
	img := ImageBuffer{
		Dims: []int{1000000},
		Data: make([]byte, 1000000),
	}

	// Apply walks into the output map, but the voxel bytes are already one
	// base64 string there, and the map's values (bools, strings, lists of
	// numbers) are not further transformable by Serialize.
	out := transform.Apply(img, Serialize)
	m, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, m["__image__"])
}
