package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferencemesh/modelmesh/internal/core/tensor"
)

func TestWireTensorRoundTrip(t *testing.T) {
	original := tensor.NewFP32([]int64{1, 3}, []float32{1, 2, 3})

	wire := fromTensor(original)
	assert.Equal(t, "fp32", wire.DType)
	assert.Equal(t, []int64{1, 3}, wire.Shape)

	back, err := wire.toTensor()
	require.NoError(t, err)
	assert.Equal(t, original.ElementType, back.ElementType)
	assert.Equal(t, original.Data, back.Data)

	values, err := back.Float32Values()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, values)
}

func TestElementTypeFromWireUnknown(t *testing.T) {
	_, err := elementTypeFromWire("fp9000")
	require.Error(t, err)
}

func TestDecodeRequestPropagatesInputError(t *testing.T) {
	_, err := decodeRequest(map[string]wireTensor{"a": {DType: "not-a-type"}})
	require.Error(t, err)
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	in := map[string]tensor.Tensor{
		"a": tensor.NewFP32([]int64{2}, []float32{4, 5}),
	}
	wire := encodeResponse(in)
	out, err := decodeRequest(wire)
	require.NoError(t, err)
	assert.Equal(t, in["a"].Data, out["a"].Data)
}
