package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutIntersectFixed(t *testing.T) {
	l, ok := Layout{AxisN, AxisC, AxisH, AxisW}.Intersect(Layout{AxisN, AxisWildcard, AxisH, AxisW})
	require.True(t, ok)
	assert.Equal(t, Layout{AxisN, AxisC, AxisH, AxisW}, l)

	_, ok = Layout{AxisN, AxisC}.Intersect(Layout{AxisN, AxisH})
	assert.False(t, ok)
}

func TestLayoutIntersectEllipsisAbsorbsDemultiplexPrefix(t *testing.T) {
	// A demultiplex node inserts a leading shard-index axis; the consumer's
	// layout still declares the un-prefixed N,C,H,W shape via "...".
	withShard := Layout{AxisEllipsis, AxisN, AxisC, AxisH, AxisW}
	consumer := Layout{"S", AxisN, AxisC, AxisH, AxisW}

	l, ok := withShard.Intersect(consumer)
	require.True(t, ok)
	assert.Equal(t, Layout{"S", AxisN, AxisC, AxisH, AxisW}, l)
}

func TestTensorInfoIntersection(t *testing.T) {
	a := TensorInfo{
		Name: "b", MappedName: "b", ElementType: Undefined,
		Shape: Shape{Static(1), Range(1, 100)}, Layout: Layout{AxisN, AxisC},
	}
	b := TensorInfo{
		Name: "b", MappedName: "b", ElementType: FP32,
		Shape: Shape{Static(1), Static(10)}, Layout: Layout{AxisN, AxisWildcard},
	}

	got, ok := a.Intersection(b)
	require.True(t, ok)
	assert.Equal(t, FP32, got.ElementType)
	assert.Equal(t, Shape{Static(1), Static(10)}, got.Shape)
	assert.Equal(t, Layout{AxisN, AxisC}, got.Layout)
}

func TestTensorInfoIntersectionNameMismatch(t *testing.T) {
	a := TensorInfo{Name: "a", MappedName: "a", Shape: Shape{Static(1)}, Layout: Layout{AxisN}}
	b := TensorInfo{Name: "b", MappedName: "b", Shape: Shape{Static(1)}, Layout: Layout{AxisN}}
	_, ok := a.Intersection(b)
	assert.False(t, ok)
}

func TestTensorInfoIntersectionIsCommutative(t *testing.T) {
	a := TensorInfo{Name: "x", MappedName: "x", ElementType: FP32, Shape: Shape{Range(1, 10)}, Layout: Layout{AxisN}}
	b := TensorInfo{Name: "x", MappedName: "x", ElementType: Undefined, Shape: Shape{Range(5, 20)}, Layout: Layout{AxisN}}

	ab, okAB := a.Intersection(b)
	ba, okBA := b.Intersection(a)
	require.Equal(t, okAB, okBA)
	require.True(t, okAB)
	assert.Equal(t, ab, ba)
}

func TestElementTypePrecisionMismatch(t *testing.T) {
	a := TensorInfo{Name: "x", MappedName: "x", ElementType: FP32, Shape: Shape{Static(1)}, Layout: Layout{AxisN}}
	b := TensorInfo{Name: "x", MappedName: "x", ElementType: I32, Shape: Shape{Static(1)}, Layout: Layout{AxisN}}
	_, ok := a.Intersection(b)
	assert.False(t, ok)
}
