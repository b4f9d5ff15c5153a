package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawTensorCopyFromInPlace(t *testing.T) {
	dst, err := FromFloat32([]float32{1, 2, 3}, Shape{3})
	require.NoError(t, err)
	dst.SetRequiresGrad(true)
	src, err := FromFloat32([]float32{7, 8, 9}, Shape{3})
	require.NoError(t, err)

	before := &dst.Data()[0]
	require.NoError(t, dst.CopyFrom(src))

	assert.Equal(t, []float32{7, 8, 9}, dst.AsFloat32())
	assert.True(t, dst.RequiresGrad(), "CopyFrom must not touch the trainable flag")
	assert.Same(t, before, &dst.Data()[0], "CopyFrom must reuse the buffer")
}

func TestRawTensorCopyFromVisibleToClones(t *testing.T) {
	dst, err := FromFloat32([]float32{0, 0}, Shape{2})
	require.NoError(t, err)
	clone := dst.Clone()
	src, err := FromFloat32([]float32{4, 5}, Shape{2})
	require.NoError(t, err)

	require.NoError(t, dst.CopyFrom(src))
	assert.Equal(t, []float32{4, 5}, clone.AsFloat32())
}

func TestRawTensorCopyFromMismatch(t *testing.T) {
	dst, err := FromFloat32([]float32{1, 2}, Shape{2})
	require.NoError(t, err)

	wrongShape, err := FromFloat32([]float32{1, 2}, Shape{1, 2})
	require.NoError(t, err)
	assert.ErrorIs(t, dst.CopyFrom(wrongShape), ErrShapeMismatch)

	wrongType, err := FromFloat64([]float64{1, 2}, Shape{2})
	require.NoError(t, err)
	assert.ErrorIs(t, dst.CopyFrom(wrongType), ErrDTypeMismatch)

	assert.Equal(t, []float32{1, 2}, dst.AsFloat32())
}

func TestRawTensorFromBytes(t *testing.T) {
	src, err := FromFloat64([]float64{1.5, -2}, Shape{2})
	require.NoError(t, err)

	raw, err := FromBytes(src.Shape(), Float64, CPU, src.Data())
	require.NoError(t, err)
	assert.True(t, raw.Equal(src))

	_, err = FromBytes(Shape{3}, Float64, CPU, src.Data())
	assert.Error(t, err)
}

func TestRawTensorToKeepsFlag(t *testing.T) {
	raw := Scalar32(1)
	raw.SetRequiresGrad(true)
	raw.To(CUDA)
	assert.Equal(t, CUDA, raw.Device())
	assert.True(t, raw.RequiresGrad())
}

func TestRawTensorString(t *testing.T) {
	raw, err := FromFloat32([]float32{1, 2, 3, 4, 5, 6, 7}, Shape{7})
	require.NoError(t, err)
	raw.SetRequiresGrad(true)
	assert.Equal(t, "float32[7] CPU requires_grad [1 2 3 4 5 6 ...]", raw.String())

	assert.Equal(t, "float32[] CPU [2.5]", Scalar32(2.5).String())

	ints, err := NewRaw(Shape{2, 2}, Int64, CPU)
	require.NoError(t, err)
	assert.Equal(t, "int64[2 2] CPU", ints.String())
}

func TestParseDataType(t *testing.T) {
	for _, dt := range []DataType{Float32, Float64, Int32, Int64, Uint8, Bool} {
		got, err := ParseDataType(dt.String())
		require.NoError(t, err)
		assert.Equal(t, dt, got)
	}
	_, err := ParseDataType("float16")
	assert.Error(t, err)
}

func TestShapeString(t *testing.T) {
	assert.Equal(t, "[2 3]", Shape{2, 3}.String())
	assert.Equal(t, "[]", Shape{}.String())
	assert.Equal(t, 1, Shape{}.NumElements())
	assert.Error(t, Shape{2, 0}.Validate())
}

func TestShapeCheckedNumElements(t *testing.T) {
	tests := []struct {
		shape Shape
		want  int
		ok    bool
	}{
		{Shape{}, 1, true},
		{Shape{2, 3}, 6, true},
		{Shape{1 << 62, 4}, 0, false},
		{Shape{1 << 31, 1 << 31, 4}, 0, false},
		{Shape{2, 0}, 0, false},
	}
	for _, tt := range tests {
		got, ok := tt.shape.CheckedNumElements()
		assert.Equal(t, tt.ok, ok, "shape %s", tt.shape)
		assert.Equal(t, tt.want, got, "shape %s", tt.shape)
	}

	_, ok := Shape{1 << 61}.ByteSize(Float64)
	assert.False(t, ok, "element count fits but byte size does not")
	size, ok := Shape{2, 3}.ByteSize(Float64)
	assert.True(t, ok)
	assert.Equal(t, 48, size)
}

func TestNewRawRejectsOverflowingShape(t *testing.T) {
	_, err := NewRaw(Shape{1 << 62, 4}, Float32, CPU)
	assert.ErrorIs(t, err, ErrShapeOverflow)
}
