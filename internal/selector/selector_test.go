package selector

import (
	"maps"
	"slices"
	"testing"

	"github.com/born-ml/statetree/internal/state"
	"github.com/born-ml/statetree/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cell(t *testing.T, shape tensor.Shape, dtype tensor.DataType, trainable bool) state.Cell {
	t.Helper()
	raw, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	require.NoError(t, err)
	raw.SetRequiresGrad(trainable)
	return state.NewCell(raw)
}

func sample(t *testing.T) map[string]state.Cell {
	return map[string]state.Cell{
		"encoder.0.weight":       cell(t, tensor.Shape{4, 8}, tensor.Float32, true),
		"encoder.0.bias":         cell(t, tensor.Shape{4}, tensor.Float32, true),
		"encoder.bn.running_var": cell(t, tensor.Shape{4}, tensor.Float32, false),
		"decoder.weight":         cell(t, tensor.Shape{8, 4}, tensor.Float64, true),
		"steps":                  cell(t, tensor.Shape{}, tensor.Int64, false),
	}
}

func TestSelector_Filter(t *testing.T) {
	tests := []struct {
		expression string
		want       []string
	}{
		{`key startsWith "encoder."`, []string{"encoder.0.bias", "encoder.0.weight", "encoder.bn.running_var"}},
		{`trainable && dtype == "float32"`, []string{"encoder.0.bias", "encoder.0.weight"}},
		{`depth == 1`, []string{"steps"}},
		{`numel >= 32`, []string{"decoder.weight", "encoder.0.weight"}},
		{`len(shape) == 2 && shape[0] == 8`, []string{"decoder.weight"}},
		{`segments[0] == "encoder" && segments[1] == "bn"`, []string{"encoder.bn.running_var"}},
		{`key endsWith ".weight"`, []string{"decoder.weight", "encoder.0.weight"}},
		{`false`, nil},
	}

	flat := sample(t)
	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			s, err := Compile(tt.expression)
			require.NoError(t, err)

			got, err := s.Filter(flat)
			require.NoError(t, err)
			assert.Equal(t, tt.want, slices.Sorted(maps.Keys(got)))
			for key, c := range got {
				assert.True(t, c.Same(flat[key]), "cells are shared")
			}
		})
	}
}

func TestSelector_CompileErrors(t *testing.T) {
	for _, expression := range []string{"", "   ", `key + 1`, `numel`, `nosuchvar == 1`, `key ==`} {
		_, err := Compile(expression)
		assert.Error(t, err, "%q", expression)
	}
}

func TestSelector_RuntimeError(t *testing.T) {
	s := MustCompile(`segments[3] == "x"`)
	_, err := s.Filter(sample(t))
	assert.Error(t, err)
}

func TestSelector_SelectLoad(t *testing.T) {
	src := state.FromFlatMap(map[string]state.Cell{
		"a.w": state.NewCell(tensor.Scalar32(1)),
		"b.w": state.NewCell(tensor.Scalar32(2)),
	})
	targetA := state.NewCell(tensor.Scalar32(0))
	targetB := state.NewCell(tensor.Scalar32(0))
	target := state.FromFlatMap(map[string]state.Cell{"a.w": targetA, "b.w": targetB})

	partial, err := MustCompile(`segments[0] == "b"`).Select(src)
	require.NoError(t, err)
	assert.Equal(t, state.LoadStats{Copied: 1}, target.LoadWithStats(partial))

	assert.Equal(t, "float32[] CPU [0]", targetA.String())
	assert.Equal(t, "float32[] CPU [2]", targetB.String())
}

func TestNewEnv(t *testing.T) {
	env := NewEnv("a.b.c", cell(t, tensor.Shape{2, 3}, tensor.Uint8, true))
	assert.Equal(t, Env{
		Key:       "a.b.c",
		Segments:  []string{"a", "b", "c"},
		Depth:     3,
		DType:     "uint8",
		Shape:     []int{2, 3},
		Numel:     6,
		Trainable: true,
	}, env)
}

func TestMustCompile_Panics(t *testing.T) {
	assert.Panics(t, func() { MustCompile("key ==") })
	assert.Equal(t, "depth > 1", MustCompile("depth > 1").String())
}
