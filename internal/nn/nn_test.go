package nn_test

import (
	"errors"
	"maps"
	"slices"
	"testing"

	"github.com/born-ml/statetree/internal/nn"
	"github.com/born-ml/statetree/internal/state"
	"github.com/born-ml/statetree/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func values(t *testing.T, cell state.Cell) []float32 {
	t.Helper()
	var out []float32
	cell.Lock(func(v *tensor.RawTensor) {
		out = append(out, v.AsFloat32()...)
	})
	return out
}

func filled(t *testing.T, v float32, shape ...int) state.Cell {
	t.Helper()
	data := make([]float32, tensor.Shape(shape).NumElements())
	for i := range data {
		data[i] = v
	}
	raw, err := tensor.FromFloat32(data, shape)
	require.NoError(t, err)
	return state.NewCell(raw)
}

func TestParameter(t *testing.T) {
	raw, err := tensor.FromFloat32([]float32{1, 2, 3}, tensor.Shape{3})
	require.NoError(t, err)

	p := nn.NewParameter("test_param", raw)
	assert.Equal(t, "test_param", p.Name())
	assert.True(t, raw.RequiresGrad())
	assert.Equal(t, []float32{1, 2, 3}, values(t, p.Cell()))

	b := nn.NewBuffer("running_mean", raw.Clone())
	b.Cell().Lock(func(v *tensor.RawTensor) {
		assert.False(t, v.RequiresGrad())
	})
}

func TestLinear_StateTree(t *testing.T) {
	l := nn.NewLinear(4, 3, true)
	flat := l.StateTree().ToFlatMap()
	require.Equal(t, []string{"bias", "weight"}, slices.Sorted(maps.Keys(flat)))

	flat["weight"].Lock(func(v *tensor.RawTensor) {
		assert.Equal(t, tensor.Shape{3, 4}, v.Shape())
		assert.True(t, v.RequiresGrad())
	})
	assert.Equal(t, []float32{0, 0, 0}, values(t, flat["bias"]))

	noBias := nn.NewLinear(4, 3, false)
	assert.Equal(t, []string{"weight"}, noBias.StateTree().Names())
	assert.Nil(t, noBias.Bias())
}

func TestLinear_StateTreeSharesCells(t *testing.T) {
	l := nn.NewLinear(2, 1, true)
	bias, err := l.StateTree().Leaf("bias")
	require.NoError(t, err)
	assert.True(t, bias.Same(l.Bias().Cell()))
}

func TestConv2D(t *testing.T) {
	conv, err := nn.NewConv2D(nn.Conv2DConfig{
		InChannels:  4,
		OutChannels: 8,
		KernelSize:  [2]int{3, 3},
		Groups:      2,
		Bias:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, [2]int{1, 1}, conv.Config().Stride)

	conv.Weight().Cell().Lock(func(v *tensor.RawTensor) {
		assert.Equal(t, tensor.Shape{8, 2, 3, 3}, v.Shape())
	})
	assert.Equal(t, []string{"bias", "weight"}, conv.StateTree().Names())
}

func TestConv2D_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  nn.Conv2DConfig
	}{
		{"zero channels", nn.Conv2DConfig{InChannels: 0, OutChannels: 4, KernelSize: [2]int{3, 3}}},
		{"groups", nn.Conv2DConfig{InChannels: 3, OutChannels: 4, KernelSize: [2]int{3, 3}, Groups: 2}},
		{"kernel", nn.Conv2DConfig{InChannels: 3, OutChannels: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := nn.NewConv2D(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestBatchNorm2D(t *testing.T) {
	bn := nn.NewBatchNorm2D(3)
	tree := bn.StateTree()
	assert.Equal(t, []string{"bias", "running_mean", "running_var", "weight"}, tree.Names())
	assert.Equal(t, 2, nn.NumTrainable(bn))
	assert.Equal(t, 12, nn.NumElements(bn))

	rv, err := tree.Leaf("running_var")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1, 1}, values(t, rv))
}

func TestSequential_FlatKeys(t *testing.T) {
	model := nn.NewSequential(
		nn.NewLinear(4, 3, true),
		nn.NewLinear(3, 2, true),
	)
	assert.Equal(t, 2, model.Len())

	flat := model.StateTree().ToFlatMap()
	assert.Equal(t, []string{"0.bias", "0.weight", "1.bias", "1.weight"}, slices.Sorted(maps.Keys(flat)))
}

func TestSequential_Paths(t *testing.T) {
	model := nn.NewSequential(nn.NewLinear(1, 1, true))
	child, err := model.StateTree().Child("0")
	require.NoError(t, err)
	assert.Equal(t, "root.0", child.Path())
}

// Loading a checkpoint keyed "0.weight", "0.bias", ... into a fresh model
// updates the model's own parameters.
func TestSequential_LoadFromFlatMap(t *testing.T) {
	model := nn.NewSequential(
		nn.NewLinear(2, 2, true),
		nn.NewLinear(2, 1, true),
	)
	src := state.FromFlatMap(map[string]state.Cell{
		"0.weight": filled(t, 0.5, 2, 2),
		"0.bias":   filled(t, 1, 2),
		"1.weight": filled(t, 2, 1, 2),
		"1.bias":   filled(t, 3, 1),
	})

	stats := nn.Load(model, src)
	assert.Equal(t, state.LoadStats{Copied: 4}, stats)

	first := model.Module(0).(*nn.Linear)
	second := model.Module(1).(*nn.Linear)
	assert.Equal(t, []float32{0.5, 0.5, 0.5, 0.5}, values(t, first.Weight().Cell()))
	assert.Equal(t, []float32{1, 1}, values(t, first.Bias().Cell()))
	assert.Equal(t, []float32{2, 2}, values(t, second.Weight().Cell()))
	assert.Equal(t, []float32{3}, values(t, second.Bias().Cell()))

	second.Bias().Cell().Lock(func(v *tensor.RawTensor) {
		assert.True(t, v.RequiresGrad())
	})
}

func TestSequential_NonexistentParameter(t *testing.T) {
	model := nn.NewSequential(nn.NewLinear(2, 2, true))
	tree := model.StateTree()

	_, err := tree.Leaf("weight")
	require.Error(t, err)
	assert.True(t, errors.Is(err, state.ErrNotFound))

	_, err = tree.Child("7")
	var nf *state.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "root", nf.Path)
	assert.Equal(t, state.KindChild, nf.Kind)

	layer, err := tree.Child("0")
	require.NoError(t, err)
	_, err = layer.Leaf("gamma")
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "root.0", nf.Path)
}

func TestLoad_Partial(t *testing.T) {
	model := nn.NewSequential(nn.NewLinear(2, 2, true), nn.NewLinear(2, 1, true))
	src := state.FromFlatMap(map[string]state.Cell{
		"1.bias":      filled(t, 7, 1),
		"1.weight":    filled(t, 1, 5),
		"9.bias":      filled(t, 1, 1),
		"0.bias.bias": filled(t, 1, 2),
	})

	stats := nn.Load(model, src)
	assert.Equal(t, state.LoadStats{Copied: 1, Skipped: 2, Incompatible: 1}, stats)
	assert.Equal(t, []float32{7}, values(t, model.Module(1).(*nn.Linear).Bias().Cell()))
}

func TestNamed(t *testing.T) {
	model := nn.NewNamed()
	require.NoError(t, model.Add("encoder", nn.NewLinear(4, 2, true)))
	require.NoError(t, model.Add("decoder", nn.NewLinear(2, 4, false)))

	assert.Error(t, model.Add("encoder", nn.NewLinear(1, 1, true)))
	assert.Error(t, model.Add("a.b", nn.NewLinear(1, 1, true)))
	assert.Error(t, model.Add("", nn.NewLinear(1, 1, true)))

	assert.Equal(t, []string{"encoder", "decoder"}, model.Names())
	flat := model.StateTree().ToFlatMap()
	assert.Equal(t, []string{"decoder.weight", "encoder.bias", "encoder.weight"}, slices.Sorted(maps.Keys(flat)))

	_, ok := model.Module("decoder")
	assert.True(t, ok)
}

func TestNested_Paths(t *testing.T) {
	block := nn.NewNamed()
	require.NoError(t, block.Add("conv", nn.NewLinear(1, 1, true)))
	model := nn.NewSequential(block)

	tree := model.StateTree()
	b, err := tree.Child("0")
	require.NoError(t, err)
	conv, err := b.Child("conv")
	require.NoError(t, err)
	assert.Equal(t, "root.0.conv", conv.Path())
}

func TestFreezeUnfreeze(t *testing.T) {
	model := nn.NewSequential(nn.NewLinear(2, 2, true), nn.NewBatchNorm2D(2))
	assert.Equal(t, 4, nn.NumTrainable(model))

	nn.Freeze(model)
	assert.Equal(t, 0, nn.NumTrainable(model))
	assert.Empty(t, nn.TrainingCells(model))

	nn.Unfreeze(model)
	assert.Equal(t, 6, nn.NumTrainable(model))
}

func TestInit(t *testing.T) {
	model := nn.NewSequential(nn.NewLinear(3, 3, true), nn.NewBatchNorm2D(3))
	nn.Init(model, nn.Constant(0.25))

	lin := model.Module(0).(*nn.Linear)
	assert.Equal(t, []float32{0.25, 0.25, 0.25}, values(t, lin.Bias().Cell()))

	// Buffers are frozen and therefore untouched.
	rm, err := model.Module(1).StateTree().Leaf("running_mean")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0}, values(t, rm))
}

func TestInitializers_Bounds(t *testing.T) {
	raw, err := tensor.NewRaw(tensor.Shape{16, 8}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)

	nn.Xavier(raw)
	bound := float32(0.5) // sqrt(6/24)
	for _, v := range raw.AsFloat32() {
		assert.LessOrEqual(t, v, bound)
		assert.GreaterOrEqual(t, v, -bound)
	}

	nn.KaimingUniform(raw)
	kbound := float32(0.8661) // sqrt(6/8)
	for _, v := range raw.AsFloat32() {
		assert.LessOrEqual(t, v, kbound)
		assert.GreaterOrEqual(t, v, -kbound)
	}

	nn.Zeros(raw)
	for _, v := range raw.AsFloat32() {
		assert.Zero(t, v)
	}
}

func TestInitializers_Float64(t *testing.T) {
	raw, err := tensor.FromFloat64([]float64{1, 2}, tensor.Shape{2})
	require.NoError(t, err)
	nn.Constant(3)(raw)
	assert.Equal(t, []float64{3, 3}, raw.AsFloat64())
}

func TestMoveTo(t *testing.T) {
	model := nn.NewLinear(2, 2, true)
	nn.MoveTo(model, tensor.CUDA)
	for _, cell := range model.StateTree().ToSlice() {
		cell.Lock(func(v *tensor.RawTensor) {
			assert.Equal(t, tensor.CUDA, v.Device())
			assert.True(t, v.RequiresGrad())
		})
	}
}
