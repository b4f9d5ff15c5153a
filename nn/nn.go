// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/born-ml/statetree/internal/nn"
	"github.com/born-ml/statetree/internal/state"
	"github.com/born-ml/statetree/internal/tensor"
)

// Module is anything that exposes its parameters as a state tree.
type Module = nn.Module

// Parameter is a named tensor owned by a module.
type Parameter = nn.Parameter

// NewParameter creates a trainable parameter.
func NewParameter(name string, t *tensor.RawTensor) *Parameter {
	return nn.NewParameter(name, t)
}

// NewBuffer creates a non-trainable parameter, such as a running statistic.
func NewBuffer(name string, t *tensor.RawTensor) *Parameter {
	return nn.NewBuffer(name, t)
}

// Layers

// Linear is a fully connected layer holding weight [out, in] and an
// optional bias [out].
type Linear = nn.Linear

// NewLinear creates a linear layer with Xavier initialization.
//
// Example:
//
//	layer := nn.NewLinear(784, 128, true)
//	fmt.Println(layer.StateTree()) // bias, weight
func NewLinear(inFeatures, outFeatures int, bias bool) *Linear {
	return nn.NewLinear(inFeatures, outFeatures, bias)
}

// Conv2DConfig describes a 2D convolution.
type Conv2DConfig = nn.Conv2DConfig

// Conv2D is a 2D convolutional layer holding weight
// [out, in/groups, kh, kw] and an optional bias [out].
type Conv2D = nn.Conv2D

// NewConv2D creates a convolutional layer with Kaiming initialization.
//
// Example:
//
//	conv, err := nn.NewConv2D(nn.Conv2DConfig{
//	    InChannels:  1,
//	    OutChannels: 32,
//	    KernelSize:  [2]int{3, 3},
//	    Padding:     [2]int{1, 1},
//	    Bias:        true,
//	})
func NewConv2D(cfg Conv2DConfig) (*Conv2D, error) {
	return nn.NewConv2D(cfg)
}

// BatchNorm2D holds trainable weight/bias and frozen running statistics.
type BatchNorm2D = nn.BatchNorm2D

// NewBatchNorm2D creates a batch normalization layer over numFeatures channels.
func NewBatchNorm2D(numFeatures int) *BatchNorm2D {
	return nn.NewBatchNorm2D(numFeatures)
}

// Containers

// Sequential names its children "0", "1", ... in order.
type Sequential = nn.Sequential

// NewSequential creates a container from modules.
func NewSequential(modules ...Module) *Sequential {
	return nn.NewSequential(modules...)
}

// Named holds children under caller-chosen names, kept in insertion order.
type Named = nn.Named

// NewNamed creates an empty named container.
func NewNamed() *Named {
	return nn.NewNamed()
}

// Initialization

// Initializer fills a tensor in place.
type Initializer = nn.Initializer

// Xavier fills t from U(-a, a) with a = sqrt(6 / (fanIn + fanOut)).
func Xavier(t *tensor.RawTensor) { nn.Xavier(t) }

// KaimingUniform fills t from U(-a, a) with a = sqrt(6 / fanIn).
func KaimingUniform(t *tensor.RawTensor) { nn.KaimingUniform(t) }

// Zeros fills t with zeros.
func Zeros(t *tensor.RawTensor) { nn.Zeros(t) }

// Constant returns an initializer filling with v.
func Constant(v float64) Initializer {
	return nn.Constant(v)
}

// Module helpers

// TrainingCells returns the cells of m that require gradients.
func TrainingCells(m Module) []state.Cell {
	return nn.TrainingCells(m)
}

// NumTrainable returns the number of trainable tensors in m.
func NumTrainable(m Module) int {
	return nn.NumTrainable(m)
}

// NumElements returns the number of elements across all of m's cells.
func NumElements(m Module) int {
	return nn.NumElements(m)
}

// Load copies matching values from src into m. See state.Tree.Load.
func Load(m Module, src *state.Tree) state.LoadStats {
	return nn.Load(m, src)
}

// Freeze clears the trainable flag on every cell of m.
func Freeze(m Module) { nn.Freeze(m) }

// Unfreeze sets the trainable flag on every cell of m.
func Unfreeze(m Module) { nn.Unfreeze(m) }

// MoveTo changes the placement of every cell of m.
func MoveTo(m Module, device tensor.Device) { nn.MoveTo(m, device) }

// Init re-initializes every trainable parameter of m; frozen buffers are kept.
func Init(m Module, init Initializer) { nn.Init(m, init) }

// Checkpoints

// SaveFile writes m to path. The format follows the extension
// (.safetensors or .born).
func SaveFile(m Module, path string, metadata map[string]string) error {
	return nn.SaveFile(m, path, metadata)
}

// LoadFile reads path and partially loads it into m.
func LoadFile(m Module, path string) (state.LoadStats, error) {
	return nn.LoadFile(m, path)
}
