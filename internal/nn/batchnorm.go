package nn

import (
	"github.com/born-ml/statetree/internal/state"
	"github.com/born-ml/statetree/internal/tensor"
)

// BatchNorm2D holds the parameters of 2D batch normalization.
//
// weight and bias are trainable; running_mean and running_var are frozen
// buffers that are still saved and loaded with the module.
type BatchNorm2D struct {
	numFeatures int
	weight      *Parameter // [num_features], ones
	bias        *Parameter // [num_features], zeros
	runningMean *Parameter // [num_features], zeros
	runningVar  *Parameter // [num_features], ones
}

// NewBatchNorm2D creates a BatchNorm2D layer over numFeatures channels.
func NewBatchNorm2D(numFeatures int) *BatchNorm2D {
	shape := tensor.Shape{numFeatures}
	return &BatchNorm2D{
		numFeatures: numFeatures,
		weight:      NewParameter("weight", newTensor(shape, Constant(1))),
		bias:        NewParameter("bias", newTensor(shape, Zeros)),
		runningMean: NewBuffer("running_mean", newTensor(shape, Zeros)),
		runningVar:  NewBuffer("running_var", newTensor(shape, Constant(1))),
	}
}

// NumFeatures returns the channel count.
func (b *BatchNorm2D) NumFeatures() int {
	return b.numFeatures
}

// StateTree implements Module.
func (b *BatchNorm2D) StateTree() *state.Tree {
	return parameterTree(b.weight, b.bias, b.runningMean, b.runningVar)
}
