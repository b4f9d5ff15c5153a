package nn

import (
	"github.com/born-ml/statetree/internal/state"
	"github.com/born-ml/statetree/internal/tensor"
)

// Linear holds the parameters of a fully connected (dense) layer,
// y = x @ W.T + b:
//   - W is the weight matrix with shape [out_features, in_features]
//   - b is the bias vector with shape [out_features]
//
// Weights are initialized using Xavier/Glorot initialization.
// Biases are initialized to zeros.
//
// Example:
//
//	layer := nn.NewLinear(784, 128, true)
//	tree := layer.StateTree() // weight, bias
type Linear struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter // [out_features, in_features]
	bias        *Parameter // [out_features] or nil
}

// NewLinear creates a new Linear layer. When bias is false the layer has
// only a weight.
func NewLinear(inFeatures, outFeatures int, bias bool) *Linear {
	l := &Linear{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter("weight", newTensor(tensor.Shape{outFeatures, inFeatures}, Xavier)),
	}
	if bias {
		l.bias = NewParameter("bias", newTensor(tensor.Shape{outFeatures}, Zeros))
	}
	return l
}

// InFeatures returns the number of input features.
func (l *Linear) InFeatures() int {
	return l.inFeatures
}

// OutFeatures returns the number of output features.
func (l *Linear) OutFeatures() int {
	return l.outFeatures
}

// Weight returns the weight parameter.
func (l *Linear) Weight() *Parameter {
	return l.weight
}

// Bias returns the bias parameter, or nil.
func (l *Linear) Bias() *Parameter {
	return l.bias
}

// StateTree implements Module.
func (l *Linear) StateTree() *state.Tree {
	return parameterTree(l.weight, l.bias)
}
