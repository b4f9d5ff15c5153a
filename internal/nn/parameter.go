package nn

import (
	"github.com/born-ml/statetree/internal/state"
	"github.com/born-ml/statetree/internal/tensor"
)

// Parameter is a named tensor owned by a module.
//
// The tensor lives in a state.Cell so the module, its state tree, optimizers
// and checkpoint writers all share one value.
//
// Example:
//
//	// Create a weight parameter
//	weight := nn.NewParameter("weight", weightTensor)
//
//	// Read it under the value lock
//	weight.Cell().Lock(func(w *tensor.RawTensor) { ... })
type Parameter struct {
	name string     // Parameter name (e.g., "weight", "bias")
	cell state.Cell // Shared handle to the tensor
}

// NewParameter creates a trainable parameter. t is marked as requiring
// gradients.
func NewParameter(name string, t *tensor.RawTensor) *Parameter {
	t.SetRequiresGrad(true)
	return &Parameter{name: name, cell: state.NewCell(t)}
}

// NewBuffer creates a frozen parameter, such as a running statistic.
func NewBuffer(name string, t *tensor.RawTensor) *Parameter {
	t.SetRequiresGrad(false)
	return &Parameter{name: name, cell: state.NewCell(t)}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Cell returns the shared handle to the parameter tensor.
func (p *Parameter) Cell() state.Cell {
	return p.cell
}

// parameterTree builds a leaf-only tree from params, skipping nil entries.
func parameterTree(params ...*Parameter) *state.Tree {
	flat := make(map[string]state.Cell, len(params))
	for _, p := range params {
		if p != nil {
			flat[p.name] = p.cell
		}
	}
	return state.FromFlatMap(flat)
}
