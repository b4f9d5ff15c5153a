// Package nn implements parameter-holding modules on top of the state tree.
//
// This package provides:
//   - Module interface: anything that exposes its parameters as a state.Tree
//   - Parameter: a named trainable cell
//   - Linear, Conv2D, BatchNorm2D: leaf modules
//   - Sequential, Named: containers that nest child trees
//   - Freeze, Unfreeze, Init, MoveTo, Load: whole-module parameter operations
//
// Numeric forward passes live outside this package; modules here only own
// and organize parameters.
package nn

import (
	"github.com/born-ml/statetree/internal/parallel"
	"github.com/born-ml/statetree/internal/state"
	"github.com/born-ml/statetree/internal/tensor"
)

// Module is the base interface for all parameter-holding components.
//
// Modules can be composed to build complex architectures:
//
//	model := nn.NewSequential(
//	    nn.NewLinear(784, 128, true),
//	    nn.NewLinear(128, 10, true),
//	)
//	tree := model.StateTree() // "0.weight", "0.bias", "1.weight", "1.bias"
type Module interface {
	// StateTree returns the module's parameters as a tree.
	//
	// Leaves share cells with the module, so loading into the returned
	// tree updates the module in place. Containers attach each child's
	// tree under the child's name.
	StateTree() *state.Tree
}

// TrainingCells returns the cells of m that are not frozen.
func TrainingCells(m Module) []state.Cell {
	var cells []state.Cell
	for _, cell := range m.StateTree().ToSlice() {
		var trainable bool
		cell.Lock(func(v *tensor.RawTensor) {
			trainable = v.RequiresGrad()
		})
		if trainable {
			cells = append(cells, cell)
		}
	}
	return cells
}

// NumTrainable returns the number of trainable tensors in m.
func NumTrainable(m Module) int {
	return len(TrainingCells(m))
}

// NumElements returns the total element count over every tensor in m,
// frozen ones included.
func NumElements(m Module) int {
	total := 0
	for _, cell := range m.StateTree().ToSlice() {
		cell.Lock(func(v *tensor.RawTensor) {
			total += v.NumElements()
		})
	}
	return total
}

// Load copies matching values from src into m's parameters.
//
// Load is partial: names absent from either side are skipped, see
// state.Tree.Load.
func Load(m Module, src *state.Tree) state.LoadStats {
	return m.StateTree().LoadWithStats(src)
}

// Freeze marks every parameter of m as not requiring gradients.
func Freeze(m Module) {
	setRequiresGrad(m, false)
}

// Unfreeze marks every parameter of m as requiring gradients.
func Unfreeze(m Module) {
	setRequiresGrad(m, true)
}

func setRequiresGrad(m Module, requiresGrad bool) {
	for _, cell := range m.StateTree().ToSlice() {
		cell.Lock(func(v *tensor.RawTensor) {
			v.SetRequiresGrad(requiresGrad)
		})
	}
}

// MoveTo places every tensor of m on device, keeping trainable flags.
func MoveTo(m Module, device tensor.Device) {
	for _, cell := range m.StateTree().ToSlice() {
		cell.Lock(func(v *tensor.RawTensor) {
			v.To(device)
		})
	}
}

// Init re-initializes every trainable parameter of m with init.
// Frozen buffers (such as batch-norm running statistics) are left alone.
// Cells are initialized concurrently, each under its own lock.
func Init(m Module, init Initializer) {
	parallel.Each(TrainingCells(m), func(cell state.Cell) {
		cell.Lock(func(v *tensor.RawTensor) {
			init(v)
		})
	}, parallel.DefaultConfig())
}
