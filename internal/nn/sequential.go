package nn

import (
	"strconv"

	"github.com/born-ml/statetree/internal/state"
)

// Sequential is a container module that holds child modules by position.
//
// Child i's parameters are attached under the name "i", so a two-layer
// model flattens to "0.weight", "0.bias", "1.weight", "1.bias".
//
// Example:
//
//	model := nn.NewSequential(
//	    nn.NewLinear(784, 128, true),
//	    nn.NewLinear(128, 10, true),
//	)
type Sequential struct {
	modules []Module
}

// NewSequential creates a new Sequential container.
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{modules: modules}
}

// Add appends a module to the end of the container.
func (s *Sequential) Add(m Module) {
	s.modules = append(s.modules, m)
}

// Len returns the number of child modules.
func (s *Sequential) Len() int {
	return len(s.modules)
}

// Module returns the module at index i.
func (s *Sequential) Module(i int) Module {
	return s.modules[i]
}

// StateTree implements Module.
func (s *Sequential) StateTree() *state.Tree {
	tree := state.New()
	for i, m := range s.modules {
		tree.AppendChild(strconv.Itoa(i), m.StateTree())
	}
	return tree
}
