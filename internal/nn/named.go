package nn

import (
	"fmt"

	"github.com/born-ml/statetree/internal/state"
)

// Named is a container module whose children are addressed by name, such as
// "encoder" and "decoder".
//
// Children keep their insertion order for Names; the state tree itself is
// name-sorted.
type Named struct {
	names    []string
	children map[string]Module
}

// NewNamed creates an empty Named container.
func NewNamed() *Named {
	return &Named{children: make(map[string]Module)}
}

// Add registers m under name. Names must be unique and must not contain
// the key separator.
func (n *Named) Add(name string, m Module) error {
	if err := validName(name); err != nil {
		return err
	}
	if _, exists := n.children[name]; exists {
		return fmt.Errorf("nn: duplicate module name %q", name)
	}
	n.names = append(n.names, name)
	n.children[name] = m
	return nil
}

// Module returns the child registered under name.
func (n *Named) Module(name string) (Module, bool) {
	m, ok := n.children[name]
	return m, ok
}

// Names returns child names in insertion order.
func (n *Named) Names() []string {
	return append([]string(nil), n.names...)
}

// StateTree implements Module.
func (n *Named) StateTree() *state.Tree {
	tree := state.New()
	for _, name := range n.names {
		tree.AppendChild(name, n.children[name].StateTree())
	}
	return tree
}

func validName(name string) error {
	if name == "" {
		return fmt.Errorf("nn: empty module name")
	}
	for _, r := range name {
		if string(r) == state.Separator {
			return fmt.Errorf("nn: module name %q contains %q", name, state.Separator)
		}
	}
	return nil
}
