package state

import (
	"errors"
	"fmt"
)

// ErrNotFound matches every *NotFoundError via errors.Is.
var ErrNotFound = errors.New("state: entry not found")

// Kind tags a tree entry as a leaf cell or a nested tree.
type Kind int

// Entry kinds.
const (
	KindLeaf Kind = iota
	KindChild
)

// String returns "leaf" or "child".
func (k Kind) String() string {
	if k == KindChild {
		return "child"
	}
	return "leaf"
}

// NotFoundError reports a failed Leaf or Child lookup: the name is absent,
// or it holds the other kind of entry.
type NotFoundError struct {
	Path string // Path of the node that was searched
	Name string // Local name that was requested
	Kind Kind   // Kind that was requested
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.Kind == KindChild {
		return fmt.Sprintf("no such module: %s in %s", e.Name, e.Path)
	}
	return fmt.Sprintf("no such parameter: %s in %s", e.Name, e.Path)
}

// Is makes errors.Is(err, ErrNotFound) succeed.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
