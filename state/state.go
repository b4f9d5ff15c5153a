// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package state

import (
	"github.com/born-ml/statetree/internal/state"
	"github.com/born-ml/statetree/internal/tensor"
)

// Cell is a shared, lockable handle to one tensor value.
//
// Methods:
//
//	Lock(fn func(v *tensor.RawTensor))
//	    Runs fn with exclusive access; released on return or panic.
//
//	LockErr(fn func(v *tensor.RawTensor) error) error
//	    Lock for callbacks that can fail.
//
//	Clone() Cell
//	    Returns another owner of the same value.
//
//	Same(other Cell) bool
//	    Reports value identity.
type Cell = state.Cell

// Tree is one node of the hierarchical namespace.
type Tree = state.Tree

// LoadStats summarizes one Tree.LoadWithStats call.
type LoadStats = state.LoadStats

// NotFoundError reports a failed Leaf or Child lookup.
type NotFoundError = state.NotFoundError

// Kind tags a tree entry as a leaf or a child.
type Kind = state.Kind

// Entry kinds.
const (
	KindLeaf  = state.KindLeaf
	KindChild = state.KindChild
)

// Separator delimits hierarchy levels in flat keys.
const Separator = state.Separator

// RootName is the path reported by a root node.
const RootName = state.RootName

// ErrNotFound matches every *NotFoundError via errors.Is.
var ErrNotFound = state.ErrNotFound

// NewCell wraps v for shared, lockable access.
func NewCell(v *tensor.RawTensor) Cell {
	return state.NewCell(v)
}

// New returns an empty, unnamed root.
func New() *Tree {
	return state.New()
}

// FromFlatMap builds a tree from dotted keys.
func FromFlatMap(flat map[string]Cell) *Tree {
	return state.FromFlatMap(flat)
}
