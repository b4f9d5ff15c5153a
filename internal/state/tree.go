// Package state implements the hierarchical parameter store shared by
// modules, optimizers and checkpoint codecs.
//
// A Tree maps local names to either a leaf Cell or a nested Tree. Trees are
// built from, and flattened back to, a flat namespace of dotted keys:
//
//	flat := map[string]state.Cell{
//	    "0.weight": state.NewCell(w0),
//	    "0.bias":   state.NewCell(b0),
//	}
//	tree := state.FromFlatMap(flat)
//	bias, err := tree.Child("0") // then .Leaf("bias")
//
// Two lock domains exist. Each node has a structural lock guarding its
// entries, name and parent link; each Cell has a value lock guarding its
// tensor. No operation holds a structural lock while acquiring another
// node's structural lock or any value lock.
package state

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"weak"
)

// Separator delimits hierarchy levels in flat keys.
const Separator = "."

// RootName is the path reported by a node without a parent.
const RootName = "root"

// entry is a tagged union: exactly one of cell or child is set.
type entry struct {
	cell  Cell
	child *Tree
}

func (e entry) kind() Kind {
	if e.child != nil {
		return KindChild
	}
	return KindLeaf
}

// attachMu serializes AppendChild so the cycle check and the move of the
// child happen as one step. Lookups and loads never take it.
var attachMu sync.Mutex

// Tree is one node of the hierarchical namespace.
//
// The parent link is weak: a child never keeps its parent alive, and a
// parent reachable only through its children is reclaimed normally.
type Tree struct {
	mu      sync.RWMutex
	name    string
	parent  weak.Pointer[Tree]
	entries map[string]entry
}

// LoadStats summarizes one Load call.
type LoadStats struct {
	Copied       int // Leaves whose contents were overwritten
	Skipped      int // Source entries with no same-kind counterpart in the target
	Incompatible int // Leaf pairs with different shape or dtype
}

// Add accumulates other into s.
func (s *LoadStats) Add(other LoadStats) {
	s.Copied += other.Copied
	s.Skipped += other.Skipped
	s.Incompatible += other.Incompatible
}

// New returns an empty, unnamed root.
func New() *Tree {
	return &Tree{entries: make(map[string]entry)}
}

// FromFlatMap builds a tree from dotted keys such as "block1.conv.weight".
//
// Keys are processed in sorted order, so all keys sharing a first segment
// are contiguous and each child is built from one batch. When a key is both
// a leaf and a prefix of other keys ("a" and "a.b"), the child wins.
//
// Every node created here has its parent link set before returning. A zero
// Cell in flat panics, as it does in SetLeaf.
func FromFlatMap(flat map[string]Cell) *Tree {
	t := New()
	t.build(flat)
	return t
}

// build fills a node that is not yet shared, so it takes no locks.
func (t *Tree) build(flat map[string]Cell) {
	var (
		pending     map[string]Cell
		pendingName string
	)
	flush := func() {
		if pending == nil {
			return
		}
		child := New()
		child.build(pending)
		child.name = pendingName
		child.parent = weak.Make(t)
		t.entries[pendingName] = entry{child: child}
		pending = nil
	}

	for _, key := range slices.Sorted(maps.Keys(flat)) {
		if flat[key].IsZero() {
			panic(fmt.Sprintf("state: FromFlatMap with zero Cell at %q", key))
		}
		first, rest, nested := strings.Cut(key, Separator)
		if pending != nil && first != pendingName {
			flush()
		}
		if !nested {
			t.entries[first] = entry{cell: flat[key]}
			continue
		}
		if pending == nil {
			pending = make(map[string]Cell)
			pendingName = first
		}
		pending[rest] = flat[key]
	}
	flush()
}

// Name returns the node's local name. The root's name is empty.
func (t *Tree) Name() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.name
}

// Parent returns the node this tree is attached to, or nil for a root.
func (t *Tree) Parent() *Tree {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.parent.Value()
}

// Path returns the dotted path from the root, e.g. "root.block1.conv".
// It is recomputed on every call by walking parent links.
func (t *Tree) Path() string {
	t.mu.RLock()
	parent, name := t.parent.Value(), t.name
	t.mu.RUnlock()

	if parent == nil {
		return RootName
	}
	return parent.Path() + Separator + name
}

// AppendChild attaches child under name, replacing any existing entry, and
// points child's parent link at t.
//
// A child that was attached elsewhere is moved: the old parent's entry is
// removed and the link overwritten. Attaching a node under itself or one of
// its descendants panics, as does an empty name or one containing Separator.
// Concurrent attaches are serialized, so a child ends up under exactly one
// parent.
func (t *Tree) AppendChild(name string, child *Tree) {
	if child == nil {
		panic("state: AppendChild with nil child")
	}
	checkName("AppendChild", name)

	attachMu.Lock()
	defer attachMu.Unlock()
	for n := t; n != nil; n = n.Parent() {
		if n == child {
			panic(fmt.Sprintf("state: attaching %s under %s would create a cycle", child.Path(), t.Path()))
		}
	}

	child.mu.Lock()
	oldParent, oldName := child.parent.Value(), child.name
	child.name = name
	child.parent = weak.Make(t)
	child.mu.Unlock()

	if oldParent != nil && (oldParent != t || oldName != name) {
		oldParent.detach(oldName, child)
	}
	t.put(name, entry{child: child})
}

// SetLeaf stores cell under name, replacing any existing entry. The name
// follows the same rules as in AppendChild.
func (t *Tree) SetLeaf(name string, cell Cell) {
	if cell.IsZero() {
		panic("state: SetLeaf with zero Cell")
	}
	checkName("SetLeaf", name)
	t.put(name, entry{cell: cell})
}

// checkName panics on a local name that would not survive a round trip
// through dotted keys.
func checkName(op, name string) {
	if name == "" {
		panic(fmt.Sprintf("state: %s with empty name", op))
	}
	if strings.Contains(name, Separator) {
		panic(fmt.Sprintf("state: %s name %q contains %q", op, name, Separator))
	}
}

func (t *Tree) put(name string, e entry) {
	t.mu.Lock()
	old, existed := t.entries[name]
	t.entries[name] = e
	t.mu.Unlock()

	if existed && old.child != nil && old.child != e.child {
		old.child.orphan(t, name)
	}
}

// detach removes name from t if it still refers to child.
func (t *Tree) detach(name string, child *Tree) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[name]; ok && e.child == child {
		delete(t.entries, name)
	}
}

// orphan clears t's parent link if it still points at parent under name.
func (t *Tree) orphan(parent *Tree, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.parent.Value() == parent && t.name == name {
		t.parent = weak.Pointer[Tree]{}
		t.name = ""
	}
}

// Leaf returns the cell stored under key.
func (t *Tree) Leaf(key string) (Cell, error) {
	t.mu.RLock()
	e, ok := t.entries[key]
	t.mu.RUnlock()

	if !ok || e.kind() != KindLeaf {
		return Cell{}, &NotFoundError{Path: t.Path(), Name: key, Kind: KindLeaf}
	}
	return e.cell, nil
}

// Child returns the subtree stored under name.
func (t *Tree) Child(name string) (*Tree, error) {
	t.mu.RLock()
	e, ok := t.entries[name]
	t.mu.RUnlock()

	if !ok || e.kind() != KindChild {
		return nil, &NotFoundError{Path: t.Path(), Name: name, Kind: KindChild}
	}
	return e.child, nil
}

// Len returns the number of direct entries.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Names returns the direct entry names in sorted order.
func (t *Tree) Names() []string {
	return slices.Sorted(maps.Keys(t.snapshot()))
}

// snapshot copies the entry map under the read lock so callers can
// recurse or lock cells without holding it.
func (t *Tree) snapshot() map[string]entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.entries)
}

// Load copies values from src into t wherever both trees hold the same kind
// of entry under the same name.
//
// Load is not strict. Names present only in src, leaf/child mismatches and
// leaves of different shape or dtype are skipped without error. Entries
// present only in t are left alone. Leaf contents are copied in place, so
// every holder of t's cells sees the new values and trainable flags are kept.
func (t *Tree) Load(src *Tree) {
	t.LoadWithStats(src)
}

// LoadWithStats is Load that reports what it did.
func (t *Tree) LoadWithStats(src *Tree) LoadStats {
	var stats LoadStats
	if src != nil {
		t.load(src, &stats)
	}
	return stats
}

func (t *Tree) load(src *Tree, stats *LoadStats) {
	for name, se := range src.snapshot() {
		t.mu.RLock()
		te, ok := t.entries[name]
		t.mu.RUnlock()

		switch {
		case !ok || te.kind() != se.kind():
			stats.Skipped++
		case te.kind() == KindLeaf:
			if err := copyCell(te.cell, se.cell); err != nil {
				stats.Incompatible++
				continue
			}
			stats.Copied++
		default:
			te.child.load(se.child, stats)
		}
	}
}

// ToFlatMap is the inverse of FromFlatMap: every leaf keyed by its dotted
// path relative to t. The returned cells are shared, not copied.
func (t *Tree) ToFlatMap() map[string]Cell {
	flat := make(map[string]Cell)
	t.flattenInto("", flat)
	return flat
}

func (t *Tree) flattenInto(prefix string, flat map[string]Cell) {
	for name, e := range t.snapshot() {
		if e.kind() == KindLeaf {
			flat[prefix+name] = e.cell
			continue
		}
		e.child.flattenInto(prefix+name+Separator, flat)
	}
}

// ToSlice returns every leaf reachable from t exactly once, depth first,
// siblings in name order.
func (t *Tree) ToSlice() []Cell {
	var cells []Cell
	t.collect(&cells)
	return cells
}

func (t *Tree) collect(cells *[]Cell) {
	entries := t.snapshot()
	for _, name := range slices.Sorted(maps.Keys(entries)) {
		e := entries[name]
		if e.kind() == KindLeaf {
			*cells = append(*cells, e.cell)
			continue
		}
		e.child.collect(cells)
	}
}

// String renders the tree with entries sorted by name and children
// indented, so structurally identical trees render identically.
func (t *Tree) String() string {
	var b strings.Builder
	t.render(&b, 0)
	return b.String()
}

func (t *Tree) render(b *strings.Builder, depth int) {
	indent := strings.Repeat("  ", depth)
	entries := t.snapshot()
	for _, name := range slices.Sorted(maps.Keys(entries)) {
		e := entries[name]
		if e.kind() == KindLeaf {
			fmt.Fprintf(b, "%s%s: %s\n", indent, name, e.cell)
			continue
		}
		fmt.Fprintf(b, "%s%s:\n", indent, name)
		e.child.render(b, depth+1)
	}
}
