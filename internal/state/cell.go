package state

import (
	"sync"
	"sync/atomic"

	"github.com/born-ml/statetree/internal/tensor"
)

// cellSeq hands out lock-ordering ids to shared values.
var cellSeq atomic.Uint64

// sharedValue is the single allocation every Cell handle points to.
type sharedValue struct {
	id    uint64
	mu    sync.Mutex
	value *tensor.RawTensor
}

// Cell is a shared, lockable handle to one tensor value.
//
// Copies of a Cell are co-owners of the same value; the value lives as long
// as any handle does. The tensor is only reachable inside Lock or LockErr,
// which hold the cell's mutex for the duration of the callback.
//
// The zero Cell holds nothing and panics on Lock.
type Cell struct {
	shared *sharedValue
}

// NewCell wraps v for shared, lockable access. A nil v panics.
func NewCell(v *tensor.RawTensor) Cell {
	if v == nil {
		panic("state: NewCell with nil value")
	}
	return Cell{shared: &sharedValue{
		id:    cellSeq.Add(1),
		value: v,
	}}
}

// Clone returns another handle to the same value. The value is not copied.
func (c Cell) Clone() Cell {
	return c
}

// Same reports whether c and other refer to the same value.
func (c Cell) Same(other Cell) bool {
	return c.shared == other.shared
}

// IsZero reports whether c was never initialized with NewCell.
func (c Cell) IsZero() bool {
	return c.shared == nil
}

// Lock runs fn with exclusive access to the value. The lock is released
// when fn returns or panics. Concurrent callers block until release.
func (c Cell) Lock(fn func(v *tensor.RawTensor)) {
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()
	fn(c.shared.value)
}

// LockErr is Lock for callbacks that can fail.
func (c Cell) LockErr(fn func(v *tensor.RawTensor) error) error {
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()
	return fn(c.shared.value)
}

// String renders the value under the lock.
func (c Cell) String() string {
	if c.IsZero() {
		return "<nil>"
	}
	var s string
	c.Lock(func(v *tensor.RawTensor) {
		if v == nil {
			s = "<nil>"
			return
		}
		s = v.String()
	})
	return s
}

// copyCell copies src's contents into dst, holding both value locks only
// for the duration of the copy. Locks are taken in id order so crosswise
// copies between the same pair cannot deadlock.
func copyCell(dst, src Cell) error {
	if dst.Same(src) {
		return nil
	}
	first, second := dst.shared, src.shared
	if second.id < first.id {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	return dst.shared.value.CopyFrom(src.shared.value)
}
