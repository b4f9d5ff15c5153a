package loader

import (
	"fmt"
	"maps"
	"slices"

	"github.com/born-ml/statetree/internal/serialization"
	"github.com/born-ml/statetree/internal/state"
)

// CollisionError reports two source keys mapped to the same target key.
type CollisionError struct {
	Target string
	First  string
	Second string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("loader: %q and %q both map to %q", e.First, e.Second, e.Target)
}

// RemapStats counts what Remap did.
type RemapStats struct {
	Renamed int
	Kept    int
	Dropped int
}

// Remap returns a new tree holding tree's cells under mapped keys. Cells
// are shared, not copied. Mapped keys must be valid tensor names, and no
// mapped key may be both a leaf and a prefix of another.
func Remap(tree *state.Tree, m Mapper) (*state.Tree, error) {
	out, _, err := RemapWithStats(tree, m)
	return out, err
}

// RemapWithStats is Remap that reports what it did.
func RemapWithStats(tree *state.Tree, m Mapper) (*state.Tree, RemapStats, error) {
	var stats RemapStats
	if m == nil {
		m = Identity
	}

	flat := tree.ToFlatMap()
	mapped := make(map[string]state.Cell, len(flat))
	origin := make(map[string]string, len(flat))
	for _, key := range slices.Sorted(maps.Keys(flat)) {
		target, err := m.MapName(key)
		if err != nil {
			return nil, stats, err
		}
		if target == "" {
			stats.Dropped++
			continue
		}
		if err := serialization.ValidateTensorName(target); err != nil {
			return nil, stats, fmt.Errorf("loader: %q maps to an invalid key: %w", key, err)
		}
		if prev, dup := origin[target]; dup {
			return nil, stats, &CollisionError{Target: target, First: prev, Second: key}
		}
		origin[target] = key
		mapped[target] = flat[key]
		if target == key {
			stats.Kept++
		} else {
			stats.Renamed++
		}
	}
	if err := serialization.ValidateKeys(slices.Collect(maps.Keys(mapped))); err != nil {
		return nil, stats, fmt.Errorf("loader: remapped keys: %w", err)
	}
	return state.FromFlatMap(mapped), stats, nil
}
