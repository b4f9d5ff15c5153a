package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/born-ml/statetree/internal/loader"
	"github.com/born-ml/statetree/internal/metrics"
	"github.com/born-ml/statetree/internal/selector"
	"github.com/born-ml/statetree/internal/serialization"
	"github.com/born-ml/statetree/internal/state"
	"github.com/born-ml/statetree/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecorder struct {
	metrics.NoopRecorder
	mu      sync.Mutex
	reloads map[metrics.ResultLabel]int
	loads   int
}

func (c *countingRecorder) IncReload(result metrics.ResultLabel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reloads == nil {
		c.reloads = make(map[metrics.ResultLabel]int)
	}
	c.reloads[result]++
}

func (c *countingRecorder) ObserveLoad(string, state.LoadStats, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loads++
}

func scalarTree(values map[string]float32) *state.Tree {
	flat := make(map[string]state.Cell, len(values))
	for k, v := range values {
		flat[k] = state.NewCell(tensor.Scalar32(v))
	}
	return state.FromFlatMap(flat)
}

func valueAt(t *testing.T, tree *state.Tree, key string) float32 {
	t.Helper()
	cell, ok := tree.ToFlatMap()[key]
	require.True(t, ok)
	var out float32
	cell.Lock(func(v *tensor.RawTensor) {
		out = v.AsFloat32()[0]
	})
	return out
}

func writeCheckpoint(t *testing.T, path string, values map[string]float32) {
	t.Helper()
	require.NoError(t, serialization.Write(path, serialization.FormatUnknown, scalarTree(values), serialization.WriteOptions{}))
}

func TestReloader_ReloadNow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.born")
	writeCheckpoint(t, path, map[string]float32{"a.w": 3, "extra": 1})

	target := scalarTree(map[string]float32{"a.w": 0, "b.w": 0})
	rec := &countingRecorder{}
	r, err := New(path, target, WithRecorder(rec))
	require.NoError(t, err)
	defer func() { _ = r.Stop() }()

	res := r.ReloadNow()
	require.NoError(t, res.Err)
	assert.Equal(t, state.LoadStats{Copied: 1, Skipped: 1}, res.Stats)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, float32(3), valueAt(t, target, "a.w"))
	assert.Equal(t, float32(0), valueAt(t, target, "b.w"))
	assert.Equal(t, 1, rec.reloads[metrics.ResultSuccess])
	assert.Equal(t, 1, rec.loads)
}

func TestReloader_ReloadNowFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.born")
	require.NoError(t, os.WriteFile(path, []byte("not a checkpoint"), 0o600))

	rec := &countingRecorder{}
	r, err := New(path, state.New(), WithRecorder(rec))
	require.NoError(t, err)
	defer func() { _ = r.Stop() }()

	res := r.ReloadNow()
	assert.Error(t, res.Err)
	assert.Equal(t, 1, rec.reloads[metrics.ResultFailed])
	assert.Zero(t, rec.loads)
}

func TestReloader_Selector(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")
	writeCheckpoint(t, path, map[string]float32{"a.w": 3, "b.w": 4})

	target := scalarTree(map[string]float32{"a.w": 0, "b.w": 0})
	r, err := New(path, target, WithSelector(selector.MustCompile(`segments[0] == "b"`)))
	require.NoError(t, err)
	defer func() { _ = r.Stop() }()

	res := r.ReloadNow()
	require.NoError(t, res.Err)
	assert.Equal(t, state.LoadStats{Copied: 1}, res.Stats)
	assert.Equal(t, float32(0), valueAt(t, target, "a.w"))
	assert.Equal(t, float32(4), valueAt(t, target, "b.w"))
}

func TestReloader_MapperRunsBeforeSelector(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.born")
	writeCheckpoint(t, path, map[string]float32{"model.a.w": 5, "model.b.w": 6})

	mapper, err := loader.ParseRules([]string{"model="})
	require.NoError(t, err)
	target := scalarTree(map[string]float32{"a.w": 0, "b.w": 0})
	r, err := New(path, target,
		WithMapper(mapper),
		WithSelector(selector.MustCompile(`key == "a.w"`)))
	require.NoError(t, err)
	defer func() { _ = r.Stop() }()

	res := r.ReloadNow()
	require.NoError(t, res.Err)
	assert.Equal(t, state.LoadStats{Copied: 1}, res.Stats)
	assert.Equal(t, float32(5), valueAt(t, target, "a.w"))
	assert.Equal(t, float32(0), valueAt(t, target, "b.w"))
}

func TestReloader_WatchesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.born")
	writeCheckpoint(t, path, map[string]float32{"w": 1})

	target := scalarTree(map[string]float32{"w": 0})
	r, err := New(path, target, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))

	// Unrelated files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600))
	writeCheckpoint(t, path, map[string]float32{"w": 7})

	select {
	case res := <-r.Reloads():
		require.NoError(t, res.Err)
		assert.Equal(t, state.LoadStats{Copied: 1}, res.Stats)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	assert.Equal(t, float32(7), valueAt(t, target, "w"))

	require.NoError(t, r.Stop())
	for range r.Reloads() {
		// Stop closes the channel, so this drains and returns.
	}
	assert.NoError(t, r.Stop(), "Stop is idempotent")
}
