package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/born-ml/statetree/internal/metrics"
	"github.com/born-ml/statetree/internal/serialization"
	"github.com/born-ml/statetree/internal/state"
	"github.com/born-ml/statetree/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRecorder struct {
	metrics.NoopRecorder
	mu  sync.Mutex
	ops []string
}

func (r *recordingRecorder) ObserveSnapshot(op string, _ time.Duration, result metrics.ResultLabel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op+":"+string(result))
}

func treeWith(t *testing.T, bias float32) *state.Tree {
	t.Helper()
	b, err := tensor.FromFloat32([]float32{bias, bias}, tensor.Shape{2})
	require.NoError(t, err)
	w, err := tensor.FromFloat32([]float32{1, 2, 3, 4}, tensor.Shape{2, 2})
	require.NoError(t, err)
	return state.FromFlatMap(map[string]state.Cell{
		"0.bias":   state.NewCell(b),
		"0.weight": state.NewCell(w),
	})
}

func biasOf(t *testing.T, tree *state.Tree) []float32 {
	t.Helper()
	cell, ok := tree.ToFlatMap()["0.bias"]
	require.True(t, ok)
	var out []float32
	cell.Lock(func(v *tensor.RawTensor) {
		out = append(out, v.AsFloat32()...)
	})
	return out
}

func openTestStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "snapshots.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_SaveLatest(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first, err := s.Save(ctx, "model", treeWith(t, 1), map[string]string{"epoch": "1"})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Tensors)
	assert.NotEmpty(t, first.ID)
	assert.NotEmpty(t, first.RunID)

	second, err := s.Save(ctx, "model", treeWith(t, 2), map[string]string{"epoch": "2"})
	require.NoError(t, err)

	tree, snap, err := s.Latest(ctx, "model")
	require.NoError(t, err)
	assert.Equal(t, second.ID, snap.ID)
	assert.Equal(t, "2", snap.Metadata["epoch"])
	assert.Equal(t, second.CreatedAt.UnixNano(), snap.CreatedAt.UnixNano())
	assert.Equal(t, []float32{2, 2}, biasOf(t, tree))

	tree, snap, err = s.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.RunID, snap.RunID)
	assert.Equal(t, first.Bytes, snap.Bytes)
	assert.Equal(t, []float32{1, 1}, biasOf(t, tree))
}

func TestSQLiteStore_RestoreIntoLiveTree(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.Save(ctx, "model", treeWith(t, 5), nil)
	require.NoError(t, err)

	live := treeWith(t, 0)
	src, _, err := s.Latest(ctx, "model")
	require.NoError(t, err)
	assert.Equal(t, state.LoadStats{Copied: 2}, live.LoadWithStats(src))
	assert.Equal(t, []float32{5, 5}, biasOf(t, live))
}

func TestSQLiteStore_List(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	a, err := s.Save(ctx, "a", treeWith(t, 1), nil)
	require.NoError(t, err)
	b1, err := s.Save(ctx, "b", treeWith(t, 1), nil)
	require.NoError(t, err)
	b2, err := s.Save(ctx, "b", treeWith(t, 2), nil)
	require.NoError(t, err)

	snaps, err := s.List(ctx, "b")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, b2.ID, snaps[0].ID)
	assert.Equal(t, b1.ID, snaps[1].ID)
	assert.Nil(t, snaps[0].Metadata)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, a.ID, all[2].ID)

	none, err := s.List(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteStore_SaveRejectsUnrestorableTree(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tree := state.New()
	tree.AppendChild("encoder/v2", treeWith(t, 1))

	_, err := s.Save(ctx, "model", tree, nil)
	assert.ErrorIs(t, err, serialization.ErrInvalidTensorName)

	snaps, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, snaps, "a rejected tree must not be stored")
	_, _, err = s.Latest(ctx, "model")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestSQLiteStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, _, err := s.Latest(ctx, "model")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	_, _, err = s.Get(ctx, "no-such-id")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	assert.ErrorIs(t, s.Delete(ctx, "no-such-id"), ErrSnapshotNotFound)
}

func TestSQLiteStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	snap, err := s.Save(ctx, "model", treeWith(t, 1), nil)
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, snap.ID))

	_, _, err = s.Get(ctx, snap.ID)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestSQLiteStore_Persistent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snapshots.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	saved, err := s.Save(ctx, "model", treeWith(t, 3), nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, snap, err := s.Latest(ctx, "model")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, snap.ID)
}

func TestSQLiteStore_InMemory(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = s.Save(ctx, "model", treeWith(t, 1), nil)
	require.NoError(t, err)
	_, _, err = s.Latest(ctx, "model")
	assert.NoError(t, err)
}

func TestSQLiteStore_RecordsOperations(t *testing.T) {
	ctx := context.Background()
	rec := &recordingRecorder{}
	s := openTestStore(t, WithRecorder(rec))

	_, err := s.Save(ctx, "model", treeWith(t, 1), nil)
	require.NoError(t, err)
	_, _, _ = s.Latest(ctx, "other")

	assert.Equal(t, []string{"save:success", "latest:failed"}, rec.ops)
}
