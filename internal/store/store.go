// Package store keeps named snapshots of state trees in SQLite.
//
// Each snapshot is a .born encoded blob, so a restored snapshot is exactly
// what serialization.Decode would produce from a checkpoint file and can be
// loaded into a live tree with Tree.Load.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/born-ml/statetree/internal/metrics"
	"github.com/born-ml/statetree/internal/serialization"
	"github.com/born-ml/statetree/internal/state"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// ErrSnapshotNotFound is returned when no snapshot matches a lookup.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Snapshot describes one stored tree.
type Snapshot struct {
	ID        string
	Name      string
	RunID     string
	CreatedAt time.Time
	Tensors   int
	Bytes     int
	Metadata  map[string]string
}

// SQLiteStore stores snapshots in a SQLite database.
type SQLiteStore struct {
	db       *sql.DB
	mu       sync.RWMutex
	recorder metrics.Recorder
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithRecorder reports every store operation to r.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *SQLiteStore) {
		if r != nil {
			s.recorder = r
		}
	}
}

// OpenSQLite opens (creating if needed) the snapshot database at path.
// Use ":memory:" for an in-memory database.
func OpenSQLite(path string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, recorder: metrics.NoopRecorder{}}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		name TEXT NOT NULL,
		run_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		tensors INTEGER NOT NULL,
		payload BLOB NOT NULL,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_name ON snapshots(name, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// observe times an operation for the recorder.
func (s *SQLiteStore) observe(op string, start time.Time, err error) {
	s.recorder.ObserveSnapshot(op, time.Since(start), metrics.Result(err == nil))
}

// Save encodes tree and stores it under name.
func (s *SQLiteStore) Save(ctx context.Context, name string, tree *state.Tree, metadata map[string]string) (snap Snapshot, err error) {
	start := time.Now()
	defer func() { s.observe("save", start, err) }()

	var buf bytes.Buffer
	header, err := serialization.Encode(&buf, tree, serialization.WriteOptions{Metadata: metadata})
	if err != nil {
		return Snapshot{}, fmt.Errorf("encode snapshot: %w", err)
	}

	var metadataJSON []byte
	if len(metadata) > 0 {
		metadataJSON, err = json.Marshal(metadata)
		if err != nil {
			return Snapshot{}, fmt.Errorf("marshal metadata: %w", err)
		}
	}

	snap = Snapshot{
		ID:        uuid.NewString(),
		Name:      name,
		RunID:     header.RunID,
		CreatedAt: header.CreatedAt,
		Tensors:   len(header.Tensors),
		Bytes:     buf.Len(),
		Metadata:  metadata,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, seq, name, run_id, created_at, tensors, payload, metadata)
		 VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM snapshots), ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.Name, snap.RunID, snap.CreatedAt.UnixNano(), snap.Tensors, buf.Bytes(), metadataJSON,
	)
	if err != nil {
		return Snapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}
	return snap, nil
}

const selectColumns = "id, name, run_id, created_at, tensors, LENGTH(payload), metadata"

// Latest returns the most recently saved snapshot under name.
func (s *SQLiteStore) Latest(ctx context.Context, name string) (tree *state.Tree, snap Snapshot, err error) {
	start := time.Now()
	defer func() { s.observe("latest", start, err) }()
	return s.load(ctx, "SELECT "+selectColumns+", payload FROM snapshots WHERE name = ? ORDER BY seq DESC LIMIT 1", name)
}

// Get returns the snapshot with the given id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (tree *state.Tree, snap Snapshot, err error) {
	start := time.Now()
	defer func() { s.observe("get", start, err) }()
	return s.load(ctx, "SELECT "+selectColumns+", payload FROM snapshots WHERE id = ?", id)
}

func (s *SQLiteStore) load(ctx context.Context, query string, arg string) (*state.Tree, Snapshot, error) {
	s.mu.RLock()
	row := s.db.QueryRowContext(ctx, query, arg)
	var payload []byte
	snap, err := scanSnapshot(row, &payload)
	s.mu.RUnlock()

	if errors.Is(err, sql.ErrNoRows) {
		return nil, Snapshot{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, arg)
	}
	if err != nil {
		return nil, Snapshot{}, err
	}

	tree, _, err := serialization.Decode(bytes.NewReader(payload), serialization.ReaderOptions{})
	if err != nil {
		return nil, Snapshot{}, fmt.Errorf("decode snapshot %s: %w", snap.ID, err)
	}
	return tree, snap, nil
}

// List returns the snapshots saved under name, newest first. An empty
// name lists every snapshot.
func (s *SQLiteStore) List(ctx context.Context, name string) (snaps []Snapshot, err error) {
	start := time.Now()
	defer func() { s.observe("list", start, err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM snapshots WHERE ? = '' OR name = ? ORDER BY seq DESC",
		name, name,
	)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return snaps, nil
}

// Delete removes the snapshot with the given id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { s.observe("delete", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner, extra ...any) (Snapshot, error) {
	var (
		snap         Snapshot
		createdAt    int64
		metadataJSON []byte
	)
	dest := append([]any{&snap.ID, &snap.Name, &snap.RunID, &createdAt, &snap.Tensors, &snap.Bytes, &metadataJSON}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, err
		}
		return Snapshot{}, fmt.Errorf("scan snapshot: %w", err)
	}
	snap.CreatedAt = time.Unix(0, createdAt).UTC()
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &snap.Metadata); err != nil {
			return Snapshot{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return snap, nil
}
