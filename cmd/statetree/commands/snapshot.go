package commands

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/born-ml/statetree/internal/serialization"
	"github.com/born-ml/statetree/internal/state"
	"github.com/born-ml/statetree/internal/store"
)

// SnapshotCmd groups snapshot-related commands.
type SnapshotCmd struct {
	DB string `help:"Snapshot database path. Overrides store.path from the configuration."`

	Save    SnapshotSaveCmd    `cmd:"" help:"Store a checkpoint file as a snapshot"`
	List    SnapshotListCmd    `cmd:"" help:"List stored snapshots, newest first"`
	Restore SnapshotRestoreCmd `cmd:"" help:"Write a stored snapshot back to a checkpoint file"`
	Delete  SnapshotDeleteCmd  `cmd:"" help:"Delete a stored snapshot"`
}

func (s *SnapshotCmd) open(g *Global) (*store.SQLiteStore, error) {
	path := s.DB
	if path == "" {
		path = g.Config.Store.Path
	}
	st, err := store.OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store %s: %w", path, err)
	}
	return st, nil
}

// SnapshotSaveCmd implements 'snapshot save'.
type SnapshotSaveCmd struct {
	File string            `arg:"" help:"Checkpoint file to store" type:"existingfile"`
	Name string            `short:"n" help:"Snapshot name. Defaults to the file name without extension."`
	Meta map[string]string `short:"m" help:"Extra metadata (key=value), merged over the file's own metadata"`
}

func (s *SnapshotSaveCmd) Run(g *Global, parent *SnapshotCmd) error {
	ckpt, err := readCheckpoint(g, s.File)
	if err != nil {
		return err
	}
	name := s.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(s.File), filepath.Ext(s.File))
	}
	meta := make(map[string]string, len(ckpt.Header.Metadata)+len(s.Meta)+1)
	for k, v := range ckpt.Header.Metadata {
		meta[k] = v
	}
	for k, v := range s.Meta {
		meta[k] = v
	}
	meta["source"] = s.File

	st, err := parent.open(g)
	if err != nil {
		return err
	}
	defer st.Close()

	snap, err := st.Save(context.Background(), name, ckpt.Tree, meta)
	if err != nil {
		return err
	}
	g.Logger.Info("Snapshot saved", "id", snap.ID, "name", snap.Name, "tensors", snap.Tensors, "bytes", snap.Bytes)
	fmt.Fprintln(g.Out, snap.ID)
	return nil
}

// SnapshotListCmd implements 'snapshot list'.
type SnapshotListCmd struct {
	Name string `short:"n" help:"Only list snapshots with this name"`
}

func (s *SnapshotListCmd) Run(g *Global, parent *SnapshotCmd) error {
	st, err := parent.open(g)
	if err != nil {
		return err
	}
	defer st.Close()

	snaps, err := st.List(context.Background(), s.Name)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(g.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCREATED\tTENSORS\tBYTES")
	for _, snap := range snaps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n",
			snap.ID, snap.Name, snap.CreatedAt.UTC().Format(time.RFC3339), snap.Tensors, snap.Bytes)
	}
	return tw.Flush()
}

// SnapshotRestoreCmd implements 'snapshot restore'.
//
// Without --into the snapshot is written as is. With --into, the snapshot is
// loaded into the given checkpoint (partial, like merge) and the result is
// written to --output.
type SnapshotRestoreCmd struct {
	ID     string `help:"Snapshot id" xor:"which" required:""`
	Name   string `short:"n" help:"Restore the latest snapshot with this name" xor:"which" required:""`
	Output string `short:"o" required:"" help:"Checkpoint file to write"`
	Into   string `help:"Checkpoint to load the snapshot into" type:"existingfile"`
	Format string `short:"f" help:"Output format (born|safetensors). Defaults to the output file extension."`
}

func (s *SnapshotRestoreCmd) Run(g *Global, parent *SnapshotCmd) error {
	format, err := parseFormat(s.Format)
	if err != nil {
		return err
	}
	st, err := parent.open(g)
	if err != nil {
		return err
	}
	defer st.Close()

	var (
		tree *state.Tree
		snap store.Snapshot
	)
	ctx := context.Background()
	if s.ID != "" {
		tree, snap, err = st.Get(ctx, s.ID)
	} else {
		tree, snap, err = st.Latest(ctx, s.Name)
	}
	if err != nil {
		return err
	}

	out := tree
	if s.Into != "" {
		target, err := readCheckpoint(g, s.Into)
		if err != nil {
			return err
		}
		stats := target.Tree.LoadWithStats(tree)
		g.Logger.Info("Snapshot loaded into checkpoint",
			"id", snap.ID,
			"into", s.Into,
			"copied", stats.Copied,
			"skipped", stats.Skipped,
			"incompatible", stats.Incompatible)
		out = target.Tree
	}

	opts := serialization.WriteOptions{RunID: snap.RunID, Metadata: snap.Metadata}
	if err := serialization.Write(s.Output, format, out, opts); err != nil {
		return fmt.Errorf("write %s: %w", s.Output, err)
	}
	fmt.Fprintf(g.Out, "restored %s (%s) -> %s\n", snap.ID, snap.Name, s.Output)
	return nil
}

// SnapshotDeleteCmd implements 'snapshot delete'.
type SnapshotDeleteCmd struct {
	ID string `arg:"" help:"Snapshot id"`
}

func (s *SnapshotDeleteCmd) Run(g *Global, parent *SnapshotCmd) error {
	st, err := parent.open(g)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Delete(context.Background(), s.ID); err != nil {
		if errors.Is(err, store.ErrSnapshotNotFound) {
			return fmt.Errorf("snapshot %s: %w", s.ID, err)
		}
		return err
	}
	fmt.Fprintf(g.Out, "deleted %s\n", s.ID)
	return nil
}
