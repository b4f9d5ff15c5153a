// Package commands implements the statetree command line.
package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"

	"github.com/alecthomas/kong"

	"github.com/born-ml/statetree/internal/config"
	"github.com/born-ml/statetree/internal/loader"
	"github.com/born-ml/statetree/internal/selector"
	"github.com/born-ml/statetree/internal/serialization"
	"github.com/born-ml/statetree/internal/state"
	"github.com/born-ml/statetree/internal/tensor"
)

// Global carries state shared by every subcommand once flags are parsed.
type Global struct {
	Out    io.Writer
	Config *config.Config
	Logger *slog.Logger
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path. Defaults to ./statetree.yaml when present."`
	Verbose bool             `short:"v" help:"Enable debug logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Inspect  InspectCmd  `cmd:"" help:"Print the tree stored in a checkpoint"`
	Flatten  FlattenCmd  `cmd:"" help:"List the dotted keys of a checkpoint"`
	Convert  ConvertCmd  `cmd:"" help:"Convert a checkpoint between .born and .safetensors"`
	Merge    MergeCmd    `cmd:"" help:"Partially load one checkpoint into another"`
	Diff     DiffCmd     `cmd:"" help:"Compare the keys, dtypes and shapes of two checkpoints"`
	Snapshot SnapshotCmd `cmd:"" help:"Save, list and restore snapshots in the SQLite store"`
	Watch    WatchCmd    `cmd:"" help:"Hot-reload a checkpoint into a live tree"`
	About    VersionCmd  `cmd:"" name:"version" help:"Print version information"`
}

// AfterApply runs after flag parsing: it loads configuration and sets up
// logging once for every subcommand.
func (c *CLI) AfterApply(g *Global) error {
	path := c.Config
	if path == "" {
		if _, err := os.Stat(config.DefaultPath); err == nil {
			path = config.DefaultPath
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	g.Config = cfg
	g.Logger = cfg.Log.NewLogger(os.Stderr, c.Verbose)
	if g.Out == nil {
		g.Out = os.Stdout
	}
	slog.SetDefault(g.Logger)
	return nil
}

// readCheckpoint reads path with the configured validation level.
func readCheckpoint(g *Global, path string) (*serialization.Checkpoint, error) {
	ckpt, err := serialization.Read(path, g.Config.ReaderOptions())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	g.Logger.Debug("Checkpoint read", "path", path, "format", ckpt.Format, "tensors", len(ckpt.Header.Tensors))
	return ckpt, nil
}

// parseFormat accepts an empty flag as "pick by extension".
func parseFormat(s string) (serialization.Format, error) {
	if s == "" {
		return serialization.FormatUnknown, nil
	}
	return serialization.ParseFormat(s)
}

// compileSelector returns nil for an empty expression.
func compileSelector(expression string) (*selector.Selector, error) {
	if expression == "" {
		return nil, nil
	}
	sel, err := selector.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("--select: %w", err)
	}
	return sel, nil
}

// selectTree narrows tree to the keys sel accepts. A nil selector keeps all.
func selectTree(tree *state.Tree, sel *selector.Selector) (*state.Tree, error) {
	if sel == nil {
		return tree, nil
	}
	return sel.Select(tree)
}

// remapTree renames keys of tree by "from=to" prefix rules. No rules keeps
// the tree as is.
func remapTree(g *Global, tree *state.Tree, rules []string) (*state.Tree, error) {
	if len(rules) == 0 {
		return tree, nil
	}
	mapper, err := loader.ParseRules(rules)
	if err != nil {
		return nil, fmt.Errorf("--rename: %w", err)
	}
	out, stats, err := loader.RemapWithStats(tree, mapper)
	if err != nil {
		return nil, err
	}
	g.Logger.Debug("Keys remapped", "renamed", stats.Renamed, "kept", stats.Kept, "dropped", stats.Dropped)
	return out, nil
}

// leafInfo is the comparable description of one leaf.
type leafInfo struct {
	DType     tensor.DataType
	Shape     tensor.Shape
	Trainable bool
}

func (l leafInfo) String() string {
	return fmt.Sprintf("%s%s", l.DType, l.Shape)
}

// describe returns the sorted keys of tree with their leaf description.
func describe(tree *state.Tree) ([]string, map[string]leafInfo) {
	flat := tree.ToFlatMap()
	infos := make(map[string]leafInfo, len(flat))
	for key, cell := range flat {
		cell.Lock(func(v *tensor.RawTensor) {
			infos[key] = leafInfo{DType: v.DType(), Shape: v.Shape().Clone(), Trainable: v.RequiresGrad()}
		})
	}
	return slices.Sorted(maps.Keys(infos)), infos
}

// ErrDifferent is returned by diff --exit-code when the inputs differ.
var ErrDifferent = errors.New("checkpoints differ")
