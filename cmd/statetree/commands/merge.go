package commands

import (
	"fmt"
	"time"

	"github.com/born-ml/statetree/internal/serialization"
)

// MergeCmd implements the 'merge' command: SOURCE is loaded into TARGET the
// same way a module loads a partial checkpoint, and the result is written
// to OUTPUT. TARGET is never modified.
type MergeCmd struct {
	Target string   `arg:"" help:"Checkpoint providing the structure" type:"existingfile"`
	Source string   `arg:"" help:"Checkpoint providing the values" type:"existingfile"`
	Output string   `short:"o" required:"" help:"Where to write the merged checkpoint"`
	Select string   `short:"s" help:"Only load source keys matching this expression (applied after --rename)"`
	Rename []string `short:"r" help:"Rename source key prefixes before loading (from=to, repeatable)" sep:"none"`
	Format string   `short:"f" help:"Output format (born|safetensors). Defaults to the output file extension."`
}

func (m *MergeCmd) Run(g *Global) error {
	format, err := parseFormat(m.Format)
	if err != nil {
		return err
	}
	sel, err := compileSelector(m.Select)
	if err != nil {
		return err
	}
	target, err := readCheckpoint(g, m.Target)
	if err != nil {
		return err
	}
	source, err := readCheckpoint(g, m.Source)
	if err != nil {
		return err
	}
	src, err := remapTree(g, source.Tree, m.Rename)
	if err != nil {
		return err
	}
	src, err = selectTree(src, sel)
	if err != nil {
		return err
	}

	start := time.Now()
	stats := target.Tree.LoadWithStats(src)
	g.Logger.Info("Merged checkpoint",
		"target", m.Target,
		"source", m.Source,
		"copied", stats.Copied,
		"skipped", stats.Skipped,
		"incompatible", stats.Incompatible,
		"duration", time.Since(start))

	opts := serialization.WriteOptions{Metadata: target.Header.Metadata}
	if err := serialization.Write(m.Output, format, target.Tree, opts); err != nil {
		return fmt.Errorf("write %s: %w", m.Output, err)
	}
	fmt.Fprintf(g.Out, "copied=%d skipped=%d incompatible=%d -> %s\n",
		stats.Copied, stats.Skipped, stats.Incompatible, m.Output)
	return nil
}
