package commands

import (
	"fmt"

	"github.com/born-ml/statetree/internal/serialization"
)

// ConvertCmd implements the 'convert' command.
type ConvertCmd struct {
	Input  string `arg:"" help:"Source checkpoint" type:"existingfile"`
	Output string `arg:"" help:"Destination checkpoint"`
	Format string `short:"f" help:"Output format (born|safetensors). Defaults to the output file extension."`
}

func (c *ConvertCmd) Run(g *Global) error {
	format, err := parseFormat(c.Format)
	if err != nil {
		return err
	}
	ckpt, err := readCheckpoint(g, c.Input)
	if err != nil {
		return err
	}

	opts := serialization.WriteOptions{Metadata: ckpt.Header.Metadata}
	if err := serialization.Write(c.Output, format, ckpt.Tree, opts); err != nil {
		return fmt.Errorf("write %s: %w", c.Output, err)
	}

	g.Logger.Info("Checkpoint converted", "from", c.Input, "to", c.Output, "tensors", len(ckpt.Header.Tensors))
	fmt.Fprintf(g.Out, "converted %s (%s) -> %s\n", c.Input, ckpt.Format, c.Output)
	return nil
}
