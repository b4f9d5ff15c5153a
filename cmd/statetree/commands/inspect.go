package commands

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// InspectCmd implements the 'inspect' command.
type InspectCmd struct {
	File string `arg:"" help:"Checkpoint file (.born or .safetensors)" type:"existingfile"`
}

func (i *InspectCmd) Run(g *Global) error {
	ckpt, err := readCheckpoint(g, i.File)
	if err != nil {
		return err
	}

	h := ckpt.Header
	fmt.Fprintf(g.Out, "file:     %s\n", i.File)
	fmt.Fprintf(g.Out, "format:   %s\n", ckpt.Format)
	if h.FormatVersion > 0 {
		fmt.Fprintf(g.Out, "version:  %d\n", h.FormatVersion)
	}
	if h.Producer != "" {
		fmt.Fprintf(g.Out, "producer: %s\n", h.Producer)
	}
	if h.RunID != "" {
		fmt.Fprintf(g.Out, "run_id:   %s\n", h.RunID)
	}
	if !h.CreatedAt.IsZero() {
		fmt.Fprintf(g.Out, "created:  %s\n", h.CreatedAt.UTC().Format(time.RFC3339))
	}

	var elements int
	_, infos := describe(ckpt.Tree)
	for _, info := range infos {
		elements += info.Shape.NumElements()
	}
	fmt.Fprintf(g.Out, "tensors:  %d (%d elements)\n", len(infos), elements)

	for _, k := range slices.Sorted(maps.Keys(h.Metadata)) {
		fmt.Fprintf(g.Out, "meta:     %s=%s\n", k, h.Metadata[k])
	}
	fmt.Fprintln(g.Out)
	fmt.Fprint(g.Out, ckpt.Tree.String())
	return nil
}
