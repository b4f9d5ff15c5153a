package commands

import (
	"fmt"
	"text/tabwriter"
)

// FlattenCmd implements the 'flatten' command.
type FlattenCmd struct {
	File   string   `arg:"" help:"Checkpoint file (.born or .safetensors)" type:"existingfile"`
	Select string   `short:"s" help:"Only list keys matching this expression, e.g. 'trainable && depth > 1'"`
	Rename []string `short:"r" help:"Rename key prefixes before listing (from=to, repeatable)" sep:"none"`
}

func (f *FlattenCmd) Run(g *Global) error {
	sel, err := compileSelector(f.Select)
	if err != nil {
		return err
	}
	ckpt, err := readCheckpoint(g, f.File)
	if err != nil {
		return err
	}
	tree, err := remapTree(g, ckpt.Tree, f.Rename)
	if err != nil {
		return err
	}
	tree, err = selectTree(tree, sel)
	if err != nil {
		return err
	}

	keys, infos := describe(tree)
	tw := tabwriter.NewWriter(g.Out, 0, 4, 2, ' ', 0)
	for _, key := range keys {
		info := infos[key]
		grad := ""
		if info.Trainable {
			grad = "requires_grad"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", key, info.DType, info.Shape, grad)
	}
	return tw.Flush()
}
