package commands

import (
	"fmt"
	"maps"
	"slices"
)

// DiffCmd implements the 'diff' command.
//
// Output lines start with '-' for keys only in A, '+' for keys only in B and
// '~' for keys whose dtype or shape differ. Values are not compared.
type DiffCmd struct {
	A        string `arg:"" help:"First checkpoint" type:"existingfile"`
	B        string `arg:"" help:"Second checkpoint" type:"existingfile"`
	ExitCode bool   `help:"Fail when the checkpoints differ"`
}

func (d *DiffCmd) Run(g *Global) error {
	a, err := readCheckpoint(g, d.A)
	if err != nil {
		return err
	}
	b, err := readCheckpoint(g, d.B)
	if err != nil {
		return err
	}

	_, left := describe(a.Tree)
	_, right := describe(b.Tree)
	keys := make(map[string]struct{}, len(left)+len(right))
	for k := range left {
		keys[k] = struct{}{}
	}
	for k := range right {
		keys[k] = struct{}{}
	}

	var changes int
	for _, key := range slices.Sorted(maps.Keys(keys)) {
		l, inLeft := left[key]
		r, inRight := right[key]
		switch {
		case !inRight:
			fmt.Fprintf(g.Out, "- %s %s\n", key, l)
		case !inLeft:
			fmt.Fprintf(g.Out, "+ %s %s\n", key, r)
		case l.DType != r.DType || !l.Shape.Equal(r.Shape):
			fmt.Fprintf(g.Out, "~ %s %s -> %s\n", key, l, r)
		default:
			continue
		}
		changes++
	}

	if changes == 0 {
		fmt.Fprintln(g.Out, "no structural differences")
		return nil
	}
	if d.ExitCode {
		return fmt.Errorf("%w: %d keys", ErrDifferent, changes)
	}
	return nil
}
