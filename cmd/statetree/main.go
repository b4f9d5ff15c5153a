// Package main provides the statetree CLI.
package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/born-ml/statetree/cmd/statetree/commands"
)

func main() {
	cli := &commands.CLI{}
	global := &commands.Global{Out: os.Stdout}

	parser := kong.Parse(cli,
		kong.Name("statetree"),
		kong.Description("Inspect, convert, merge and hot-reload hierarchical model state."),
		kong.UsageOnError(),
		kong.Vars{"version": commands.Version},
		kong.Bind(global),
	)
	if err := parser.Run(); err != nil {
		slog.Error("Command failed", "command", parser.Command(), "error", err)
		os.Exit(1)
	}
}
