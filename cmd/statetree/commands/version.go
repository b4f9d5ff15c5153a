package commands

import (
	"fmt"
	"runtime"
)

// Version is set at build time with -ldflags "-X ...commands.Version=v1.2.3".
var Version = "v0.1.0-dev"

// VersionCmd implements the 'version' command.
type VersionCmd struct{}

func (VersionCmd) Run(g *Global) error {
	fmt.Fprintf(g.Out, "statetree %s (%s %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return nil
}
