// Command sectordesk runs the sector investment desk: HTTP API, realtime
// hub, discussion scheduler and the operational subcommands around them.
package main

import (
	"log/slog"
	"os"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
