// Command snapvault is a deduplicating, encrypted, compressed backup
// tool: a thin cobra CLI over the repository, archive, chunker, crypto,
// and remote packages under internal/.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
package main

import (
	"errors"
	"log/slog"
	"os"

	"snapvault/cmd/snapvault/cli"
	"snapvault/internal/logging"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	level := slog.LevelInfo
	if os.Getenv("SNAPVAULT_DEBUG") != "" {
		level = slog.LevelDebug
	}
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(logging.NewComponentFilterHandler(baseHandler, level))

	root := cli.NewRootCommand(logger)
	root.Version = version

	err := root.Execute()
	switch {
	case err == nil:
		return 0
	case errors.Is(err, cli.ErrWarning):
		return 1
	default:
		return 2
	}
}
