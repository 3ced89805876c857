// Command ason-runner is the standalone script runner. It speaks the
// newline-delimited JSON protocol on stdin/stdout and evaluates scripts with
// the embedded Starlark engine; host operator calls travel back to the
// orchestrator as invoke-requests. The same binary serves the child-process
// and container execution modes.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/peopleworks/ason/src/runner"
)

func main() {
	// Stdout carries protocol frames; diagnostics go to stderr only.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if err := runner.Serve(context.Background(), os.Stdin, os.Stdout, logger); err != nil {
		logger.Error("runner terminated", "error", err)
		os.Exit(1)
	}
}
