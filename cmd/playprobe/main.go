// File: cmd/playprobe/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/argus-qa/playprobe/cmd"
	"github.com/argus-qa/playprobe/internal/observability"
)

func main() {
	// Listen for interrupt signals so a Ctrl+C releases browser sessions
	// instead of orphaning them.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
