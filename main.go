package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/unigraph-cli/cmd"
	"github.com/xkilldash9x/unigraph-cli/internal/observability"
)

func main() {
	// A single signal-aware context flows through every command so that a
	// Ctrl-C lands at the next channel boundary instead of mid-transaction.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := cmd.Execute(ctx)
	observability.Sync()
	os.Exit(code)
}
