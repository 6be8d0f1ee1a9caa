// Package main provides the entry point for the sah-index CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/swissarmyhammer/swissarmyhammer-sub028/cmd/sah-index/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
