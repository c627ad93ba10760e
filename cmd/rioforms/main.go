package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/garnizeh/rioforms/internal/cli"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx, version, buildTime); err != nil {
		stop()
		os.Exit(1)
	}
}
