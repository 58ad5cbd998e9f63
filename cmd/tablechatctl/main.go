package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tablechat/tablechat/internal/cli/tablechatctl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(tablechatctl.Run(ctx, os.Args[1:], tablechatctl.Options{
		BaseURL:   os.Getenv("TABLECHAT_BASE_URL"),
		APIKey:    os.Getenv("TABLECHAT_API_KEY"),
		SessionID: os.Getenv("TABLECHAT_SESSION"),
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
	}))
}
