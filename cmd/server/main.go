package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"convertly/web/internal/app"
	"convertly/web/internal/config"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}
	if err := a.Run(ctx); err != nil {
		return fmt.Errorf("run app: %w", err)
	}
	return nil
}
