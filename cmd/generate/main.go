package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"content-autoposter/internal/app"
	"content-autoposter/internal/config"
	"content-autoposter/internal/logger"
	"content-autoposter/utils"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatal("Failed to initialize:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code, err := a.Generate(ctx)
	stop()
	if err != nil {
		logger.Error("Generation run failed", "kind", utils.KindOf(err), "error", err)
	}
	logger.Info("Generation run exited", "code", code)

	a.Close()
	os.Exit(code)
}
