package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"content-autoposter/internal/app"
	"content-autoposter/internal/config"
	"content-autoposter/internal/logger"
	"content-autoposter/services"
)

func main() {
	runNow := flag.Bool("run-now", false, "run publish once at startup")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatal("Failed to initialize:", err)
	}
	defer a.Close()

	if err := cfg.ValidatePublish(); err != nil {
		log.Fatal("Invalid publish configuration: ", err)
	}

	cron := services.NewCronService(time.Local)

	if err := cron.Register("publish", cfg.PublishCron, runJob("publish", a.Publish)); err != nil {
		log.Fatal(err)
	}
	if cfg.GeminiAPIKey != "" {
		if err := cron.Register("generate", cfg.GenerateCron, runJob("generate", a.Generate)); err != nil {
			log.Fatal(err)
		}
	} else {
		logger.Warn("GEMINI_API_KEY not set, generation job disabled")
	}

	cron.Start()
	logger.Info("Scheduler started", "publish_cron", cfg.PublishCron, "generate_cron", cfg.GenerateCron)

	if *runNow {
		if err := cron.RunNow("publish"); err != nil {
			logger.Error("Failed to trigger publish", "error", err)
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down scheduler...")

	cron.Stop()
	logger.Info("Scheduler exited")
}

func runJob(name string, run func(context.Context) (int, error)) services.JobFunc {
	return func(ctx context.Context) error {
		code, err := run(ctx)
		if err != nil {
			return err
		}
		logger.Info("Run complete", "job", name, "code", code)
		return nil
	}
}
