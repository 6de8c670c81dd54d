package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"content-autoposter/internal/audit"
	"content-autoposter/internal/config"
	"content-autoposter/internal/logger"
	"content-autoposter/internal/queue"
	"content-autoposter/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	out := flag.String("o", cfg.ExportPath, "output workbook path")
	flag.Parse()

	exporter := services.NewExportService(queue.NewStore(cfg.PendingPostsFile), audit.NewLog(cfg.PostedLogsFile))
	summary, err := exporter.Export(*out, time.Now())
	if err != nil {
		log.Fatal("Export failed: ", err)
	}

	fmt.Printf("Wrote %s: %d pending, %d published, %d attempts (%d failed)\n",
		summary.Path, summary.Pending, summary.Published, summary.Attempts, summary.Failures)
}
