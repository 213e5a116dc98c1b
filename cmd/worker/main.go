package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/curibio/cloud-core/internal/advanced"
	"github.com/curibio/cloud-core/internal/config"
	"github.com/curibio/cloud-core/internal/database"
	"github.com/curibio/cloud-core/internal/pulse3d"
	"github.com/curibio/cloud-core/internal/queue"
	"github.com/curibio/cloud-core/internal/storage"
	"github.com/curibio/cloud-core/internal/worker"
)

// The worker binary is baked into a versioned image; QUEUE tells it
// which queue that image serves, e.g. "pulse3d-v1.2.3".
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	queueName := cfg.Processor.Queue
	product, version, err := queue.Parse(queueName)
	if err != nil {
		slog.Error("invalid QUEUE", "queue", queueName, "error", err)
		os.Exit(1)
	}

	// SIGTERM rolls back the open claim so the item returns to the queue
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store, err := storage.NewS3Storage(ctx)
	if err != nil {
		slog.Error("object storage unavailable", "error", err)
		os.Exit(1)
	}

	engine := &pulse3d.ExecEngine{Bin: getEnv("ANALYSIS_BIN", "/usr/local/bin/pulse3d-analysis")}

	var h *worker.Harness
	if product == "advanced_analysis" {
		pipeline := advanced.NewPipeline(db, store, engine, cfg.Buckets.Uploads, version)
		h = worker.NewAdvancedHarness(db, queueName, pipeline.Process)
	} else {
		pipeline := pulse3d.NewPipeline(db, store, engine, cfg.Buckets.Uploads, version)
		h = worker.NewHarness(db, queueName, pipeline.Process)
	}
	slog.Info("worker starting", "queue", queueName, "product", product, "version", version)
	if err := h.Run(ctx); err != nil {
		slog.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
