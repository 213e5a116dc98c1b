package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/curibio/cloud-core/internal/config"
	"github.com/curibio/cloud-core/internal/database"
	"github.com/curibio/cloud-core/internal/processor"
	"github.com/curibio/cloud-core/internal/queue"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateProcessor(); err != nil {
		slog.Error("invalid processor config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	k8sCfg, err := rest.InClusterConfig()
	if err != nil {
		slog.Error("not running in a cluster", "error", err)
		os.Exit(1)
	}
	client, err := kubernetes.NewForConfig(k8sCfg)
	if err != nil {
		slog.Error("kubernetes client failed", "error", err)
		os.Exit(1)
	}

	owner, err := processor.OwnerRefFromPod(ctx, client, cfg.Processor.Namespace, os.Getenv("HOSTNAME"))
	if err != nil {
		slog.Error("could not resolve own pod", "error", err)
		os.Exit(1)
	}

	launcher := processor.NewK8sLauncher(client, cfg.Processor, cfg.Buckets, owner)
	proc := processor.New(queue.NewService(db), launcher, cfg.Processor.Queue, cfg.Processor.MaxWorkers)

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.Addr(), nil); err != nil {
			slog.Error("metrics server stopped", "error", err)
		}
	}()

	listener := database.NewListener(cfg.Database.URL, "jobs_queue")
	slog.Info("starting queue processor", "queue", cfg.Processor.Queue, "max_workers", cfg.Processor.MaxWorkers)
	if err := proc.Run(ctx, listener); err != nil && ctx.Err() == nil {
		slog.Error("processor stopped", "error", err)
		os.Exit(1)
	}
}
