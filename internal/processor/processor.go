package processor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/curibio/cloud-core/internal/database"
)

const (
	// listenerReconnectDelay is how long a dropped LISTEN connection
	// waits before re-establishing.
	listenerReconnectDelay = 60 * time.Second

	// pollInterval is the safety-net reconciliation cadence covering
	// notifications lost while the listener was down.
	pollInterval = 5 * time.Minute
)

// Launcher starts and counts worker Jobs for one queue family.
type Launcher interface {
	ActiveWorkers(ctx context.Context, version string) (int, error)
	StartWorker(ctx context.Context, version string, index int) error
}

// QueueCounter reports pending items per version for a queue family.
type QueueCounter interface {
	CountQueued(ctx context.Context, family string) (map[string]int, error)
}

// Processor keeps the number of live workers per version tracking the
// queue depth, capped at maxWorkers. It only ever scales up; workers
// exit on their own when the queue drains.
type Processor struct {
	queue    QueueCounter
	launcher Launcher
	family   string
	max      int

	// serializes listener- and poller-triggered reconciliations
	mu sync.Mutex
}

func New(q QueueCounter, launcher Launcher, family string, maxWorkers int) *Processor {
	return &Processor{queue: q, launcher: launcher, family: family, max: maxWorkers}
}

// Reconcile computes the per-version worker deficit and starts that many
// Jobs. Running it twice with no queue change starts nothing extra.
func (p *Processor) Reconcile(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	reconciliations.WithLabelValues(p.family).Inc()

	counts, err := p.queue.CountQueued(ctx, p.family)
	if err != nil {
		return err
	}

	for version, queued := range counts {
		queuedItems.WithLabelValues(p.family, version).Set(float64(queued))

		active, err := p.launcher.ActiveWorkers(ctx, version)
		if err != nil {
			return err
		}

		target := queued
		if target > p.max {
			target = p.max
		}
		toStart := target - active
		if toStart <= 0 {
			continue
		}

		slog.Info("scaling workers",
			"queue", p.family, "version", version,
			"queued", queued, "active", active, "starting", toStart)

		for i := 0; i < toStart; i++ {
			if err := p.launcher.StartWorker(ctx, version, active+i); err != nil {
				return err
			}
			workersStarted.WithLabelValues(p.family, version).Inc()
		}
	}
	return nil
}

// Run drives both control paths until ctx is cancelled: a notification
// listener on the queue channel and the periodic poller.
func (p *Processor) Run(ctx context.Context, listener *database.Listener) error {
	errc := make(chan error, 1)

	go func() {
		errc <- listener.Run(ctx, listenerReconnectDelay, func(database.Notification) {
			if err := p.Reconcile(ctx); err != nil {
				slog.Error("reconciliation failed", "trigger", "notification", "error", err)
			}
		})
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	// one eager pass picks up items queued before startup
	if err := p.Reconcile(ctx); err != nil {
		slog.Error("reconciliation failed", "trigger", "startup", "error", err)
	}

	for {
		select {
		case <-ticker.C:
			if err := p.Reconcile(ctx); err != nil {
				slog.Error("reconciliation failed", "trigger", "poll", "error", err)
			}
		case err := <-errc:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
