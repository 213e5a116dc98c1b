package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/curibio/cloud-core/internal/models"
	"github.com/curibio/cloud-core/internal/queue"
)

// PoisonError is recorded on a job whose previous worker died mid-run.
// A claimed row whose result already reads running means exactly that,
// since status updates happen outside the claim transaction.
const PoisonError = "Ran out of time/memory"

// Result is what a pipeline hands back for a completed claim.
type Result struct {
	Status    models.JobStatus
	Meta      json.RawMessage
	ObjectKey *string
}

// Pipeline runs one claimed item. The queue row stays locked for the
// duration; returning an error records the job as failed, it does not
// requeue.
type Pipeline func(ctx context.Context, item *models.QueuedItem) (*Result, error)

// resultTable locates the row the harness updates for a claim. Regular
// jobs key their result on the queue row's id via job_id; advanced
// analyses own their result row outright.
type resultTable struct {
	name  string
	idCol string
}

var (
	jobResults      = resultTable{name: "jobs_result", idCol: "job_id"}
	advancedResults = resultTable{name: "advanced_analysis_result", idCol: "id"}
)

// Harness drives a single-shot worker: claim, run, record, repeat until
// the queue drains. The mid-run status update goes through the pool so
// it is visible while the job runs; the final result write rides the
// claim transaction and lands together with the queue-row delete.
type Harness struct {
	db       *pgxpool.Pool
	queue    string
	pipeline Pipeline
	results  resultTable
}

func NewHarness(db *pgxpool.Pool, queueName string, pipeline Pipeline) *Harness {
	return &Harness{db: db, queue: queueName, pipeline: pipeline, results: jobResults}
}

// NewAdvancedHarness records results in advanced_analysis_result instead
// of jobs_result.
func NewAdvancedHarness(db *pgxpool.Pool, queueName string, pipeline Pipeline) *Harness {
	return &Harness{db: db, queue: queueName, pipeline: pipeline, results: advancedResults}
}

// Run processes items until the queue is empty or ctx is cancelled. A
// cancellation mid-claim rolls the transaction back and the row returns
// to the queue untouched.
func (h *Harness) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := h.ProcessNext(ctx)
		if errors.Is(err, queue.ErrEmptyQueue) {
			slog.Info("queue drained, exiting", "queue", h.queue)
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// ProcessNext claims and runs one item. The claim transaction commits
// only after the result row is final, so a crash at any earlier point
// returns the item to the queue.
func (h *Harness) ProcessNext(ctx context.Context) error {
	tx, err := h.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback(ctx)

	item, err := queue.ClaimNext(ctx, tx, h.queue)
	if err != nil {
		return err
	}

	log := slog.With("job_id", item.ID, "queue", h.queue)

	var status models.JobStatus
	if err := h.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT status FROM %s WHERE %s = $1`, h.results.name, h.results.idCol),
		item.ID,
	).Scan(&status); err != nil {
		return fmt.Errorf("load result status: %w", err)
	}

	// a running status on a freshly claimed row is a previous worker's
	// corpse; consume the row instead of rerunning the poison item
	if status == models.JobStatusRunning {
		log.Error("claimed item already marked running, recording failure")
		if err := h.recordFailure(ctx, tx, item, PoisonError); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	started := time.Now()
	if _, err := h.db.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET status = 'running', started_at = $1 WHERE %s = $2`,
			h.results.name, h.results.idCol),
		started, item.ID,
	); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}

	log.Info("processing item", "priority", item.Priority)

	res, err := h.pipeline(ctx, item)
	runtime := time.Since(started).Seconds()
	if err != nil {
		log.Error("pipeline failed", "error", err, "runtime", runtime)
		if err := h.recordFailure(ctx, tx, item, err.Error()); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	meta, err := MergeMeta(item.Meta, res.Meta)
	if err != nil {
		return fmt.Errorf("merge meta: %w", err)
	}

	// the final write rides the claim transaction, so the queue row is
	// consumed and the result finalized atomically
	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s
		 SET status = $1, runtime = $2, object_key = $3, meta = $4, finished_at = NOW()
		 WHERE %s = $5`, h.results.name, h.results.idCol),
		res.Status, runtime, res.ObjectKey, meta, item.ID,
	); err != nil {
		return fmt.Errorf("record result: %w", err)
	}

	log.Info("item finished", "status", res.Status, "runtime", runtime)
	return tx.Commit(ctx)
}

func (h *Harness) recordFailure(ctx context.Context, tx pgx.Tx, item *models.QueuedItem, msg string) error {
	meta, err := MergeMeta(item.Meta, errorMeta(msg))
	if err != nil {
		return fmt.Errorf("merge meta: %w", err)
	}
	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET status = 'error', meta = $1, finished_at = NOW() WHERE %s = $2`,
			h.results.name, h.results.idCol),
		meta, item.ID,
	); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

func errorMeta(msg string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return b
}

// MergeMeta overlays pipeline meta onto the queued item's meta; overlay
// keys win.
func MergeMeta(base, overlay json.RawMessage) (json.RawMessage, error) {
	if len(overlay) == 0 {
		return base, nil
	}
	if len(base) == 0 {
		return overlay, nil
	}

	merged := make(map[string]json.RawMessage)
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, fmt.Errorf("unmarshal base meta: %w", err)
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(overlay, &top); err != nil {
		return nil, fmt.Errorf("unmarshal overlay meta: %w", err)
	}
	for k, v := range top {
		merged[k] = v
	}
	return json.Marshal(merged)
}
