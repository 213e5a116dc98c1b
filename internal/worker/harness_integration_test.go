//go:build integration

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/curibio/cloud-core/internal/database"
	"github.com/curibio/cloud-core/internal/models"
	"github.com/curibio/cloud-core/internal/queue"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, database.RunMigrations(context.Background(), pool, "../../migrations"))
	return pool
}

// seedJob inserts a queue row plus its result row in the given status and
// returns the job id. Each call creates its own customer and user.
func seedJob(t *testing.T, pool *pgxpool.Pool, queueName string, status models.JobStatus) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	var customerID, userID uuid.UUID
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO customers (email) VALUES ($1) RETURNING id`,
		uuid.NewString()+"@curibio.com").Scan(&customerID))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO users (customer_id, email, name) VALUES ($1, $2, $3) RETURNING id`,
		customerID, uuid.NewString()+"@curibio.com", uuid.NewString()).Scan(&userID))

	jobID := uuid.New()
	_, err := pool.Exec(ctx,
		`INSERT INTO jobs_queue (id, queue, meta) VALUES ($1, $2, '{"version":"1.0.0"}')`,
		jobID, queueName)
	require.NoError(t, err)
	_, err = pool.Exec(ctx,
		`INSERT INTO jobs_result (job_id, customer_id, user_id, type, status) VALUES ($1, $2, $3, 'pulse3d', $4)`,
		jobID, customerID, userID, status)
	require.NoError(t, err)
	return jobID
}

func resultStatus(t *testing.T, pool *pgxpool.Pool, jobID uuid.UUID) models.JobStatus {
	t.Helper()
	var status models.JobStatus
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT status FROM jobs_result WHERE job_id = $1`, jobID).Scan(&status))
	return status
}

func queuedCount(t *testing.T, pool *pgxpool.Pool, queueName string) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM jobs_queue WHERE queue = $1`, queueName).Scan(&n))
	return n
}

func TestProcessNextFinishesClaim(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	queueName := "pulse3d-v1.0.0-" + uuid.NewString()
	jobID := seedJob(t, pool, queueName, models.JobStatusPending)

	key := "artifacts/out.xlsx"
	h := NewHarness(pool, queueName, func(ctx context.Context, item *models.QueuedItem) (*Result, error) {
		require.Equal(t, jobID, item.ID)

		// mid-run, outside observers see the row running and still queued;
		// the final status lands only with the claim commit
		require.Equal(t, models.JobStatusRunning, resultStatus(t, pool, jobID))
		require.Equal(t, 1, queuedCount(t, pool, queueName))

		return &Result{
			Status:    models.JobStatusFinished,
			Meta:      json.RawMessage(`{"peaks_valleys":true}`),
			ObjectKey: &key,
		}, nil
	})

	require.NoError(t, h.ProcessNext(ctx))

	require.Equal(t, models.JobStatusFinished, resultStatus(t, pool, jobID))
	require.Equal(t, 0, queuedCount(t, pool, queueName))

	var meta json.RawMessage
	var objectKey *string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT meta, object_key FROM jobs_result WHERE job_id = $1`, jobID).Scan(&meta, &objectKey))
	require.NotNil(t, objectKey)
	require.Equal(t, key, *objectKey)

	var merged map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(meta, &merged))
	require.JSONEq(t, `"1.0.0"`, string(merged["version"]))
	require.JSONEq(t, `true`, string(merged["peaks_valleys"]))
}

func TestProcessNextRecordsPipelineFailure(t *testing.T) {
	pool := testPool(t)
	queueName := "pulse3d-v1.0.0-" + uuid.NewString()
	jobID := seedJob(t, pool, queueName, models.JobStatusPending)

	h := NewHarness(pool, queueName, func(ctx context.Context, item *models.QueuedItem) (*Result, error) {
		return nil, errors.New("recording unreadable")
	})

	require.NoError(t, h.ProcessNext(context.Background()))
	require.Equal(t, models.JobStatusError, resultStatus(t, pool, jobID))
	require.Equal(t, 0, queuedCount(t, pool, queueName))

	var meta json.RawMessage
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT meta FROM jobs_result WHERE job_id = $1`, jobID).Scan(&meta))
	var got map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(meta, &got))
	require.JSONEq(t, `"recording unreadable"`, string(got["error"]))
}

func TestProcessNextConsumesPoisonedItem(t *testing.T) {
	pool := testPool(t)
	queueName := "pulse3d-v1.0.0-" + uuid.NewString()

	// a queue row whose result already reads running is a previous
	// worker's corpse; it must be recorded as an error, never rerun
	jobID := seedJob(t, pool, queueName, models.JobStatusRunning)

	pipelineRan := false
	h := NewHarness(pool, queueName, func(ctx context.Context, item *models.QueuedItem) (*Result, error) {
		pipelineRan = true
		return &Result{Status: models.JobStatusFinished}, nil
	})

	require.NoError(t, h.ProcessNext(context.Background()))
	require.False(t, pipelineRan)
	require.Equal(t, models.JobStatusError, resultStatus(t, pool, jobID))
	require.Equal(t, 0, queuedCount(t, pool, queueName))

	var meta json.RawMessage
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT meta FROM jobs_result WHERE job_id = $1`, jobID).Scan(&meta))
	var got map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(meta, &got))
	require.JSONEq(t, `"Ran out of time/memory"`, string(got["error"]))
}

func TestRunDrainsQueue(t *testing.T) {
	pool := testPool(t)
	queueName := "pulse3d-v1.0.0-" + uuid.NewString()
	first := seedJob(t, pool, queueName, models.JobStatusPending)
	second := seedJob(t, pool, queueName, models.JobStatusPending)

	h := NewHarness(pool, queueName, func(ctx context.Context, item *models.QueuedItem) (*Result, error) {
		return &Result{Status: models.JobStatusFinished}, nil
	})

	require.NoError(t, h.Run(context.Background()))
	require.Equal(t, 0, queuedCount(t, pool, queueName))
	require.Equal(t, models.JobStatusFinished, resultStatus(t, pool, first))
	require.Equal(t, models.JobStatusFinished, resultStatus(t, pool, second))
}

func TestAbortedClaimRestoresQueueRow(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	queueName := "pulse3d-v1.0.0-" + uuid.NewString()
	jobID := seedJob(t, pool, queueName, models.JobStatusPending)

	// a worker that dies mid-run rolls its claim back; the row returns
	// untouched and no final status has leaked
	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	item, err := queue.ClaimNext(ctx, tx, queueName)
	require.NoError(t, err)
	require.Equal(t, jobID, item.ID)
	require.NoError(t, tx.Rollback(ctx))

	require.Equal(t, 1, queuedCount(t, pool, queueName))
	require.Equal(t, models.JobStatusPending, resultStatus(t, pool, jobID))
}
