package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/curibio/cloud-core/internal/auth"
	"github.com/curibio/cloud-core/internal/models"
	"github.com/curibio/cloud-core/internal/scopes"
)

// NotifyChannel carries an empty payload whenever a queue row is
// inserted; processors treat it as a reconciliation nudge.
const NotifyChannel = "jobs_queue"

var (
	ErrEmptyQueue = errors.New("queue is empty")
	ErrNotFound   = errors.New("no matching rows")
)

const versionSep = "-v"

// Name builds the queue a job lands on, e.g. pulse3d-v1.0.0.
func Name(product, version string) string {
	return product + versionSep + version
}

// Parse splits a queue name back into product and version.
func Parse(queue string) (product, version string, err error) {
	i := strings.LastIndex(queue, versionSep)
	if i <= 0 || i+len(versionSep) >= len(queue) {
		return "", "", fmt.Errorf("malformed queue name %q", queue)
	}
	return queue[:i], queue[i+len(versionSep):], nil
}

type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

type CreateUploadParams struct {
	ID         uuid.UUID
	CustomerID uuid.UUID
	UserID     uuid.UUID
	Prefix     string
	Filename   string
	MD5        string
	Type       string
	AutoUpload bool
	Meta       json.RawMessage
}

// CreateUpload records an upload row. The id is assigned by the caller
// so the object-store prefix can be derived before the insert.
func (s *Service) CreateUpload(ctx context.Context, p CreateUploadParams) (*models.Upload, error) {
	u := models.Upload{
		ID:         p.ID,
		CustomerID: p.CustomerID,
		UserID:     p.UserID,
		Prefix:     p.Prefix,
		Filename:   p.Filename,
		MD5:        p.MD5,
		Type:       p.Type,
		AutoUpload: p.AutoUpload,
		Meta:       p.Meta,
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO uploads (id, customer_id, user_id, prefix, filename, md5, type, auto_upload, meta)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING created_at`,
		p.ID, p.CustomerID, p.UserID, p.Prefix, p.Filename, p.MD5, p.Type, p.AutoUpload, p.Meta,
	).Scan(&u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create upload: %w", err)
	}
	return &u, nil
}

type CreateJobParams struct {
	UploadID   uuid.UUID
	CustomerID uuid.UUID
	UserID     uuid.UUID
	Queue      string
	Priority   int
	Meta       json.RawMessage
}

// CreateJob enqueues work and records its pending result in the same
// transaction, so a job is never visible without a result row and vice
// versa. The insert trigger notifies processors.
func (s *Service) CreateJob(ctx context.Context, p CreateJobParams) (uuid.UUID, error) {
	product, _, err := Parse(p.Queue)
	if err != nil {
		return uuid.Nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin create job: %w", err)
	}
	defer tx.Rollback(ctx)

	var jobID uuid.UUID
	err = tx.QueryRow(ctx,
		`INSERT INTO jobs_queue (upload_id, queue, priority, meta)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		p.UploadID, p.Queue, p.Priority, p.Meta,
	).Scan(&jobID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue job: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO jobs_result (job_id, upload_id, customer_id, user_id, type, status, meta)
		 VALUES ($1, $2, $3, $4, $5, 'pending', $6)`,
		jobID, p.UploadID, p.CustomerID, p.UserID, product, p.Meta,
	); err != nil {
		return uuid.Nil, fmt.Errorf("record pending result: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit create job: %w", err)
	}
	return jobID, nil
}

type CreateAdvancedAnalysisParams struct {
	CustomerID uuid.UUID
	UserID     uuid.UUID
	Sources    []uuid.UUID
	Queue      string
	Priority   int
	Meta       json.RawMessage
}

// CreateAdvancedAnalysisJob enqueues a multi-source job: no single
// upload owns it, so the result row keys on the job id alone.
func (s *Service) CreateAdvancedAnalysisJob(ctx context.Context, p CreateAdvancedAnalysisParams) (uuid.UUID, error) {
	if _, _, err := Parse(p.Queue); err != nil {
		return uuid.Nil, err
	}
	if len(p.Sources) == 0 {
		return uuid.Nil, errors.New("advanced analysis requires at least one source")
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin create job: %w", err)
	}
	defer tx.Rollback(ctx)

	var jobID uuid.UUID
	err = tx.QueryRow(ctx,
		`INSERT INTO jobs_queue (queue, priority, sources, meta)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		p.Queue, p.Priority, p.Sources, p.Meta,
	).Scan(&jobID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue job: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO advanced_analysis_result (id, customer_id, user_id, sources, status, meta)
		 VALUES ($1, $2, $3, $4, 'pending', $5)`,
		jobID, p.CustomerID, p.UserID, p.Sources, p.Meta,
	); err != nil {
		return uuid.Nil, fmt.Errorf("record pending result: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit create job: %w", err)
	}
	return jobID, nil
}

// scopeFilter narrows result queries to what the caller may see: admins
// read their whole customer, rw_all_data users likewise, everyone else
// only their own rows.
func scopeFilter(claims *auth.Claims, product string) (string, []any) {
	if claims.AccountType == models.AccountTypeAdmin {
		return "customer_id = $1", []any{claims.CustomerID}
	}
	for _, sc := range claims.Scopes {
		if sc == scopes.Scope(product+":rw_all_data") {
			return "customer_id = $1", []any{claims.CustomerID}
		}
	}
	return "customer_id = $1 AND user_id = $2", []any{claims.CustomerID, *claims.UserID}
}

// GetJobs lists results for a product visible to the caller, optionally
// narrowed to specific job ids.
func (s *Service) GetJobs(ctx context.Context, claims *auth.Claims, product string, jobIDs []uuid.UUID) ([]models.JobResult, error) {
	if product == "advanced_analysis" {
		return s.getAdvancedJobs(ctx, claims, jobIDs)
	}
	where, args := scopeFilter(claims, product)
	query := fmt.Sprintf(
		`SELECT job_id, upload_id, customer_id, user_id, type, status, runtime, object_key, meta, created_at, started_at, finished_at
		 FROM jobs_result WHERE %s AND type = $%d AND status != 'deleted'`,
		where, len(args)+1)
	args = append(args, product)
	if len(jobIDs) > 0 {
		query += fmt.Sprintf(" AND job_id = ANY($%d)", len(args)+1)
		args = append(args, jobIDs)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []models.JobResult
	for rows.Next() {
		var j models.JobResult
		var uploadID *uuid.UUID
		if err := rows.Scan(&j.JobID, &uploadID, &j.CustomerID, &j.UserID, &j.Type, &j.Status,
			&j.Runtime, &j.ObjectKey, &j.Meta, &j.CreatedAt, &j.StartedAt, &j.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		if uploadID != nil {
			j.UploadID = *uploadID
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Service) getAdvancedJobs(ctx context.Context, claims *auth.Claims, jobIDs []uuid.UUID) ([]models.JobResult, error) {
	where, args := scopeFilter(claims, "advanced_analysis")
	query := fmt.Sprintf(
		`SELECT id, customer_id, user_id, status, runtime, object_key, meta, created_at, started_at, finished_at
		 FROM advanced_analysis_result WHERE %s AND status != 'deleted'`, where)
	if len(jobIDs) > 0 {
		query += fmt.Sprintf(" AND id = ANY($%d)", len(args)+1)
		args = append(args, jobIDs)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list advanced jobs: %w", err)
	}
	defer rows.Close()

	var out []models.JobResult
	for rows.Next() {
		j := models.JobResult{Type: "advanced_analysis"}
		if err := rows.Scan(&j.JobID, &j.CustomerID, &j.UserID, &j.Status, &j.Runtime,
			&j.ObjectKey, &j.Meta, &j.CreatedAt, &j.StartedAt, &j.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan advanced job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// GetUploads lists non-deleted uploads for a product visible to the caller.
func (s *Service) GetUploads(ctx context.Context, claims *auth.Claims, product string, uploadIDs []uuid.UUID) ([]models.Upload, error) {
	where, args := scopeFilter(claims, product)
	query := fmt.Sprintf(
		`SELECT id, customer_id, user_id, prefix, filename, md5, type, meta, auto_upload, created_at
		 FROM uploads WHERE %s AND type = $%d AND deleted = FALSE`,
		where, len(args)+1)
	args = append(args, product)
	if len(uploadIDs) > 0 {
		query += fmt.Sprintf(" AND id = ANY($%d)", len(args)+1)
		args = append(args, uploadIDs)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	var out []models.Upload
	for rows.Next() {
		var u models.Upload
		if err := rows.Scan(&u.ID, &u.CustomerID, &u.UserID, &u.Prefix, &u.Filename, &u.MD5,
			&u.Type, &u.Meta, &u.AutoUpload, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// DeleteJobs soft-deletes results. Deleted rows still count toward
// usage and stay out of listings.
func (s *Service) DeleteJobs(ctx context.Context, claims *auth.Claims, product string, jobIDs []uuid.UUID) error {
	where, args := scopeFilter(claims, product)
	var query string
	if product == "advanced_analysis" {
		query = fmt.Sprintf(
			`UPDATE advanced_analysis_result SET status = 'deleted'
			 WHERE %s AND id = ANY($%d)`, where, len(args)+1)
		args = append(args, jobIDs)
	} else {
		query = fmt.Sprintf(
			`UPDATE jobs_result SET status = 'deleted'
			 WHERE %s AND type = $%d AND job_id = ANY($%d)`,
			where, len(args)+1, len(args)+2)
		args = append(args, product, jobIDs)
	}

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete jobs: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUploads soft-deletes uploads the same way.
func (s *Service) DeleteUploads(ctx context.Context, claims *auth.Claims, product string, uploadIDs []uuid.UUID) error {
	where, args := scopeFilter(claims, product)
	query := fmt.Sprintf(
		`UPDATE uploads SET deleted = TRUE
		 WHERE %s AND type = $%d AND id = ANY($%d)`,
		where, len(args)+1, len(args)+2)
	args = append(args, product, uploadIDs)

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete uploads: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// claimSQL removes the best queued row while the surrounding transaction
// stays open; SKIP LOCKED keeps concurrent workers off each other's
// claims, and a rollback puts the row back untouched.
const claimSQL = `
	DELETE FROM jobs_queue
	WHERE id = (
		SELECT id FROM jobs_queue
		WHERE queue = $1
		ORDER BY priority DESC, created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	)
	RETURNING id, upload_id, queue, priority, sources, meta, created_at`

// ClaimNext claims the highest-priority oldest row inside tx. The caller
// owns the transaction lifetime.
func ClaimNext(ctx context.Context, tx pgx.Tx, queue string) (*models.QueuedItem, error) {
	var item models.QueuedItem
	err := tx.QueryRow(ctx, claimSQL, queue).Scan(
		&item.ID, &item.UploadID, &item.Queue, &item.Priority,
		&item.Sources, &item.Meta, &item.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEmptyQueue
	}
	if err != nil {
		return nil, fmt.Errorf("claim next: %w", err)
	}
	return &item, nil
}

// CountQueued returns pending items per worker-image version for one
// queue family.
func (s *Service) CountQueued(ctx context.Context, queueFamily string) (map[string]int, error) {
	rows, err := s.db.Query(ctx,
		`SELECT meta->>'version', COUNT(*) FROM jobs_queue WHERE queue LIKE $1 GROUP BY 1`,
		queueFamily+versionSep+"%")
	if err != nil {
		return nil, fmt.Errorf("count queued: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var version *string
		var n int
		if err := rows.Scan(&version, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		if version == nil {
			continue
		}
		counts[*version] = n
	}
	return counts, rows.Err()
}
