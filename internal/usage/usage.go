package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/curibio/cloud-core/internal/models"
)

// Unlimited marks a limit a customer is not billed against.
const Unlimited = -1

// Snapshot is a customer's current consumption against one product's
// limits.
type Snapshot struct {
	UploadsCount int64                `json:"current_uploads_usage"`
	JobsCount    int64                `json:"current_analysis_usage"`
	Limits       models.ProductLimits `json:"limits"`
}

// Status is the evaluated quota state. An expired plan reads as both
// limits reached.
type Status struct {
	UploadsReached bool `json:"uploads_reached"`
	JobsReached    bool `json:"jobs_reached"`
}

// Error reports a refused operation. Handlers render it with a 200
// status and an error-shaped body so clients distinguish quota refusals
// from failures.
type Error struct {
	Reason   string   `json:"error"`
	Status   Status   `json:"status"`
	Snapshot Snapshot `json:"usage"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("usage limit reached: %s", e.Reason)
}

type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

// Uploads are priced per row. Analyses are priced so that the first two
// runs against an upload cost one credit and every later run costs one
// more; the formula is kept exactly as billing has always computed it.
const (
	countUploadsSQL = `
		SELECT COUNT(*) FROM uploads
		WHERE customer_id = $1 AND type = $2`

	countJobsSQL = `
		SELECT COALESCE(SUM(
			CASE WHEN per_upload.n <= 2 AND per_upload.n > 0 THEN 1
			     ELSE GREATEST(per_upload.n - 1, 0)
			END), 0)
		FROM (
			SELECT COUNT(*) AS n FROM jobs_result
			JOIN uploads ON uploads.id = jobs_result.upload_id
			WHERE uploads.customer_id = $1 AND jobs_result.type = $2
			GROUP BY jobs_result.upload_id
		) AS per_upload`

	// advanced analyses have no owning upload; each result row is one
	// credit
	countAdvancedJobsSQL = `
		SELECT COUNT(*) FROM advanced_analysis_result
		WHERE customer_id = $1`
)

// GetSnapshot loads consumption and limits for a customer and product.
// Customers without restrictions for the product are unlimited.
func (s *Service) GetSnapshot(ctx context.Context, customerID uuid.UUID, product string) (*Snapshot, error) {
	snap := &Snapshot{
		Limits: models.ProductLimits{Uploads: Unlimited, Jobs: Unlimited},
	}

	var restrictions map[string]models.ProductLimits
	err := s.db.QueryRow(ctx,
		`SELECT usage_restrictions FROM customers WHERE id = $1`, customerID,
	).Scan(&restrictions)
	if err != nil {
		return nil, fmt.Errorf("load usage restrictions: %w", err)
	}
	if limits, ok := restrictions[product]; ok {
		snap.Limits = limits
	}

	if err := s.db.QueryRow(ctx, countUploadsSQL, customerID, product).Scan(&snap.UploadsCount); err != nil {
		return nil, fmt.Errorf("count uploads: %w", err)
	}

	jobsQuery, jobsArgs := countJobsSQL, []any{customerID, product}
	if product == "advanced_analysis" {
		jobsQuery, jobsArgs = countAdvancedJobsSQL, []any{customerID}
	}
	if err := s.db.QueryRow(ctx, jobsQuery, jobsArgs...).Scan(&snap.JobsCount); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	return snap, nil
}

// CheckUpload refuses a new upload when the plan is expired or the
// upload allowance is used up. No row is written on refusal.
func (s *Service) CheckUpload(ctx context.Context, customerID uuid.UUID, product string) error {
	snap, err := s.GetSnapshot(ctx, customerID, product)
	if err != nil {
		return err
	}
	status, err := Evaluate(snap, time.Now())
	if err != nil {
		return err
	}
	if status.UploadsReached {
		return &Error{Reason: "upload limit reached", Status: status, Snapshot: *snap}
	}
	return nil
}

// CheckJob refuses a new analysis when the plan is expired or the
// analysis allowance is used up.
func (s *Service) CheckJob(ctx context.Context, customerID uuid.UUID, product string) error {
	snap, err := s.GetSnapshot(ctx, customerID, product)
	if err != nil {
		return err
	}
	status, err := Evaluate(snap, time.Now())
	if err != nil {
		return err
	}
	if status.JobsReached {
		return &Error{Reason: "analysis limit reached", Status: status, Snapshot: *snap}
	}
	return nil
}

// Evaluate computes the quota state at a point in time.
func Evaluate(snap *Snapshot, now time.Time) (Status, error) {
	expired, err := planExpired(snap.Limits.ExpirationDate, now)
	if err != nil {
		return Status{}, err
	}
	if expired {
		return Status{UploadsReached: true, JobsReached: true}, nil
	}
	return Status{
		UploadsReached: snap.Limits.Uploads != Unlimited && snap.UploadsCount >= snap.Limits.Uploads,
		JobsReached:    snap.Limits.Jobs != Unlimited && snap.JobsCount >= snap.Limits.Jobs,
	}, nil
}

func planExpired(date *string, now time.Time) (bool, error) {
	if date == nil {
		return false, nil
	}
	expires, err := time.Parse("2006-01-02", *date)
	if err != nil {
		return false, fmt.Errorf("parse expiration date: %w", err)
	}
	// the plan lapses once midnight of the expiration day passes
	return now.After(expires), nil
}
