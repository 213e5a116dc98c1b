// Package audit keeps a per-customer trail of account administration:
// logins, registrations, scope grants and password changes.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

type LogEntry struct {
	CustomerID uuid.UUID
	ActorID    uuid.UUID
	Action     string
	TargetID   *uuid.UUID
	Details    map[string]interface{}
	IPAddress  string
}

type Record struct {
	ID         uuid.UUID       `json:"id"`
	CustomerID uuid.UUID       `json:"customer_id"`
	ActorID    uuid.UUID       `json:"actor_id"`
	Action     string          `json:"action"`
	TargetID   *uuid.UUID      `json:"target_id,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
	IPAddress  *string         `json:"ip_address,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (s *Service) Log(ctx context.Context, entry LogEntry) error {
	details, _ := json.Marshal(entry.Details)

	var ip *netip.Addr
	if entry.IPAddress != "" {
		if parsed, err := netip.ParseAddr(entry.IPAddress); err == nil {
			ip = &parsed
		}
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO audit_logs (customer_id, actor_id, action, target_id, details, ip_address)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.CustomerID, entry.ActorID, entry.Action, entry.TargetID, details, ip,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

type Query struct {
	Action    string
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}

// List returns a customer's trail, newest first.
func (s *Service) List(ctx context.Context, customerID uuid.UUID, q Query) ([]Record, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}

	query := `SELECT id, customer_id, actor_id, action, target_id, details, ip_address, created_at
			  FROM audit_logs WHERE customer_id = $1`
	args := []interface{}{customerID}
	argIdx := 2

	if q.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, q.Action)
		argIdx++
	}
	if q.StartDate != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *q.StartDate)
		argIdx++
	}
	if q.EndDate != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *q.EndDate)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.CustomerID, &r.ActorID, &r.Action, &r.TargetID,
			&r.Details, &r.IPAddress, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
