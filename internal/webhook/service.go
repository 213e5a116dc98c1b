package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Events a webhook may subscribe to; they match the change-event tables.
const (
	EventJobUpdate      = "jobs_result"
	EventUploadUpdate   = "uploads"
	EventAdvancedUpdate = "advanced_analysis_result"
)

type Webhook struct {
	ID         uuid.UUID `json:"id"`
	CustomerID uuid.UUID `json:"customer_id"`
	URL        string    `json:"url"`
	Events     []string  `json:"events"`
	Secret     string    `json:"secret,omitempty"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

type Service struct {
	db         *pgxpool.Pool
	dispatcher *Dispatcher
}

func NewService(db *pgxpool.Pool, dispatcher *Dispatcher) *Service {
	return &Service{db: db, dispatcher: dispatcher}
}

type CreateRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

// Create registers an endpoint for a customer. The signing secret is
// returned once, on creation only.
func (s *Service) Create(ctx context.Context, customerID uuid.UUID, req CreateRequest) (*Webhook, error) {
	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	eventsJSON, _ := json.Marshal(req.Events)

	var wh Webhook
	err = s.db.QueryRow(ctx,
		`INSERT INTO webhooks (customer_id, url, events, secret, is_active)
		 VALUES ($1, $2, $3, $4, true)
		 RETURNING id, customer_id, url, events, is_active, created_at`,
		customerID, req.URL, eventsJSON, secret,
	).Scan(&wh.ID, &wh.CustomerID, &wh.URL, &wh.Events, &wh.IsActive, &wh.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert webhook: %w", err)
	}

	wh.Secret = secret
	return &wh, nil
}

func (s *Service) List(ctx context.Context, customerID uuid.UUID) ([]Webhook, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, customer_id, url, events, is_active, created_at
		 FROM webhooks WHERE customer_id = $1 ORDER BY created_at DESC`,
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []Webhook
	for rows.Next() {
		var wh Webhook
		if err := rows.Scan(&wh.ID, &wh.CustomerID, &wh.URL, &wh.Events, &wh.IsActive, &wh.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		webhooks = append(webhooks, wh)
	}
	return webhooks, rows.Err()
}

func (s *Service) Delete(ctx context.Context, customerID, id uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		"DELETE FROM webhooks WHERE id = $1 AND customer_id = $2", id, customerID)
	return err
}

// Dispatch fans an event out to the customer's matching active
// endpoints. Delivery is asynchronous.
func (s *Service) Dispatch(ctx context.Context, customerID uuid.UUID, event string, payload []byte) error {
	rows, err := s.db.Query(ctx,
		`SELECT id, url, secret FROM webhooks
		 WHERE customer_id = $1 AND is_active = true AND events @> $2::jsonb`,
		customerID, fmt.Sprintf(`[%q]`, event),
	)
	if err != nil {
		return fmt.Errorf("find matching webhooks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id          uuid.UUID
			url, secret string
		)
		if err := rows.Scan(&id, &url, &secret); err != nil {
			continue
		}
		s.dispatcher.Enqueue(DeliveryRequest{
			WebhookID: id,
			URL:       url,
			Secret:    secret,
			Event:     event,
			Payload:   payload,
		})
	}
	return rows.Err()
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(b), nil
}
