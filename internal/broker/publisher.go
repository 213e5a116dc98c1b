package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/curibio/cloud-core/internal/webhook"
)

// EventsChannel is the notification channel the database triggers fire
// on INSERT/UPDATE of watched tables. DELETEs are not broadcast.
const EventsChannel = "events"

// eventPayload is the trigger payload shape. Row fields beyond these
// pass through untouched into the outgoing data_update event.
type eventPayload struct {
	Table      string          `json:"table"`
	Recipients []uuid.UUID     `json:"recipients"`
	CustomerID uuid.UUID       `json:"customer_id"`
	Usage      json.RawMessage `json:"usage"`
	rest       map[string]json.RawMessage
}

// Publisher turns database change notifications into fan-out messages:
// a data_update and usage_update to each precomputed recipient, plus an
// optional webhook delivery per customer.
type Publisher struct {
	db    *pgxpool.Pool
	hub   *Hub
	hooks *webhook.Service
}

func NewPublisher(db *pgxpool.Pool, hub *Hub) *Publisher {
	return &Publisher{db: db, hub: hub}
}

// NotifyWebhooks additionally posts each data_update to the customer's
// registered endpoints.
func (p *Publisher) NotifyWebhooks(hooks *webhook.Service) {
	p.hooks = hooks
}

// Handle routes one raw notification payload. Errors affect only this
// payload; the listener keeps running.
func (p *Publisher) Handle(ctx context.Context, raw string) {
	if err := p.handle(ctx, raw); err != nil {
		slog.Error("event payload not delivered", "error", err)
	}
}

func (p *Publisher) handle(ctx context.Context, raw string) error {
	payload, err := parsePayload(raw)
	if err != nil {
		return err
	}

	switch payload.Table {
	case "jobs_result":
		payload.rename("type", "product")
		payload.rename("job_id", "id")
		payload.set("usage_type", "jobs")
		// meta is stripped from trigger payloads to keep them small;
		// re-attach it for the event consumers
		if err := p.attachMeta(ctx, payload,
			`SELECT meta FROM jobs_result WHERE job_id = $1`); err != nil {
			return err
		}
	case "uploads":
		payload.rename("type", "product")
		payload.set("usage_type", "uploads")
	case "advanced_analysis_result":
		payload.set("product", "advanced_analysis")
		payload.set("usage_type", "advanced_analysis")
		if err := p.attachMeta(ctx, payload,
			`SELECT meta FROM advanced_analysis_result WHERE id = $1`); err != nil {
			return err
		}
	default:
		return fmt.Errorf("notifications for table %q not supported", payload.Table)
	}

	data, err := payload.marshal()
	if err != nil {
		return err
	}
	usage, err := json.Marshal(map[string]json.RawMessage{
		"usage_type": payload.rest["usage_type"],
		"product":    payload.rest["product"],
		"usage":      payload.Usage,
	})
	if err != nil {
		return fmt.Errorf("marshal usage update: %w", err)
	}

	// the trigger precomputes who may see this row; accounts outside
	// the recipient set hear nothing at all
	dataUpdate := Message{Event: "data_update", Data: string(data)}
	usageUpdate := Message{Event: "usage_update", Data: string(usage)}
	for _, recipient := range payload.Recipients {
		p.hub.Send(recipient, dataUpdate)
		p.hub.Send(recipient, usageUpdate)
	}

	if p.hooks != nil {
		if err := p.hooks.Dispatch(ctx, payload.CustomerID, payload.Table, data); err != nil {
			slog.Warn("webhook dispatch failed", "table", payload.Table, "error", err)
		}
	}
	return nil
}

func (p *Publisher) attachMeta(ctx context.Context, payload *eventPayload, query string) error {
	var id uuid.UUID
	if err := json.Unmarshal(payload.rest["id"], &id); err != nil {
		return fmt.Errorf("payload id: %w", err)
	}
	var meta json.RawMessage
	if err := p.db.QueryRow(ctx, query, id).Scan(&meta); err != nil {
		return fmt.Errorf("fetch meta for event: %w", err)
	}
	payload.rest["meta"] = meta
	return nil
}

func parsePayload(raw string) (*eventPayload, error) {
	var payload eventPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("parse event payload: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &payload.rest); err != nil {
		return nil, fmt.Errorf("parse event payload: %w", err)
	}
	delete(payload.rest, "table")
	delete(payload.rest, "recipients")
	return &payload, nil
}

func (e *eventPayload) rename(from, to string) {
	if v, ok := e.rest[from]; ok {
		e.rest[to] = v
		delete(e.rest, from)
	}
}

func (e *eventPayload) set(key, value string) {
	b, _ := json.Marshal(value)
	e.rest[key] = b
}

func (e *eventPayload) marshal() ([]byte, error) {
	b, err := json.Marshal(e.rest)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return b, nil
}
