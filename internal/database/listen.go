package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Notification is a payload delivered on a LISTEN channel.
type Notification struct {
	Channel string
	Payload string
}

// Listener holds a dedicated connection subscribed to one Postgres
// notification channel. Pool connections cannot be used for LISTEN since
// the pool recycles them between queries.
type Listener struct {
	url     string
	channel string
	conn    *pgx.Conn
}

func NewListener(url, channel string) *Listener {
	return &Listener{url: url, channel: channel}
}

func (l *Listener) connect(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.url)
	if err != nil {
		return fmt.Errorf("connect listener: %w", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("LISTEN %s", pgx.Identifier{l.channel}.Sanitize())); err != nil {
		conn.Close(ctx)
		return fmt.Errorf("listen on %s: %w", l.channel, err)
	}
	l.conn = conn
	return nil
}

// Run delivers notifications to fn until ctx is cancelled. A dropped
// connection is re-established after a fixed delay; notifications sent
// while disconnected are lost, so callers pair Run with periodic polling.
func (l *Listener) Run(ctx context.Context, reconnectDelay time.Duration, fn func(Notification)) error {
	retry := backoff.WithContext(backoff.NewConstantBackOff(reconnectDelay), ctx)

	for {
		err := backoff.Retry(func() error {
			if err := l.connect(ctx); err != nil {
				slog.Error("listener connect failed, retrying", "channel", l.channel, "error", err)
				return err
			}
			return nil
		}, retry)
		if err != nil {
			return err
		}

		slog.Info("listening for notifications", "channel", l.channel)

		for {
			n, err := l.conn.WaitForNotification(ctx)
			if err != nil {
				l.conn.Close(context.Background())
				l.conn = nil
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Error("listener connection lost", "channel", l.channel, "error", err)
				break
			}
			fn(Notification{Channel: n.Channel, Payload: n.Payload})
		}
	}
}

func (l *Listener) Close(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	return l.conn.Close(ctx)
}

// Notify fires a notification on a channel. The API uses this to nudge
// processors immediately instead of waiting on the insert triggers alone.
func Notify(ctx context.Context, pool *pgxpool.Pool, channel, payload string) error {
	_, err := pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload)
	if err != nil {
		return fmt.Errorf("notify %s: %w", channel, err)
	}
	return nil
}
