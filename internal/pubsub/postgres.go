package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotifyPayloadLimit is the largest payload PostgreSQL accepts for NOTIFY.
// Larger messages are sent as several framed notifications.
const NotifyPayloadLimit = 7999

var listenRetryDelay = 2 * time.Second

// Postgres is a broker backed by LISTEN/NOTIFY. Each subscription holds one
// dedicated connection taken out of the pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps pool. The broker owns the pool and closes it on Close.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Publish issues pg_notify on topic. A message split into frames is sent in
// one transaction, so listeners receive its frames together and in order.
func (p *Postgres) Publish(ctx context.Context, topic string, msg []byte) error {
	frames, err := encodeFrames(msg, NotifyPayloadLimit)
	if err != nil {
		return err
	}
	if len(frames) == 1 {
		if _, err := p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", topic, frames[0]); err != nil {
			return fmt.Errorf("pg_notify %s: %w", topic, err)
		}
		return nil
	}
	err = pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		for _, frame := range frames {
			if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", topic, frame); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("pg_notify %s (%d frames): %w", topic, len(frames), err)
	}
	return nil
}

// Subscribe LISTENs on topic. If the connection drops, it reconnects until
// ctx is done; notifications sent while disconnected are lost.
func (p *Postgres) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	conn, err := p.listen(ctx, topic)
	if err != nil {
		return nil, err
	}
	out := make(chan []byte, subscriberBuffer)
	go p.receive(ctx, topic, conn, out)
	return out, nil
}

func (p *Postgres) listen(ctx context.Context, topic string) (*pgx.Conn, error) {
	c, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection for LISTEN: %w", err)
	}
	conn := c.Hijack()
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{topic}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("LISTEN %s: %w", topic, err)
	}
	return conn, nil
}

func (p *Postgres) receive(ctx context.Context, topic string, conn *pgx.Conn, out chan<- []byte) {
	defer close(out)
	defer func() {
		if conn != nil {
			_ = conn.Close(context.Background())
		}
	}()

	frames := newAssembler()

	slog.Info("Listening for notifications", "channel", topic)
	for {
		if conn == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(listenRetryDelay):
			}
			c, err := p.listen(ctx, topic)
			if err != nil {
				slog.Error("LISTEN failed", "channel", topic, "error", err)
				continue
			}
			conn = c
			slog.Info("Listening for notifications", "channel", topic)
		}

		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			_ = conn.Close(context.Background())
			conn = nil
			if ctx.Err() != nil {
				return
			}
			slog.Error("wait for notification failed", "channel", topic, "error", err)
			continue
		}
		if n.Channel != topic {
			continue
		}
		msg, complete, err := frames.add(n.Payload, time.Now())
		if err != nil {
			slog.Warn("dropping malformed notification", "channel", topic, "error", err)
			continue
		}
		if !complete {
			continue
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// Close closes the underlying pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
