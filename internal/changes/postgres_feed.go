package changes

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// listenConn is a connection that has already issued LISTEN.
type listenConn interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// PostgresFeed listens for NOTIFY messages from the stash_nodes trigger.
// It holds one dedicated connection outside the pool and reconnects with
// backoff when that connection drops. Notifications sent while it was
// disconnected are lost, so every reconnect delivers one KindChanged event.
type PostgresFeed struct {
	logger     *log.Logger
	dial       func(ctx context.Context) (listenConn, error)
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewPostgresFeed(databaseURL string, logger *log.Logger) *PostgresFeed {
	if logger == nil {
		logger = log.Default()
	}
	return &PostgresFeed{
		logger:     logger,
		dial:       dialListener(databaseURL),
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

func dialListener(databaseURL string) func(ctx context.Context) (listenConn, error) {
	return func(ctx context.Context) (listenConn, error) {
		conn, err := pgx.Connect(ctx, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect listener: %w", err)
		}
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{Channel}.Sanitize()); err != nil {
			_ = conn.Close(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("listen %s: %w", Channel, err)
		}
		return conn, nil
	}
}

func (f *PostgresFeed) Run(ctx context.Context, handle Handler) error {
	backoff := f.minBackoff
	listened := false
	for {
		conn, err := f.dial(ctx)
		if err == nil {
			f.logger.Printf("changes: listening on %s", Channel)
			backoff = f.minBackoff
			if listened {
				handle(Event{Kind: KindChanged})
			}
			listened = true
			err = f.receive(ctx, conn, handle)
			_ = conn.Close(context.WithoutCancel(ctx))
		}
		if ctx.Err() != nil {
			return nil
		}
		f.logger.Printf("changes: postgres listener stopped: %v (retry in %s)", err, backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > f.maxBackoff {
			backoff = f.maxBackoff
		}
	}
}

func (f *PostgresFeed) receive(ctx context.Context, conn listenConn, handle Handler) error {
	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		ev, err := decodeEvent(notification.Payload)
		if err != nil {
			f.logger.Printf("changes: %v", err)
			continue
		}
		handle(ev)
	}
}
