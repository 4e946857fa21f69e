package changes

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// RedisFeed relays events over redis pub/sub so several daemons can share
// one postgres listener.
type RedisFeed struct {
	client *redis.Client
	logger *log.Logger
}

func NewRedisFeed(client *redis.Client, logger *log.Logger) *RedisFeed {
	if logger == nil {
		logger = log.Default()
	}
	return &RedisFeed{client: client, logger: logger}
}

func (f *RedisFeed) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := f.client.Publish(ctx, Channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Relay returns a handler that forwards events to redis and then to next.
// Publish failures are logged and do not stop delivery to next.
func (f *RedisFeed) Relay(ctx context.Context, next Handler) Handler {
	return func(ev Event) {
		if err := f.Publish(ctx, ev); err != nil {
			f.logger.Printf("changes: relay %s: %v", ev.Kind, err)
		}
		if next != nil {
			next(ev)
		}
	}
}

func (f *RedisFeed) Run(ctx context.Context, handle Handler) error {
	sub := f.client.Subscribe(ctx, Channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", Channel, err)
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("subscription %s closed", Channel)
			}
			ev, err := decodeEvent(msg.Payload)
			if err != nil {
				f.logger.Printf("changes: %v", err)
				continue
			}
			handle(ev)
		}
	}
}
