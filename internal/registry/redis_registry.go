// Package registry keeps per-tab state the browser protocol does not track:
// whether a tab is hidden or discarded and when it was last accessed.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"tabstash/api/internal/tabs"
)

var ErrTabNotFound = errors.New("tab not found")

// RedisRegistry stores one JSON record per tab plus an index set of IDs.
type RedisRegistry struct {
	client *redis.Client
	prefix string
}

// NewRedisRegistry connects to redisURL and verifies the connection.
func NewRedisRegistry(redisURL string) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisRegistryWithClient(client), nil
}

// NewRedisRegistryWithClient creates a registry from an existing client
func NewRedisRegistryWithClient(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{
		client: client,
		prefix: "tabstash:",
	}
}

func (r *RedisRegistry) key(id string) string {
	return r.prefix + "tab:" + id
}

func (r *RedisRegistry) indexKey() string {
	return r.prefix + "tabs"
}

// Put creates or replaces the records for the given tabs.
func (r *RedisRegistry) Put(ctx context.Context, records ...tabs.Tab) error {
	if len(records) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, tab := range records {
			data, err := json.Marshal(tab)
			if err != nil {
				return fmt.Errorf("marshal tab %s: %w", tab.ID, err)
			}
			pipe.Set(ctx, r.key(tab.ID), data, 0)
			pipe.SAdd(ctx, r.indexKey(), tab.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save tabs: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (tabs.Tab, error) {
	data, err := r.client.Get(ctx, r.key(id)).Result()
	if err == redis.Nil {
		return tabs.Tab{}, ErrTabNotFound
	}
	if err != nil {
		return tabs.Tab{}, fmt.Errorf("lookup tab %s: %w", id, err)
	}
	var tab tabs.Tab
	if err := json.Unmarshal([]byte(data), &tab); err != nil {
		return tabs.Tab{}, fmt.Errorf("unmarshal tab %s: %w", id, err)
	}
	return tab, nil
}

// List returns every record ordered by ID. Index entries whose record has
// disappeared are dropped from the index.
func (r *RedisRegistry) List(ctx context.Context) ([]tabs.Tab, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list tab ids: %w", err)
	}
	if len(ids) == 0 {
		return []tabs.Tab{}, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load tabs: %w", err)
	}

	out := make([]tabs.Tab, 0, len(values))
	var stale []any
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var tab tabs.Tab
		if err := json.Unmarshal([]byte(raw), &tab); err != nil {
			return nil, fmt.Errorf("unmarshal tab %s: %w", ids[i], err)
		}
		out = append(out, tab)
	}
	if len(stale) > 0 {
		if err := r.client.SRem(ctx, r.indexKey(), stale...).Err(); err != nil {
			return nil, fmt.Errorf("prune tab index: %w", err)
		}
	}
	return out, nil
}

// Delete removes records. Unknown IDs are ignored.
func (r *RedisRegistry) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members := make([]any, len(ids))
		keys := make([]string, len(ids))
		for i, id := range ids {
			members[i] = id
			keys[i] = r.key(id)
		}
		pipe.Del(ctx, keys...)
		pipe.SRem(ctx, r.indexKey(), members...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete tabs: %w", err)
	}
	return nil
}

// Update applies fn to the stored record for id and saves the result.
func (r *RedisRegistry) Update(ctx context.Context, id string, fn func(*tabs.Tab)) (tabs.Tab, error) {
	tab, err := r.Get(ctx, id)
	if err != nil {
		return tabs.Tab{}, err
	}
	fn(&tab)
	if err := r.Put(ctx, tab); err != nil {
		return tabs.Tab{}, err
	}
	return tab, nil
}

// Close closes the Redis connection
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

// Ping checks if Redis is reachable
func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Client exposes the underlying connection for components sharing it.
func (r *RedisRegistry) Client() *redis.Client {
	return r.client
}
