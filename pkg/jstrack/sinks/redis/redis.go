// Package redis provides a sink that pushes batches onto a Redis list as JSON.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/strongdm/jstrack/pkg/jstrack"
)

// Client is the minimal interface for Redis list operations.
// *goredis.Client satisfies this interface.
type Client interface {
	RPush(ctx context.Context, key string, values ...any) *goredis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *goredis.StatusCmd
	Close() error
}

// RedisSinkOption configures the Redis sink.
type RedisSinkOption func(*redisSinkConfig)

type redisSinkConfig struct {
	key        string
	maxBatches int64
}

// WithKey sets the list key batches are pushed to (default: "jstrack:batches").
func WithKey(key string) RedisSinkOption {
	return func(c *redisSinkConfig) {
		if key != "" {
			c.key = key
		}
	}
}

// WithMaxBatches trims the list to the newest n batches after every push.
// Zero, the default, keeps every batch.
func WithMaxBatches(n int64) RedisSinkOption {
	return func(c *redisSinkConfig) {
		if n >= 0 {
			c.maxBatches = n
		}
	}
}

// batchEnvelope is the JSON document stored per batch.
type batchEnvelope struct {
	SentAt  time.Time             `json:"sent_at"`
	Records []jstrack.ErrorRecord `json:"records"`
}

// redisSink writes batches to a Redis list.
type redisSink struct {
	client     Client
	key        string
	maxBatches int64
}

// NewRedisSink creates a sink that pushes each batch onto a Redis list.
func NewRedisSink(client Client, opts ...RedisSinkOption) jstrack.Sink {
	cfg := &redisSinkConfig{
		key: "jstrack:batches",
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &redisSink{
		client:     client,
		key:        cfg.key,
		maxBatches: cfg.maxBatches,
	}
}

// NewClient creates a Redis client and checks the connection.
func NewClient(addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// Write pushes the batch as one JSON list element.
func (s *redisSink) Write(ctx context.Context, records []jstrack.ErrorRecord) error {
	if len(records) == 0 {
		return nil
	}

	payload, err := json.Marshal(batchEnvelope{SentAt: time.Now().UTC(), Records: records})
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	if err := s.client.RPush(ctx, s.key, payload).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", s.key, err)
	}

	if s.maxBatches > 0 {
		if err := s.client.LTrim(ctx, s.key, -s.maxBatches, -1).Err(); err != nil {
			return fmt.Errorf("ltrim %s: %w", s.key, err)
		}
	}
	return nil
}

// Flush is a no-op for the Redis sink (writes are synchronous).
func (s *redisSink) Flush(ctx context.Context) error {
	return nil
}

// Close closes the Redis client.
func (s *redisSink) Close() error {
	return s.client.Close()
}
