// Package events publishes completed exchanges to a Redis stream so other
// processes can follow the conversation.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultStream is the stream key used when none is configured.
const DefaultStream = "ramify:exchanges"

// Read retry delays after a failed XREAD.
const (
	minReadBackoff = 100 * time.Millisecond
	maxReadBackoff = 5 * time.Second
)

// Exchange is one completed request/reply pair.
type Exchange struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Persona   string    `json:"persona"`
	Input     string    `json:"input"`
	Reply     string    `json:"reply"`
	Reminder  bool      `json:"reminder,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher records exchanges. The assistant depends on this, not on Redis.
type Publisher interface {
	Publish(ctx context.Context, ex *Exchange) error
}

// Bus is a Redis Streams backed Publisher.
type Bus struct {
	rdb    *redis.Client
	stream string
	logger *zap.Logger
}

// NewBus connects to redisURL and verifies the connection.
func NewBus(ctx context.Context, redisURL, stream string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if stream == "" {
		stream = DefaultStream
	}
	return &Bus{rdb: rdb, stream: stream, logger: logger}, nil
}

// Publish appends ex to the stream.
func (b *Bus) Publish(ctx context.Context, ex *Exchange) error {
	data, err := json.Marshal(ex)
	if err != nil {
		return err
	}

	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		Values: map[string]interface{}{
			"persona": ex.Persona,
			"data":    string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", b.stream, err)
	}

	b.logger.Debug("published exchange",
		zap.String("session", ex.SessionID),
		zap.String("persona", ex.Persona))
	return nil
}

// Subscribe follows the stream starting after from ("$" for new entries
// only, "0" for the whole stream). The channel closes when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, from string) <-chan *Exchange {
	ch := make(chan *Exchange, 16)
	if from == "" {
		from = "$"
	}

	go func() {
		defer close(ch)
		lastID := from
		backoff := minReadBackoff

		for {
			if ctx.Err() != nil {
				return
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{b.stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if errors.Is(err, redis.Nil) {
					continue
				}
				b.logger.Warn("read exchange stream",
					zap.Duration("retry_in", backoff), zap.Error(err))
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return
				}
				backoff = min(backoff*2, maxReadBackoff)
				continue
			}
			backoff = minReadBackoff

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ex Exchange
					if json.Unmarshal([]byte(data), &ex) != nil {
						continue
					}
					select {
					case ch <- &ex:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}
