package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
)

const defaultStreamMaxLen = 10000

type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStreamPublisher appends events to a Redis stream trimmed to roughly
// MaxLen entries.
type RedisStreamPublisher struct {
	client streamAdder
	closer func() error
	stream string
	maxLen int64
}

// NewRedisStreamPublisher publishes through client. Closing the publisher
// closes the client only when ownClient is set.
func NewRedisStreamPublisher(client redis.UniversalClient, stream string, maxLen int64, ownClient bool) (*RedisStreamPublisher, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	stream = strings.TrimSpace(stream)
	if stream == "" {
		return nil, errors.New("redis stream is required")
	}
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	p := &RedisStreamPublisher{client: client, stream: stream, maxLen: maxLen}
	if ownClient {
		p.closer = client.Close
	}
	return p, nil
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := encode(event)
	if err != nil {
		return err
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":    string(event.Type),
			"payload": string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

func (p *RedisStreamPublisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
