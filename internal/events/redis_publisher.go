// internal/events/redis_publisher.go
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"ticket-service/internal/model"
)

// RedisPublisher appends redemption events to a Redis stream
type RedisPublisher struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

// NewRedisPublisher creates a stream publisher. maxLen of zero keeps the stream unbounded.
func NewRedisPublisher(client redis.Cmdable, stream string, maxLen int64) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

// Name implements Sink
func (p *RedisPublisher) Name() string {
	return "redis"
}

// Send implements Sink
func (p *RedisPublisher) Send(ctx context.Context, event *model.RedemptionEvent) error {
	args, err := p.xaddArgs(event)
	if err != nil {
		return err
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to add event to stream %s: %w", p.stream, err)
	}
	return nil
}

func (p *RedisPublisher) xaddArgs(event *model.RedemptionEvent) (*redis.XAddArgs, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}

	return &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: p.maxLen > 0,
		Values: []interface{}{
			"event_id", event.ID.String(),
			"scan_id", event.ScanID.String(),
			"outcome", string(event.Outcome),
			"source", string(event.Source),
			"payload", string(payload),
		},
	}, nil
}
