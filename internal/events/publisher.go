// Package events delivers order domain events to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/order"
)

const defaultMaxLen = 100000

// StreamClient is the part of *redis.Client the publisher needs.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

type redisPublisher struct {
	client StreamClient
	stream string
	maxLen int64
	now    func() time.Time
}

// NewRedisPublisher appends every event to a Redis stream. Entries carry the
// event name, the aggregate id, the JSON payload and, when the publishing
// context is traced, the trace id.
func NewRedisPublisher(client StreamClient, stream string) order.EventPublisher {
	return &redisPublisher{client: client, stream: stream, maxLen: defaultMaxLen, now: time.Now}
}

func (p *redisPublisher) Publish(ctx context.Context, evs ...order.Event) error {
	var errs []error
	for _, ev := range evs {
		values, err := p.encode(ctx, ev)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		id, err := p.client.XAdd(ctx, &redis.XAddArgs{
			Stream: p.stream,
			MaxLen: p.maxLen,
			Approx: true,
			Values: values,
		}).Result()
		if err != nil {
			errs = append(errs, fmt.Errorf("events: failed to append %s for %s: %w", ev.EventName(), ev.AggregateID(), err))
			continue
		}
		log.Debug().Ctx(ctx).Str("event", ev.EventName()).Stringer("aggregate_id", ev.AggregateID()).
			Str("stream_id", id).Msg("events: published")
	}
	return errors.Join(errs...)
}

func (p *redisPublisher) encode(ctx context.Context, ev order.Event) (map[string]any, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("events: failed to encode %s: %w", ev.EventName(), err)
	}
	values := map[string]any{
		"event":        ev.EventName(),
		"aggregate_id": ev.AggregateID().String(),
		"occurred_at":  p.now().UTC().Format(time.RFC3339Nano),
		"payload":      string(payload),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		values["trace_id"] = sc.TraceID().String()
	}
	return values, nil
}

type logPublisher struct{}

// NewLogPublisher writes events to the service log. It stands in for the
// stream when no Redis address is configured.
func NewLogPublisher() order.EventPublisher {
	return logPublisher{}
}

func (logPublisher) Publish(ctx context.Context, evs ...order.Event) error {
	for _, ev := range evs {
		log.Info().Ctx(ctx).Str("event", ev.EventName()).Stringer("aggregate_id", ev.AggregateID()).
			Interface("payload", ev).Msg("events: domain event")
	}
	return nil
}
