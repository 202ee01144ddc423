package distributed

import (
	"context"
	"encoding/json"
	"fmt"

	"voxsfu/internal/core/domain"
	"voxsfu/internal/core/ports"
	"voxsfu/pkg/tracing"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventBus publishes room lifecycle events on a Redis channel and lets
// other nodes subscribe to them.
type EventBus struct {
	client  *redis.Client
	nodeID  string
	channel string
	logger  *zap.SugaredLogger
}

func NewEventBus(client *redis.Client, nodeID, channel string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:  client,
		nodeID:  nodeID,
		channel: channel,
		logger:  logger,
	}
}

// Publish publishes an event to the event bus
func (eb *EventBus) Publish(ctx context.Context, event domain.RoomEvent) error {
	if event.NodeID == "" {
		event.NodeID = eb.nodeID
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, span := tracing.TraceRedisOperation(ctx, "PUBLISH", eb.channel)
	defer span.End()
	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published room event",
		"type", event.Type,
		"room_id", event.RoomID,
		"user_id", event.UserID,
	)
	return nil
}

// Subscribe calls handler for every event published by other nodes until
// ctx is cancelled.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(domain.RoomEvent) error) error {
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event domain.RoomEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal event", "error", err, "payload", msg.Payload)
				continue
			}
			if event.NodeID == eb.nodeID {
				continue
			}
			if err := handler(event); err != nil {
				eb.logger.Warnw("error handling event", "type", event.Type, "error", err)
			}
		}
	}
}

// NoopPublisher drops events; used when Redis is disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, domain.RoomEvent) error { return nil }

// Publishers fans an event out to several publishers and returns the
// first error.
type Publishers []ports.RoomEventPublisher

func (ps Publishers) Publish(ctx context.Context, event domain.RoomEvent) error {
	var first error
	for _, p := range ps {
		if err := p.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var (
	_ ports.RoomEventPublisher = (*EventBus)(nil)
	_ ports.RoomEventPublisher = NoopPublisher{}
	_ ports.RoomEventPublisher = Publishers(nil)
)
