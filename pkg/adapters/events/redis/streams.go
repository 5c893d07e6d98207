package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/urbanmesh/urbanflow/internal/domain"
	"github.com/urbanmesh/urbanflow/internal/ports"
)

// StreamsEventBus implements EventBus using Redis Streams with a consumer
// group per deployment, so multiple orchestrator instances share a topic
// without double-delivery.
type StreamsEventBus struct {
	client        *redis.Client
	logger        *zap.Logger
	consumerGroup string
	consumerName  string
}

// NewStreamsEventBus creates a Redis Streams event bus.
func NewStreamsEventBus(client *redis.Client, consumerGroup, consumerName string, logger *zap.Logger) *StreamsEventBus {
	return &StreamsEventBus{
		client:        client,
		logger:        logger,
		consumerGroup: consumerGroup,
		consumerName:  consumerName,
	}
}

// Publish appends an event to the topic stream.
func (e *StreamsEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: streamKey(topic),
		Values: map[string]interface{}{"data": string(data)},
	}
	if _, err := e.client.XAdd(ctx, args).Result(); err != nil {
		return &domain.TransientIOError{Op: "xadd", Err: err}
	}

	e.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("topic", topic))
	return nil
}

// Subscribe starts a background reader for the topic. It returns after
// the consumer group is set up; delivery continues until ctx is done.
func (e *StreamsEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	stream := streamKey(topic)

	err := e.client.XGroupCreateMkStream(ctx, stream, e.consumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	e.logger.Info("subscribed to event stream",
		zap.String("topic", topic),
		zap.String("consumer_group", e.consumerGroup),
		zap.String("consumer", e.consumerName))

	go e.readStream(ctx, stream, handler)
	return nil
}

func (e *StreamsEventBus) readStream(ctx context.Context, stream string, handler ports.EventHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := e.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    e.consumerGroup,
			Consumer: e.consumerName,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			e.logger.Error("failed to read from stream",
				zap.String("stream", stream),
				zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, s := range streams {
			for _, message := range s.Messages {
				e.processMessage(ctx, stream, message, handler)
			}
		}
	}
}

func (e *StreamsEventBus) processMessage(ctx context.Context, stream string, message redis.XMessage, handler ports.EventHandler) {
	data, ok := message.Values["data"].(string)
	if !ok {
		e.logger.Error("invalid message format",
			zap.String("stream", stream),
			zap.String("message_id", message.ID))
		return
	}

	var event domain.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		e.logger.Error("failed to unmarshal event",
			zap.String("stream", stream),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	if err := handler(ctx, event); err != nil {
		e.logger.Error("handler error",
			zap.String("stream", stream),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	if err := e.client.XAck(ctx, stream, e.consumerGroup, message.ID).Err(); err != nil {
		e.logger.Error("failed to acknowledge message",
			zap.String("stream", stream),
			zap.String("message_id", message.ID),
			zap.Error(err))
	}
}

// Close implements EventBus. The Redis client is owned by the caller.
func (e *StreamsEventBus) Close() error {
	return nil
}

func streamKey(topic string) string {
	return fmt.Sprintf("urbanflow:events:%s", topic)
}
