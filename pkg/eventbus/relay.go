package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/tableorder/pkg/repository"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Relay publishes room events through a Redis channel and feeds every
// event seen on that channel into the local hub, so members attached
// to any server instance receive it. Local members only receive events
// once the relay has been started.
type Relay struct {
	redis   *repository.RedisRepository
	hub     *Hub
	channel string
	logger  *zap.Logger
}

func NewRelay(redisRepo *repository.RedisRepository, hub *Hub, channel string, logger *zap.Logger) *Relay {
	return &Relay{
		redis:   redisRepo,
		hub:     hub,
		channel: channel,
		logger:  logger,
	}
}

func (r *Relay) Publish(ctx context.Context, room Room, event Event, payload any) error {
	msg, err := newMessage(room, event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode relay message: %w", err)
	}
	if err := r.redis.Publish(ctx, r.channel, data); err != nil {
		return fmt.Errorf("failed to relay %s to %s: %w", event, room, err)
	}
	return nil
}

// Start subscribes to the relay channel and returns once Redis has
// confirmed the subscription. Messages are consumed until ctx is done.
func (r *Relay) Start(ctx context.Context) error {
	sub := r.redis.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}

	go r.consume(ctx, sub)
	return nil
}

func (r *Relay) consume(ctx context.Context, sub *redis.PubSub) {
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				r.logger.Warn("relay subscription closed", zap.String("channel", r.channel))
				return
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				r.logger.Warn("dropping malformed relay message", zap.Error(err))
				continue
			}
			if !msg.Event.Valid() {
				r.logger.Warn("dropping relay message with unknown event", zap.String("event", string(msg.Event)))
				continue
			}
			r.hub.deliver(msg)
		}
	}
}
