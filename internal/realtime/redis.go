package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/promptquest/internal/battle"
)

const channelPrefix = "promptquest:battle:"

// ChannelName is the Redis channel for one battle.
func ChannelName(battleID uuid.UUID) string {
	return channelPrefix + battleID.String()
}

// RedisRelay publishes events to Redis so every server process sees them, and
// relays what it receives into the local hub.
type RedisRelay struct {
	client *redis.Client
	hub    *Hub
	logger logrus.FieldLogger
}

func NewRedisRelay(client *redis.Client, hub *Hub, logger logrus.FieldLogger) *RedisRelay {
	return &RedisRelay{client: client, hub: hub, logger: logger}
}

// Publish sends ev to the battle's channel. Local subscribers receive it through Run.
func (r *RedisRelay) Publish(ctx context.Context, ev battle.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal battle event: %w", err)
	}
	if err := r.client.Publish(ctx, ChannelName(ev.BattleID()), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// Run subscribes to every battle channel and forwards messages to the hub until
// ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to battle channels: %w", err)
	}
	r.logger.Info("redis relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.relay(ctx, msg)
		}
	}
}

func (r *RedisRelay) relay(ctx context.Context, msg *redis.Message) {
	var ev battle.Event
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		r.logger.WithError(err).WithField("channel", msg.Channel).Warn("dropping malformed relay message")
		return
	}
	if ev.Battle == nil || !strings.HasSuffix(msg.Channel, ev.Battle.ID.String()) {
		r.logger.WithField("channel", msg.Channel).Warn("dropping relay message for mismatched battle")
		return
	}
	_ = r.hub.Publish(ctx, ev)
}

// Ping checks the Redis connection.
func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
