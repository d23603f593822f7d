package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vriksha-code/verisure/internal/shared/telemetry"
)

// DefaultChannel is the pub/sub channel shared by the API and the worker.
const DefaultChannel = "verisure:notifications"

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher publishes notifications so that other processes can relay
// them to their connected clients.
type RedisPublisher struct {
	client  publisher
	channel string
}

// NewRedisPublisher wraps a redis client.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return newRedisPublisher(client, channel)
}

func newRedisPublisher(client publisher, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Notify publishes n as JSON; failures are logged and dropped.
func (p *RedisPublisher) Notify(ctx context.Context, n Notification) {
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	payload, err := json.Marshal(n)
	if err != nil {
		telemetry.Error("notify.encode_failed", map[string]any{"err": err})
		return
	}
	if err := p.client.Publish(context.WithoutCancel(ctx), p.channel, payload).Err(); err != nil {
		telemetry.Warn("notify.publish_failed", map[string]any{
			"channel":       p.channel,
			"submission_id": n.SubmissionID,
			"err":           err,
		})
	}
}

// Relay forwards notifications from channel into local until ctx ends.
func Relay(ctx context.Context, client *redis.Client, channel string, local Notifier) error {
	if channel == "" {
		channel = DefaultChannel
	}
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	telemetry.Info("notify.relay.start", map[string]any{"channel": channel})

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			n, err := decode(msg.Payload)
			if err != nil {
				telemetry.Warn("notify.relay.decode_failed", map[string]any{"err": err})
				continue
			}
			local.Notify(ctx, n)
		}
	}
}

func decode(payload string) (Notification, error) {
	var n Notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return Notification{}, err
	}
	if n.OwnerID == "" {
		return Notification{}, fmt.Errorf("notification without owner")
	}
	return n, nil
}

// NewRedisClient connects and pings, closing the client if the ping fails.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
