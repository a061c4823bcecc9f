package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinic-booking/pkg/logging"
)

type envelope struct {
	RecipientID uuid.UUID `json:"recipient_id"`
	Event       Event     `json:"event"`
}

// RedisPublisher fans push events out over a Redis pub/sub channel so every
// API instance can reach the sockets it holds.
type RedisPublisher struct {
	redis   *redis.Client
	channel string
	tracer  trace.Tracer
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if client == nil {
		return nil
	}
	return &RedisPublisher{
		redis:   client,
		channel: channel,
		tracer:  otel.Tracer("clinic.internal.notify.redis"),
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, recipientID uuid.UUID, event Event) error {
	if p == nil || p.redis == nil {
		return nil
	}
	data, err := json.Marshal(envelope{RecipientID: recipientID, Event: event})
	if err != nil {
		return fmt.Errorf("notify: marshal envelope: %w", err)
	}
	ctx, span := p.tracer.Start(ctx, "notify.redis.publish")
	defer span.End()
	if err := p.redis.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("notify: redis publish: %w", err)
	}
	return nil
}

// RedisRelay forwards events from the channel to a local dispatcher,
// normally the process's Hub.
type RedisRelay struct {
	redis   *redis.Client
	channel string
	local   Dispatcher
	logger  *logging.Logger
}

func NewRedisRelay(client *redis.Client, channel string, local Dispatcher, logger *logging.Logger) *RedisRelay {
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisRelay{redis: client, channel: channel, local: local, logger: logger}
}

// Start subscribes and relays in the background until ctx is cancelled.
// It returns once the subscription is confirmed.
func (r *RedisRelay) Start(ctx context.Context) error {
	if r.redis == nil || r.local == nil {
		return errors.New("notify: relay requires redis client and local dispatcher")
	}
	sub := r.redis.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("notify: subscribe %s: %w", r.channel, err)
	}

	go func() {
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				r.relay(ctx, msg.Payload)
			}
		}
	}()
	r.logger.Info("notify: redis relay started", "channel", r.channel)
	return nil
}

func (r *RedisRelay) relay(ctx context.Context, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warn("notify: bad relay payload", "error", err)
		return
	}
	if err := r.local.Publish(ctx, env.RecipientID, env.Event); err != nil {
		r.logger.Warn("notify: relay publish failed", "error", err, "recipient_id", env.RecipientID)
	}
}
