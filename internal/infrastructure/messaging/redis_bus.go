package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

// DefaultChannel is the Pub/Sub channel events are fanned out on.
const DefaultChannel = "universe:events"

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// Every instance publishes locally and to Redis; events from other instances
// are replayed into the local bus so realtime pushes reach users connected
// anywhere.
// ══════════════════════════════════════════════════════════════════════════════

// RedisEventBus wraps an InMemoryEventBus with Redis Pub/Sub fan-out.
type RedisEventBus struct {
	client     *redis.Client
	local      *InMemoryEventBus
	channel    string
	instanceID string
	logger     *slog.Logger

	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// RedisEventBusConfig contains configuration for RedisEventBus.
type RedisEventBusConfig struct {
	Client  *redis.Client
	Channel string
	Local   InMemoryEventBusConfig
	Logger  *slog.Logger
}

// NewRedisEventBus subscribes to the channel and starts the receive loop.
func NewRedisEventBus(ctx context.Context, config RedisEventBusConfig) (*RedisEventBus, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Channel == "" {
		config.Channel = DefaultChannel
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Local.Logger == nil {
		config.Local.Logger = config.Logger
	}

	pubsub := config.Client.Subscribe(ctx, config.Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", config.Channel, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	b := &RedisEventBus{
		client:     config.Client,
		local:      NewInMemoryEventBus(config.Local),
		channel:    config.Channel,
		instanceID: uuid.NewString(),
		logger:     config.Logger.With("component", "redis_eventbus"),
		pubsub:     pubsub,
		cancel:     cancel,
	}
	b.wg.Add(1)
	go b.receive(loopCtx)
	return b, nil
}

// Subscribe registers a handler for one event type.
func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.local.Subscribe(eventType, handler)
}

// SubscribeAll registers a handler for every event.
func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.local.SubscribeAll(handler)
}

// Publish delivers locally, then to other instances. A Redis failure only
// loses the remote fan-out.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrEventBusClosed
	}

	data, err := json.Marshal(envelope{
		InstanceID:  b.instanceID,
		EventType:   event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		b.logger.Error("failed to publish to redis", "event_type", event.EventType(), "error", err)
	}

	return b.local.Publish(event)
}

func (b *RedisEventBus) receive(ctx context.Context) {
	defer b.wg.Done()
	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handleMessage(msg.Payload)
		}
	}
}

func (b *RedisEventBus) handleMessage(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.logger.Error("failed to unmarshal event", "error", err)
		return
	}
	if env.InstanceID == b.instanceID {
		return
	}
	if err := b.local.Publish(&remoteEvent{env: env}); err != nil {
		b.logger.Error("failed to dispatch remote event", "event_type", env.EventType, "error", err)
	}
}

// Close stops the receive loop and the local bus.
func (b *RedisEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	err := b.pubsub.Close()
	b.wg.Wait()
	return errors.Join(err, b.local.Close())
}

// envelope is the wire form of an event on the channel.
type envelope struct {
	InstanceID  string                 `json:"instance_id"`
	EventType   shared.EventType       `json:"event_type"`
	AggregateID string                 `json:"aggregate_id"`
	OccurredAt  time.Time              `json:"occurred_at"`
	Payload     map[string]interface{} `json:"payload"`
}

// remoteEvent is an event received from another instance. Handlers that
// need the concrete type read Payload instead; counters skip it.
type remoteEvent struct {
	env envelope
}

func (e *remoteEvent) EventType() shared.EventType     { return e.env.EventType }
func (e *remoteEvent) AggregateID() string             { return e.env.AggregateID }
func (e *remoteEvent) OccurredAt() time.Time           { return e.env.OccurredAt }
func (e *remoteEvent) Payload() map[string]interface{} { return e.env.Payload }
func (e *remoteEvent) Replayed() bool                  { return true }
