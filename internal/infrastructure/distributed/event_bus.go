package distributed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sidescreen/internal/core/domain"
	"sidescreen/internal/core/ports"
	"sidescreen/pkg/circuitbreaker"
)

const DefaultChannel = "sidescreen:events"

// Event is a lifecycle event as mirrored on the bus.
type Event struct {
	InstanceID string `json:"instance_id"`
	domain.LifecycleEvent
}

// EventBus mirrors lifecycle events to redis pub/sub so dashboards or other
// hosts can follow sessions. Publishing goes through a circuit breaker so a
// dead redis costs one fast failure per event instead of a dial.
type EventBus struct {
	client     redis.UniversalClient
	channel    string
	instanceID string
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.SugaredLogger
}

func NewEventBus(client redis.UniversalClient, channel, instanceID string, logger *zap.SugaredLogger) *EventBus {
	if channel == "" {
		channel = DefaultChannel
	}
	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold:    3,
		SuccessThreshold:    1,
		Timeout:             10 * time.Second,
		MaxRequestsHalfOpen: 1,
	})
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("event bus circuit changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return &EventBus{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		breaker:    breaker,
		logger:     logger,
	}
}

// Publish publishes an event to the event bus
func (eb *EventBus) Publish(ctx context.Context, event domain.LifecycleEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	data, err := sonic.Marshal(&Event{InstanceID: eb.instanceID, LifecycleEvent: event})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = eb.breaker.Execute(ctx, func() error {
		return eb.client.Publish(ctx, eb.channel, data).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"session_id", event.SessionID,
		"device_id", event.DeviceID,
	)
	return nil
}

// Forward publishes every event from source until ctx is done or the
// subscription closes.
func (eb *EventBus) Forward(ctx context.Context, source ports.LifecycleSubscriber) error {
	events, unsubscribe := source.Subscribe(256)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := eb.Publish(pubCtx, event)
			cancel()
			if err != nil && !errors.Is(err, circuitbreaker.ErrOpen) {
				eb.logger.Warnw("failed to mirror lifecycle event",
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}

// Subscribe calls handler for each event published by other instances.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
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
			var event Event
			if err := sonic.UnmarshalString(msg.Payload, &event); err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			if event.InstanceID == eb.instanceID {
				continue
			}

			if err := handler(&event); err != nil {
				eb.logger.Warnw("error handling event",
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}

// BreakerState reports whether publishing is currently short-circuited.
func (eb *EventBus) BreakerState() circuitbreaker.State {
	return eb.breaker.State()
}
