package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"support-inbox-backend/internal/session"

	"github.com/go-redis/redis/v8"
)

// Bus is the publish/subscribe contract between server instances. Every
// process subscribes to its own instance channel; publishes target the
// instance named in a locator.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Gateway is the local connection table exposed by the websocket layer. Push
// returns false when the connection is already gone; the race between
// disconnect and publish is acceptable because message content is durable
// before any push is attempted.
type Gateway interface {
	PushToConnection(connectionID string, payload []byte) bool
}

// Envelope is the wire format on an instance channel.
type Envelope struct {
	ConnectionID string          `json:"connectionId"`
	Payload      json.RawMessage `json:"payload"`
}

func InstanceChannel(instanceID string) string {
	return "delivery:" + instanceID
}

type Router struct {
	bus     Bus
	timeout time.Duration
}

func NewRouter(bus Bus, timeout time.Duration) *Router {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Router{bus: bus, timeout: timeout}
}

// Deliver publishes the payload toward the exact connection a locator names,
// which may live on a different process instance than the caller. The publish
// is time-bounded; the caller treats any error as "no live recipient".
func (r *Router) Deliver(ctx context.Context, locator session.Locator, payload interface{}) error {
	if locator.InstanceID == "" || locator.ConnectionID == "" {
		return fmt.Errorf("delivery: incomplete locator")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("delivery: marshal payload: %w", err)
	}

	envelope, err := json.Marshal(Envelope{
		ConnectionID: locator.ConnectionID,
		Payload:      raw,
	})
	if err != nil {
		return fmt.Errorf("delivery: marshal envelope: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.bus.Publish(pubCtx, InstanceChannel(locator.InstanceID), envelope); err != nil {
		return fmt.Errorf("delivery: publish to %s: %w", locator.InstanceID, err)
	}
	return nil
}

// Subscriber drains this instance's channel and hands envelopes to the local
// gateway. Unknown connection ids no-op.
type Subscriber struct {
	bus        Bus
	instanceID string
	gateway    Gateway
}

func NewSubscriber(bus Bus, instanceID string, gateway Gateway) *Subscriber {
	return &Subscriber{bus: bus, instanceID: instanceID, gateway: gateway}
}

func (s *Subscriber) Run(ctx context.Context) error {
	ch, err := s.bus.Subscribe(ctx, InstanceChannel(s.instanceID))
	if err != nil {
		return fmt.Errorf("delivery: subscribe %s: %w", s.instanceID, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-ch:
			if !ok {
				return nil
			}
			var envelope Envelope
			if err := json.Unmarshal(raw, &envelope); err != nil {
				continue
			}
			s.gateway.PushToConnection(envelope.ConnectionID, envelope.Payload)
		}
	}
}

type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := b.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				out <- []byte(msg.Payload)
			}
		}
	}()
	return out, nil
}
