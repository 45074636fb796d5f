package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"support-inbox-backend/internal/session"
)

type memoryBus struct {
	mu       sync.Mutex
	channels map[string]chan []byte
	failPub  error
}

func newMemoryBus() *memoryBus {
	return &memoryBus{channels: make(map[string]chan []byte)}
}

func (b *memoryBus) channel(name string) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[name]
	if !ok {
		ch = make(chan []byte, 16)
		b.channels[name] = ch
	}
	return ch
}

func (b *memoryBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if b.failPub != nil {
		return b.failPub
	}
	b.channel(channel) <- payload
	return nil
}

func (b *memoryBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return b.channel(channel), nil
}

type recordingGateway struct {
	mu     sync.Mutex
	pushed map[string][][]byte
	known  map[string]bool
}

func newRecordingGateway(known ...string) *recordingGateway {
	g := &recordingGateway{
		pushed: make(map[string][][]byte),
		known:  make(map[string]bool),
	}
	for _, id := range known {
		g.known[id] = true
	}
	return g
}

func (g *recordingGateway) PushToConnection(connectionID string, payload []byte) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.known[connectionID] {
		return false
	}
	g.pushed[connectionID] = append(g.pushed[connectionID], payload)
	return true
}

func (g *recordingGateway) payloads(connectionID string) [][]byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pushed[connectionID]
}

func TestDeliverPublishesToTargetInstance(t *testing.T) {
	bus := newMemoryBus()
	router := NewRouter(bus, time.Second)

	loc := session.Locator{InstanceID: "instance-b", ConnectionID: "conn-7"}
	payload := map[string]string{"content": "hi there"}

	if err := router.Deliver(context.Background(), loc, payload); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}

	select {
	case raw := <-bus.channel(InstanceChannel("instance-b")):
		var envelope Envelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		if envelope.ConnectionID != "conn-7" {
			t.Fatalf("unexpected connection id %s", envelope.ConnectionID)
		}
		var decoded map[string]string
		if err := json.Unmarshal(envelope.Payload, &decoded); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if decoded["content"] != "hi there" {
			t.Fatalf("unexpected payload %v", decoded)
		}
	default:
		t.Fatal("expected a published envelope")
	}
}

func TestDeliverRejectsIncompleteLocator(t *testing.T) {
	router := NewRouter(newMemoryBus(), time.Second)
	err := router.Deliver(context.Background(), session.Locator{InstanceID: "a"}, "x")
	if err == nil {
		t.Fatal("expected error for incomplete locator")
	}
}

func TestDeliverSurfacesPublishFailure(t *testing.T) {
	bus := newMemoryBus()
	bus.failPub = errors.New("bus down")
	router := NewRouter(bus, time.Second)

	loc := session.Locator{InstanceID: "a", ConnectionID: "c"}
	if err := router.Deliver(context.Background(), loc, "x"); err == nil {
		t.Fatal("expected publish failure to surface")
	}
}

func TestSubscriberDispatchesToGateway(t *testing.T) {
	bus := newMemoryBus()
	gateway := newRecordingGateway("conn-1")
	sub := NewSubscriber(bus, "instance-a", gateway)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		sub.Run(ctx)
		close(done)
	}()

	router := NewRouter(bus, time.Second)
	loc := session.Locator{InstanceID: "instance-a", ConnectionID: "conn-1"}
	if err := router.Deliver(context.Background(), loc, map[string]string{"content": "hello"}); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}

	deadline := time.After(time.Second)
	for len(gateway.payloads("conn-1")) == 0 {
		select {
		case <-deadline:
			t.Fatal("gateway never received the push")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestSubscriberIgnoresUnknownConnection(t *testing.T) {
	bus := newMemoryBus()
	gateway := newRecordingGateway("conn-1")
	sub := NewSubscriber(bus, "instance-a", gateway)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	router := NewRouter(bus, time.Second)
	loc := session.Locator{InstanceID: "instance-a", ConnectionID: "conn-gone"}
	if err := router.Deliver(context.Background(), loc, "late"); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if got := gateway.payloads("conn-gone"); len(got) != 0 {
		t.Fatalf("expected no pushes for closed connection, got %d", len(got))
	}
}
