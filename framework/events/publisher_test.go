package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// MockEventHandler для тестирования
type MockEventHandler struct {
	mu        sync.Mutex
	handled   []Event
	err       error
	eventType string
}

func (h *MockEventHandler) Handle(ctx context.Context, event Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, event)
	return h.err
}

func (h *MockEventHandler) EventType() string {
	if h.eventType == "" {
		return TypeStateChanged
	}
	return h.eventType
}

func (h *MockEventHandler) HandledCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

func newStateChange(component, to string) *StateChange {
	return NewStateChange(component, "READY", to, nil, time.Now())
}

func TestInMemoryEventBus_Publish(t *testing.T) {
	bus := NewInMemoryEventBus()
	handler := &MockEventHandler{}
	all := &MockEventHandler{eventType: TypeAll}

	if err := bus.Subscribe(TypeStateChanged, handler); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := bus.Subscribe(TypeAll, all); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := bus.Subscribe(TypeStateChanged, handler); err == nil {
		t.Error("expected error on duplicate subscription")
	}

	if err := bus.Publish(context.Background(), newStateChange("A", "ACTIVE")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	conn := &ConnectionChange{ID: "1", Type: TypeConnectionCreated, Requirer: "B", Time: time.Now()}
	if err := bus.Publish(context.Background(), conn); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if handler.HandledCount() != 1 {
		t.Errorf("expected 1 state event, got %d", handler.HandledCount())
	}
	if all.HandledCount() != 2 {
		t.Errorf("expected 2 events for wildcard subscriber, got %d", all.HandledCount())
	}

	if err := bus.Unsubscribe(TypeStateChanged, handler); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	_ = bus.Publish(context.Background(), newStateChange("A", "FINISHING"))
	if handler.HandledCount() != 1 {
		t.Errorf("unsubscribed handler received event")
	}
}

func TestInMemoryEventBus_FuncHandlerCanUnsubscribe(t *testing.T) {
	bus := NewInMemoryEventBus()
	var count int
	h := HandlerFunc(TypeStateChanged, func(ctx context.Context, event Event) error {
		count++
		return nil
	})
	if err := bus.Subscribe(TypeStateChanged, h); err != nil {
		t.Fatal(err)
	}
	_ = bus.Publish(context.Background(), newStateChange("A", "ACTIVE"))
	if err := bus.Unsubscribe(TypeStateChanged, h); err != nil {
		t.Fatal(err)
	}
	_ = bus.Publish(context.Background(), newStateChange("A", "READY"))
	if count != 1 {
		t.Errorf("expected 1 delivery, got %d", count)
	}
}

func TestInMemoryEventBus_MiddlewareAndErrors(t *testing.T) {
	bus := NewInMemoryEventBus()
	failing := &MockEventHandler{err: errors.New("sink down")}
	_ = bus.Subscribe(TypeStateChanged, failing)

	var seen []string
	bus.WithMiddleware(func(ctx context.Context, event Event, next func(ctx context.Context, event Event) error) error {
		seen = append(seen, event.Source())
		return next(ctx, event)
	})

	err := bus.Publish(context.Background(), newStateChange("A", "ERROR"))
	if err == nil {
		t.Fatal("expected handler error to be returned")
	}
	if len(seen) != 1 || seen[0] != "A" {
		t.Errorf("middleware not applied: %v", seen)
	}
}

func TestInMemoryEventBus_Shutdown(t *testing.T) {
	bus := NewInMemoryEventBus()
	if err := bus.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := bus.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown() error = %v", err)
	}
	if err := bus.Publish(context.Background(), newStateChange("A", "ACTIVE")); err == nil {
		t.Error("expected error after shutdown")
	}
}

func TestInMemoryEventBus_FilterSources(t *testing.T) {
	bus := NewInMemoryEventBus().WithMiddleware(FilterSources("B"))
	handler := &MockEventHandler{eventType: TypeAll}
	_ = bus.Subscribe(TypeAll, handler)

	_ = bus.Publish(context.Background(), newStateChange("A", "ACTIVE"))
	_ = bus.Publish(context.Background(), newStateChange("B", "ACTIVE"))
	_ = bus.Publish(context.Background(), &ConnectionChange{ID: "1", Type: TypeConnectionCreated, Requirer: "B", Time: time.Now()})

	if handler.HandledCount() != 2 {
		t.Errorf("expected 2 events from B, got %d", handler.HandledCount())
	}
}

func TestAsyncEventPublisher_PreservesOrder(t *testing.T) {
	bus := NewInMemoryEventBus()
	handler := &MockEventHandler{}
	_ = bus.Subscribe(TypeStateChanged, handler)

	p := NewAsyncEventPublisher(bus, 1, 16)
	states := []string{"INITIALIZING", "READY", "ACTIVE", "FINISHING", "FINISHED"}
	for _, s := range states {
		if err := p.Publish(context.Background(), newStateChange("A", s)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.handled) != len(states) {
		t.Fatalf("expected %d events, got %d", len(states), len(handler.handled))
	}
	for i, e := range handler.handled {
		if got := e.(*StateChange).To; got != states[i] {
			t.Errorf("event %d: expected %s, got %s", i, states[i], got)
		}
	}

	if err := p.Publish(context.Background(), newStateChange("A", "READY")); err == nil {
		t.Error("expected error after stop")
	}
}

func TestAsyncEventPublisher_QueueFull(t *testing.T) {
	block := make(chan struct{})
	slow := EventPublisherFunc(func(ctx context.Context, event Event) error {
		<-block
		return nil
	})
	p := NewAsyncEventPublisher(slow, 1, 1)
	defer func() {
		close(block)
		_ = p.Stop(context.Background())
	}()

	var failed bool
	for i := 0; i < 10; i++ {
		if err := p.Publish(context.Background(), newStateChange("A", "ACTIVE")); err != nil {
			failed = true
		}
	}
	if !failed {
		t.Error("expected queue full error")
	}
}

// EventPublisherFunc адаптер функции к EventPublisher
type EventPublisherFunc func(ctx context.Context, event Event) error

func (f EventPublisherFunc) Publish(ctx context.Context, event Event) error { return f(ctx, event) }

type capturedMessage struct {
	subject string
	data    []byte
	headers map[string]string
}

type captureBus struct {
	mu   sync.Mutex
	msgs []capturedMessage
}

func (b *captureBus) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, capturedMessage{subject: subject, data: data, headers: headers})
	return nil
}

func TestBusEventPublisher(t *testing.T) {
	bus := &captureBus{}
	p := NewBusEventPublisher(bus, "taskflow.events")

	event := NewStateChange("A", "ACTIVE", "ERROR", errors.New("device lost"), time.Now())
	if err := (MultiPublisher{p}).Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(bus.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(bus.msgs))
	}
	msg := bus.msgs[0]
	if msg.subject != "taskflow.events.component.state_changed" {
		t.Errorf("unexpected subject %s", msg.subject)
	}
	if msg.headers["event_id"] != event.ID {
		t.Errorf("unexpected event_id header %s", msg.headers["event_id"])
	}

	var decoded StateChange
	if err := json.Unmarshal(msg.data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.Error != "device lost" || decoded.To != "ERROR" {
		t.Errorf("unexpected payload %+v", decoded)
	}
}
