package testing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/akriventsev/taskflow/framework/component"
	"github.com/akriventsev/taskflow/framework/events"
)

// EventRecorder запоминает все опубликованные события
type EventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

// NewEventRecorder создает пустой recorder
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

// Handle сохраняет событие
func (r *EventRecorder) Handle(ctx context.Context, event events.Event) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

// EventType подписка на все типы
func (r *EventRecorder) EventType() string { return events.TypeAll }

// Events возвращает копию событий в порядке публикации
func (r *EventRecorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// Transitions возвращает целевые состояния компонента в порядке переходов
func (r *EventRecorder) Transitions(name string) []string {
	var states []string
	for _, e := range r.Events() {
		if sc, ok := e.(*events.StateChange); ok && sc.Component == name {
			states = append(states, sc.To)
		}
	}
	return states
}

// Reset очищает записанные события
func (r *EventRecorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// WaitForState ждет, пока компонент перейдет в state; по таймауту завершает тест
func WaitForState(t testing.TB, c component.Component, state component.State) {
	t.Helper()
	deadline := time.Now().Add(DefaultWait)
	for c.State() != state {
		if time.Now().After(deadline) {
			t.Fatalf("%s: expected %s, still %s (last error: %v)", c.Name(), state, c.State(), c.LastError())
		}
		time.Sleep(time.Millisecond)
	}
}
