package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// EventMiddleware оборачивает доставку события
type EventMiddleware func(ctx context.Context, event Event, next func(ctx context.Context, event Event) error) error

// InMemoryEventBus шина событий процесса.
// Обработчики вызываются последовательно в горутине публикующего,
// подписчики TypeAll получают события после подписчиков конкретного типа.
type InMemoryEventBus struct {
	mu         sync.RWMutex
	handlers   map[string][]EventHandler
	middleware []EventMiddleware

	inflight sync.WaitGroup
	stateMu  sync.Mutex
	stopped  bool
}

// NewInMemoryEventBus создает новую шину событий
func NewInMemoryEventBus() *InMemoryEventBus {
	return &InMemoryEventBus{handlers: make(map[string][]EventHandler)}
}

// WithMiddleware добавляет middleware; первое добавленное выполняется первым
func (b *InMemoryEventBus) WithMiddleware(middleware EventMiddleware) *InMemoryEventBus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, middleware)
	return b
}

// Subscribe подписывает обработчик на тип события; TypeAll получает все события
func (b *InMemoryEventBus) Subscribe(eventType string, handler EventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, h := range b.handlers[eventType] {
		if h == handler {
			return fmt.Errorf("handler already subscribed to event type %s", eventType)
		}
	}
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	return nil
}

// Unsubscribe отписывает обработчик
func (b *InMemoryEventBus) Unsubscribe(eventType string, handler EventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := b.handlers[eventType]
	for i, h := range handlers {
		if h != handler {
			continue
		}
		next := make([]EventHandler, 0, len(handlers)-1)
		next = append(next, handlers[:i]...)
		b.handlers[eventType] = append(next, handlers[i+1:]...)
		return nil
	}
	return fmt.Errorf("handler not found for event type %s", eventType)
}

// Publish доставляет событие через цепочку middleware всем подписчикам
func (b *InMemoryEventBus) Publish(ctx context.Context, event Event) error {
	b.stateMu.Lock()
	if b.stopped {
		b.stateMu.Unlock()
		return fmt.Errorf("event bus is stopped")
	}
	b.inflight.Add(1)
	b.stateMu.Unlock()
	defer b.inflight.Done()

	b.mu.RLock()
	chain := b.middleware
	b.mu.RUnlock()

	next := b.deliver
	for i := len(chain) - 1; i >= 0; i-- {
		mw, inner := chain[i], next
		next = func(ctx context.Context, event Event) error {
			return mw(ctx, event, inner)
		}
	}
	return next(ctx, event)
}

func (b *InMemoryEventBus) deliver(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.handlers[event.EventType()])+len(b.handlers[TypeAll]))
	handlers = append(handlers, b.handlers[event.EventType()]...)
	handlers = append(handlers, b.handlers[TypeAll]...)
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h.Handle(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s handler failed on %s: %w", h.EventType(), event.Source(), err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown запрещает новые публикации и ждет завершения текущих. Идемпотентен.
func (b *InMemoryEventBus) Shutdown(ctx context.Context) error {
	b.stateMu.Lock()
	if b.stopped {
		b.stateMu.Unlock()
		return nil
	}
	b.stopped = true
	b.stateMu.Unlock()

	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FilterSources пропускает только события перечисленных компонентов
func FilterSources(names ...string) EventMiddleware {
	allowed := make(map[string]struct{}, len(names))
	for _, n := range names {
		allowed[n] = struct{}{}
	}
	return func(ctx context.Context, event Event, next func(ctx context.Context, event Event) error) error {
		if _, ok := allowed[event.Source()]; !ok {
			return nil
		}
		return next(ctx, event)
	}
}
