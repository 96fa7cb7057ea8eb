package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/akriventsev/taskflow/framework/transport"
)

// AsyncEventPublisher публикует события из очереди в фоновых воркерах.
// Публикация не блокирует вызывающего, поэтому безопасна из потока задачи.
type AsyncEventPublisher struct {
	next     EventPublisher
	queue    chan eventMessage
	workers  int
	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	onError  func(event Event, err error)
}

type eventMessage struct {
	ctx   context.Context
	event Event
}

// NewAsyncEventPublisher создает асинхронный публикатор поверх next.
// Для сохранения порядка событий используйте одного воркера.
func NewAsyncEventPublisher(next EventPublisher, workers int, queueSize int) *AsyncEventPublisher {
	if workers <= 0 {
		workers = 1
	}
	p := &AsyncEventPublisher{
		next:    next,
		queue:   make(chan eventMessage, queueSize),
		workers: workers,
		stopCh:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// OnError задает обработчик ошибок доставки
func (p *AsyncEventPublisher) OnError(fn func(event Event, err error)) *AsyncEventPublisher {
	p.onError = fn
	return p
}

func (p *AsyncEventPublisher) worker() {
	defer p.wg.Done()
	for {
		select {
		case msg := <-p.queue:
			p.deliver(msg)
		case <-p.stopCh:
			for {
				select {
				case msg := <-p.queue:
					p.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (p *AsyncEventPublisher) deliver(msg eventMessage) {
	if err := p.next.Publish(msg.ctx, msg.event); err != nil && p.onError != nil {
		p.onError(msg.event, err)
	}
}

// Publish ставит событие в очередь. При переполненной очереди возвращает ошибку.
func (p *AsyncEventPublisher) Publish(ctx context.Context, event Event) error {
	select {
	case <-p.stopCh:
		return fmt.Errorf("publisher is stopped")
	default:
	}
	select {
	case p.queue <- eventMessage{ctx: context.WithoutCancel(ctx), event: event}:
		return nil
	default:
		return fmt.Errorf("event queue is full, dropping %s", event.EventType())
	}
}

// Stop доставляет оставшиеся события и останавливает воркеры. Идемпотентен.
func (p *AsyncEventPublisher) Stop(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		close(p.stopCh)

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}

// BusEventPublisher пересылает события во внешнюю шину сообщений в JSON.
// Subject: <prefix>.<event type>.
type BusEventPublisher struct {
	bus    transport.Publisher
	prefix string
}

// NewBusEventPublisher создает пересылающий публикатор
func NewBusEventPublisher(bus transport.Publisher, prefix string) *BusEventPublisher {
	return &BusEventPublisher{bus: bus, prefix: prefix}
}

// Subject возвращает subject для типа события
func (p *BusEventPublisher) Subject(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

// Publish сериализует и публикует событие
func (p *BusEventPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.EventType(), err)
	}
	headers := map[string]string{
		"event_id":   event.EventID(),
		"event_type": event.EventType(),
		"source":     event.Source(),
	}
	return p.bus.Publish(ctx, p.Subject(event.EventType()), data, headers)
}

// MultiPublisher публикует событие во все публикаторы, собирая ошибки
type MultiPublisher []EventPublisher

// Publish публикует событие во все публикаторы
func (m MultiPublisher) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
