// Package events предоставляет события фреймворка (смена состояний, соединения)
// и шину для их доставки подписчикам внутри процесса и во внешние брокеры.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Типы событий фреймворка
const (
	TypeStateChanged      = "component.state_changed"
	TypeConnectionCreated = "connection.created"
	TypeConnectionRemoved = "connection.removed"
	// TypeAll подписка на все типы
	TypeAll = "*"
)

// Event событие фреймворка
type Event interface {
	// EventID уникальный идентификатор события
	EventID() string
	// EventType тип события
	EventType() string
	// OccurredAt время возникновения
	OccurredAt() time.Time
	// Source имя компонента, породившего событие
	Source() string
}

// StateChange переход жизненного цикла компонента
type StateChange struct {
	ID        string    `json:"id"`
	Component string    `json:"component"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// NewStateChange создает событие смены состояния
func NewStateChange(component, from, to string, cause error, at time.Time) *StateChange {
	e := &StateChange{
		ID:        uuid.New().String(),
		Component: component,
		From:      from,
		To:        to,
		Time:      at,
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	return e
}

func (e *StateChange) EventID() string       { return e.ID }
func (e *StateChange) EventType() string     { return TypeStateChanged }
func (e *StateChange) OccurredAt() time.Time { return e.Time }
func (e *StateChange) Source() string        { return e.Component }

// ConnectionChange создание или удаление соединения
type ConnectionChange struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	ConnectionID string    `json:"connection_id"`
	Requirer     string    `json:"requirer"`
	Required     string    `json:"required"`
	Provider     string    `json:"provider"`
	Provided     string    `json:"provided"`
	Queued       bool      `json:"queued"`
	Time         time.Time `json:"time"`
}

func (e *ConnectionChange) EventID() string       { return e.ID }
func (e *ConnectionChange) EventType() string     { return e.Type }
func (e *ConnectionChange) OccurredAt() time.Time { return e.Time }
func (e *ConnectionChange) Source() string        { return e.Requirer }

// EventHandler обработчик событий
type EventHandler interface {
	// Handle обрабатывает событие
	Handle(ctx context.Context, event Event) error
	// EventType тип событий, который обрабатывает handler
	EventType() string
}

// FuncHandler обработчик на основе функции
type FuncHandler struct {
	eventType string
	fn        func(ctx context.Context, event Event) error
}

// HandlerFunc создает обработчик на основе функции
func HandlerFunc(eventType string, fn func(ctx context.Context, event Event) error) *FuncHandler {
	return &FuncHandler{eventType: eventType, fn: fn}
}

// Handle вызывает функцию
func (h *FuncHandler) Handle(ctx context.Context, event Event) error { return h.fn(ctx, event) }

// EventType возвращает тип событий
func (h *FuncHandler) EventType() string { return h.eventType }

// EventPublisher публикатор событий
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// EventSubscriber подписчик на события
type EventSubscriber interface {
	Subscribe(eventType string, handler EventHandler) error
	Unsubscribe(eventType string, handler EventHandler) error
}

// EventBus объединяет Publisher и Subscriber
type EventBus interface {
	EventPublisher
	EventSubscriber
}
