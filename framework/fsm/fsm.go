// Package fsm предоставляет табличный конечный автомат с охранниками, действиями
// и ограниченной историей переходов. На нем построен жизненный цикл компонентов.
package fsm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akriventsev/taskflow/framework/core"
)

type edgeKey struct {
	from  string
	event string
}

type edge struct {
	to      string
	guard   Guard
	actions []Action
}

// Machine конечный автомат над строковыми состояниями
type Machine struct {
	mu         sync.RWMutex
	id         string
	initial    string
	current    string
	edges      map[edgeKey]edge
	history    []Step
	maxHistory int
	observers  []Observer
}

// Option настройка автомата
type Option func(*Machine)

// WithHistory ограничивает историю n последними переходами; 0 отключает историю
func WithHistory(n int) Option {
	return func(m *Machine) {
		m.maxHistory = n
	}
}

// New создает автомат в начальном состоянии initial
func New(initial string, opts ...Option) *Machine {
	m := &Machine{
		id:      uuid.New().String(),
		initial: initial,
		current: initial,
		edges:   make(map[edgeKey]edge),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ID возвращает идентификатор экземпляра автомата
func (m *Machine) ID() string {
	return m.id
}

// Add добавляет правила. Повторное ребро (состояние, событие) дает ALREADY_EXISTS.
func (m *Machine) Add(rules ...Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range rules {
		if r.Event == "" || r.To == "" || len(r.From) == 0 {
			return core.Errorf(core.ErrInvalidConfig, "incomplete rule %q -> %q", r.Event, r.To)
		}
		for _, from := range r.From {
			key := edgeKey{from: from, event: r.Event}
			if _, exists := m.edges[key]; exists {
				return core.Errorf(core.ErrAlreadyExists, "transition from %s on %s already defined", from, r.Event)
			}
			m.edges[key] = edge{to: r.To, guard: r.Guard, actions: r.Actions}
		}
	}
	return nil
}

// MustAdd как Add, но паникует; для статических таблиц
func (m *Machine) MustAdd(rules ...Rule) *Machine {
	if err := m.Add(rules...); err != nil {
		panic(err)
	}
	return m
}

// Current возвращает текущее состояние
func (m *Machine) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Can сообщает, есть ли ребро из текущего состояния по событию (без охранника)
func (m *Machine) Can(event string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.edges[edgeKey{from: m.current, event: event}]
	return ok
}

// Events возвращает события, допустимые в текущем состоянии
func (m *Machine) Events() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []string
	for key := range m.edges {
		if key.from == m.current {
			events = append(events, key.event)
		}
	}
	sort.Strings(events)
	return events
}

// Observe регистрирует наблюдателя переходов
func (m *Machine) Observe(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// Fire выполняет переход по событию с данными.
// Отсутствие ребра или отказ охранника дает INVALID_STATE.
func (m *Machine) Fire(ctx context.Context, name string, data interface{}) error {
	event := Event{Name: name, Data: data, Time: time.Now()}

	m.mu.Lock()
	from := m.current
	e, ok := m.edges[edgeKey{from: from, event: name}]
	if !ok {
		m.mu.Unlock()
		return core.Errorf(core.ErrInvalidState, "no transition from %s on %s", from, name)
	}
	if e.guard != nil {
		if err := e.guard(ctx, from, event); err != nil {
			m.mu.Unlock()
			return core.Wrap(err, core.ErrInvalidState, fmt.Sprintf("transition from %s on %s rejected", from, name))
		}
	}
	for i, action := range e.actions {
		if err := action(ctx, event); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("action %d of %s failed: %w", i, name, err)
		}
	}

	m.current = e.to
	step := Step{From: from, To: e.to, Event: name, Timestamp: event.Time}
	m.record(step)
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	// Наблюдатели могут читать состояние автомата
	for _, o := range observers {
		o(ctx, step)
	}
	return nil
}

func (m *Machine) record(step Step) {
	if m.maxHistory <= 0 {
		return
	}
	m.history = append(m.history, step)
	if len(m.history) > m.maxHistory {
		m.history = m.history[len(m.history)-m.maxHistory:]
	}
}

// History возвращает копию истории переходов
func (m *Machine) History() []Step {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Step(nil), m.history...)
}

// Reset возвращает автомат в начальное состояние и очищает историю
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.initial
	m.history = nil
}
