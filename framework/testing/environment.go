// Package testing предоставляет утилиты для тестирования компонентов:
// окружение с менеджером, in-memory шиной и записью событий, ожидание состояний.
package testing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/akriventsev/taskflow/framework/adapters/messagebus"
	"github.com/akriventsev/taskflow/framework/component"
	"github.com/akriventsev/taskflow/framework/events"
	"github.com/akriventsev/taskflow/framework/manager"
)

// DefaultWait таймаут ожидания состояний в тестах
const DefaultWait = 3 * time.Second

// InMemoryTestEnvironment тестовая среда с готовыми in-memory компонентами
type InMemoryTestEnvironment struct {
	Bus      *messagebus.InMemoryAdapter
	EventBus *events.InMemoryEventBus
	Recorder *EventRecorder
	Manager  *manager.Manager

	t testing.TB
}

// NewInMemoryTestEnvironment создает среду процесса process.
// Среда останавливается автоматически по завершении теста.
func NewInMemoryTestEnvironment(t testing.TB, process string, opts ...manager.Option) *InMemoryTestEnvironment {
	t.Helper()

	bus := messagebus.NewInMemoryAdapter(messagebus.DefaultInMemoryConfig())
	if err := bus.Start(context.Background()); err != nil {
		t.Fatalf("failed to start message bus: %v", err)
	}

	eventBus := events.NewInMemoryEventBus()
	recorder := NewEventRecorder()
	if err := eventBus.Subscribe(events.TypeAll, recorder); err != nil {
		t.Fatalf("failed to subscribe event recorder: %v", err)
	}

	base := []manager.Option{manager.WithProcessName(process), manager.WithEventPublisher(eventBus)}
	env := &InMemoryTestEnvironment{
		Bus:      bus,
		EventBus: eventBus,
		Recorder: recorder,
		Manager:  manager.New(append(base, opts...)...),
		t:        t,
	}
	t.Cleanup(func() {
		if err := env.Shutdown(context.Background()); err != nil {
			t.Logf("environment shutdown: %v", err)
		}
	})
	return env
}

// Add регистрирует компоненты; ошибка завершает тест
func (e *InMemoryTestEnvironment) Add(components ...component.Component) {
	e.t.Helper()
	for _, c := range components {
		if err := e.Manager.AddComponent(c); err != nil {
			e.t.Fatalf("failed to add %s: %v", c.Name(), err)
		}
	}
}

// Connect соединяет интерфейсы; ошибка завершает тест
func (e *InMemoryTestEnvironment) Connect(requirer, required, provider, provided string) {
	e.t.Helper()
	if _, err := e.Manager.Connect(context.Background(), requirer, required, provider, provided); err != nil {
		e.t.Fatalf("failed to connect %s.%s -> %s.%s: %v", requirer, required, provider, provided, err)
	}
}

// Run создает и запускает все компоненты, дожидаясь ACTIVE
func (e *InMemoryTestEnvironment) Run() {
	e.t.Helper()
	ctx := context.Background()
	if err := e.Manager.CreateAllAndWait(ctx, DefaultWait).Err(); err != nil {
		e.t.Fatalf("create: %v", err)
	}
	if err := e.Manager.StartAllAndWait(ctx, DefaultWait).Err(); err != nil {
		e.t.Fatalf("start: %v", err)
	}
}

// Shutdown корректно завершает работу тестовой среды
func (e *InMemoryTestEnvironment) Shutdown(ctx context.Context) error {
	var errs []error
	if err := e.Manager.KillAllAndWait(ctx, DefaultWait).Err(); err != nil {
		errs = append(errs, err)
	}
	if err := e.Manager.Cleanup(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := e.EventBus.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if e.Bus.IsRunning() {
		if err := e.Bus.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
