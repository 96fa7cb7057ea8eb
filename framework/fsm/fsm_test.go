package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/akriventsev/taskflow/framework/core"
)

func newDoor(t *testing.T) *Machine {
	t.Helper()
	m := New("closed", WithHistory(2))
	if err := m.Add(
		On("open", "closed").Goto("open"),
		On("close", "open").Goto("closed"),
	); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	return m
}

func TestMachine_Fire(t *testing.T) {
	m := newDoor(t)
	ctx := context.Background()

	if err := m.Fire(ctx, "open", nil); err != nil {
		t.Fatalf("Fire failed: %v", err)
	}
	if m.Current() != "open" {
		t.Errorf("Expected state open, got %s", m.Current())
	}

	err := m.Fire(ctx, "open", nil)
	if !core.IsErrorCode(err, core.ErrInvalidState) {
		t.Errorf("Expected INVALID_STATE, got %v", err)
	}
	if !m.Can("close") || m.Can("open") {
		t.Errorf("Unexpected Can results, events %v", m.Events())
	}
}

func TestMachine_DuplicateEdge(t *testing.T) {
	m := newDoor(t)
	err := m.Add(On("open", "closed").Goto("closed"))
	if !core.IsErrorCode(err, core.ErrAlreadyExists) {
		t.Errorf("Expected ALREADY_EXISTS, got %v", err)
	}
	if err := m.Add(On("jam").Goto("closed")); !core.IsErrorCode(err, core.ErrInvalidConfig) {
		t.Errorf("Expected INVALID_CONFIG for rule without source, got %v", err)
	}
}

func TestMachine_HistoryIsBounded(t *testing.T) {
	m := newDoor(t)
	ctx := context.Background()

	for _, event := range []string{"open", "close", "open"} {
		if err := m.Fire(ctx, event, nil); err != nil {
			t.Fatalf("Fire(%s) failed: %v", event, err)
		}
	}

	history := m.History()
	if len(history) != 2 {
		t.Fatalf("Expected 2 history entries, got %d", len(history))
	}
	if history[0].Event != "close" || history[1].To != "open" {
		t.Errorf("Unexpected history: %+v", history)
	}
}

func TestMachine_GuardAndActions(t *testing.T) {
	allowed := false
	var seen interface{}
	m := New("idle").MustAdd(
		On("work", "idle").Goto("busy").
			When(func(ctx context.Context, from string, event Event) error {
				if !allowed {
					return errors.New("not allowed")
				}
				return nil
			}).
			Do(func(ctx context.Context, event Event) error {
				seen = event.Data
				return nil
			}),
	)

	err := m.Fire(context.Background(), "work", 1)
	if !core.IsErrorCode(err, core.ErrInvalidState) {
		t.Fatalf("Expected guard to reject transition, got %v", err)
	}

	allowed = true
	if err := m.Fire(context.Background(), "work", 2); err != nil {
		t.Fatalf("Fire failed: %v", err)
	}
	if seen != 2 {
		t.Errorf("Expected action to see event data 2, got %v", seen)
	}
}

func TestMachine_FailedActionKeepsState(t *testing.T) {
	m := New("idle").MustAdd(On("work", "idle").Goto("busy").Do(func(ctx context.Context, event Event) error {
		return errors.New("boom")
	}))

	if err := m.Fire(context.Background(), "work", nil); err == nil {
		t.Fatal("Expected error from failing action")
	}
	if m.Current() != "idle" {
		t.Errorf("Expected state to stay idle, got %s", m.Current())
	}
}

func TestMachine_ObserversRunAfterTransition(t *testing.T) {
	m := newDoor(t)

	var observed []string
	m.Observe(func(ctx context.Context, step Step) {
		// Чтение состояния внутри наблюдателя не должно блокироваться
		observed = append(observed, step.From+"->"+m.Current())
	})

	_ = m.Fire(context.Background(), "open", nil)
	_ = m.Fire(context.Background(), "close", nil)

	if len(observed) != 2 || observed[0] != "closed->open" || observed[1] != "open->closed" {
		t.Errorf("Unexpected observations: %v", observed)
	}
}

func TestMachine_Reset(t *testing.T) {
	m := newDoor(t)
	_ = m.Fire(context.Background(), "open", nil)

	m.Reset()
	if m.Current() != "closed" {
		t.Errorf("Expected closed after reset, got %s", m.Current())
	}
	if len(m.History()) != 0 {
		t.Error("Expected empty history after reset")
	}
}
