package component

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/fsm"
)

// События жизненного цикла
const (
	EventCreate      = "create"
	EventInitialized = "initialized"
	EventStart       = "start"
	EventSuspend     = "suspend"
	EventKill        = "kill"
	EventFinished    = "finished"
	EventFail        = "fail"
)

// Transition запись о смене состояния
type Transition struct {
	Component string
	From      State
	To        State
	Err       error
	Time      time.Time
}

// Listener получает уведомления о сменах состояния
type Listener func(Transition)

// Lifecycle таблица допустимых переходов поверх fsm.Machine:
//
//	CONSTRUCTED -create-> INITIALIZING -initialized-> READY -start-> ACTIVE
//	ACTIVE -suspend-> READY
//	READY|ACTIVE -kill-> FINISHING -finished-> FINISHED
//	любое нетерминальное -fail-> ERROR
type Lifecycle struct {
	name    string
	machine *fsm.Machine
	states  map[string]State

	mu        sync.Mutex
	changed   chan struct{}
	lastErr   error
	listeners []Listener
}

// NewLifecycle создает жизненный цикл в состоянии CONSTRUCTED
func NewLifecycle(name string) *Lifecycle {
	l := &Lifecycle{
		name:    name,
		states:  make(map[string]State, len(stateNames)),
		changed: make(chan struct{}),
	}

	for i, n := range stateNames {
		l.states[n] = State(i)
	}

	recordError := func(ctx context.Context, event fsm.Event) error {
		err, _ := event.Data.(error)
		if err == nil {
			err = errors.New("unknown failure")
		}
		l.mu.Lock()
		l.lastErr = err
		l.mu.Unlock()
		return nil
	}

	l.machine = fsm.New(Constructed.String(), fsm.WithHistory(32)).MustAdd(
		fsm.On(EventCreate, Constructed.String()).Goto(Initializing.String()),
		fsm.On(EventInitialized, Initializing.String()).Goto(Ready.String()),
		fsm.On(EventStart, Ready.String()).Goto(Active.String()),
		fsm.On(EventSuspend, Active.String()).Goto(Ready.String()),
		fsm.On(EventKill, Ready.String(), Active.String()).Goto(Finishing.String()),
		fsm.On(EventFinished, Finishing.String()).Goto(Finished.String()),
		fsm.On(EventFail, Constructed.String(), Initializing.String(), Ready.String(), Active.String(), Finishing.String()).
			Goto(Error.String()).
			Do(recordError),
	)
	l.machine.Observe(l.onTransition)
	return l
}

// State возвращает текущее состояние
func (l *Lifecycle) State() State {
	return l.states[l.machine.Current()]
}

// LastError возвращает ошибку, переведшую компонент в ERROR
func (l *Lifecycle) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// Fire выполняет переход по событию; недопустимый переход дает INVALID_STATE
func (l *Lifecycle) Fire(ctx context.Context, event string) error {
	if err := l.machine.Fire(ctx, event, nil); err != nil {
		return core.Wrap(err, core.ErrInvalidState, l.name+": "+event)
	}
	return nil
}

// Fail переводит компонент в ERROR с причиной
func (l *Lifecycle) Fail(ctx context.Context, cause error) error {
	if err := l.machine.Fire(ctx, EventFail, cause); err != nil {
		return core.Wrap(err, core.ErrInvalidState, l.name+": fail")
	}
	return nil
}

// History возвращает историю переходов
func (l *Lifecycle) History() []fsm.Step {
	return l.machine.History()
}

// Subscribe регистрирует слушателя смен состояния
func (l *Lifecycle) Subscribe(listener Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, listener)
}

// Wait ждет состояния target.
// Если компонент ушел в терминальное состояние, отличное от target, возвращается INVALID_STATE.
func (l *Lifecycle) Wait(ctx context.Context, target State) error {
	for {
		l.mu.Lock()
		changed := l.changed
		l.mu.Unlock()

		current := l.State()
		if current == target {
			return nil
		}
		if current.IsTerminal() {
			if err := l.LastError(); err != nil && current == Error {
				return core.Wrap(err, core.ErrInvalidState, l.name+" is in ERROR while waiting for "+target.String())
			}
			return core.Errorf(core.ErrInvalidState, "%s is %s while waiting for %s", l.name, current, target)
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return core.Wrap(ctx.Err(), core.ErrTimeout, l.name+" did not reach "+target.String()+", state "+current.String())
		}
	}
}

func (l *Lifecycle) onTransition(ctx context.Context, step fsm.Step) {
	t := Transition{
		Component: l.name,
		From:      l.states[step.From],
		To:        l.states[step.To],
		Time:      step.Timestamp,
	}

	l.mu.Lock()
	if t.To == Error {
		t.Err = l.lastErr
	}
	close(l.changed)
	l.changed = make(chan struct{})
	listeners := make([]Listener, len(l.listeners))
	copy(listeners, l.listeners)
	l.mu.Unlock()

	for _, listener := range listeners {
		listener(t)
	}
}
