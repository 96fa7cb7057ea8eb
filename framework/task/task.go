// Package task предоставляет активные компоненты: задачи с собственным потоком исполнения.
//
// Задача проходит CONSTRUCTED → INITIALIZING → READY → ACTIVE → FINISHING → FINISHED.
// Все переходы после Create выполняет поток задачи; Start, Suspend и Kill только
// записывают запрос, который поток обрабатывает в начале очередного цикла.
package task

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/akriventsev/taskflow/framework/component"
	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/interfaces"
	"github.com/akriventsev/taskflow/framework/statetable"
)

// Policy способ планирования циклов
type Policy int

const (
	// Periodic циклы по сетке start + k·period
	Periodic Policy = iota
	// Continuous циклы подряд без пауз
	Continuous
	// FromSignal цикл на каждое поступление вызова в mailbox
	FromSignal
)

func (p Policy) String() string {
	switch p {
	case Periodic:
		return "periodic"
	case Continuous:
		return "continuous"
	case FromSignal:
		return "from-signal"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Runner тело цикла задачи
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc адаптер функции к Runner
type RunnerFunc func(ctx context.Context) error

// Run вызывает f
func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Starter необязательный обработчик Startup
type Starter interface {
	Startup(ctx context.Context) error
}

// Cleaner необязательный обработчик Cleanup
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

type request int

const (
	requestNone request = iota
	requestStart
	requestSuspend
	requestKill
)

// Task активный компонент
type Task struct {
	*component.Base

	policy Policy
	period time.Duration
	body   Runner
	cfg    config

	signal chan struct{}
	poke   chan struct{}
	table  *statetable.Table
	stats  statsCollector

	mu       sync.Mutex
	pending  request
	stopping chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewPeriodic создает периодическую задачу
func NewPeriodic(name string, period time.Duration, body Runner, opts ...Option) (*Task, error) {
	if period <= 0 {
		return nil, core.Errorf(core.ErrInvalidConfig, "task %s: period must be positive, got %s", name, period)
	}
	return newTask(name, Periodic, period, body, opts)
}

// NewContinuous создает задачу, выполняющую циклы подряд
func NewContinuous(name string, body Runner, opts ...Option) (*Task, error) {
	return newTask(name, Continuous, 0, body, opts)
}

// NewFromSignal создает задачу, просыпающуюся при поступлении вызова
func NewFromSignal(name string, body Runner, opts ...Option) (*Task, error) {
	return newTask(name, FromSignal, 0, body, opts)
}

func newTask(name string, policy Policy, period time.Duration, body Runner, opts []Option) (*Task, error) {
	if name == "" {
		return nil, core.NewError(core.ErrInvalidConfig, "task name is empty")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	t := &Task{
		policy:   policy,
		period:   period,
		body:     body,
		cfg:      cfg,
		signal:   make(chan struct{}, 1),
		poke:     make(chan struct{}, 1),
		table:    statetable.New(name, cfg.stateSize),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
	baseOpts := []component.Option{
		component.WithType(core.ComponentTypeTask),
		component.WithExecutor(name, t.signal),
		component.WithLogger(cfg.logger),
	}
	if cfg.observer != nil {
		baseOpts = append(baseOpts, component.WithObserver(cfg.observer))
	}
	t.Base = component.New(name, baseOpts...)

	if err := t.addStateTableInterface(); err != nil {
		return nil, err
	}
	return t, nil
}

// SetBody задает тело цикла; допустимо только до Create
func (t *Task) SetBody(body Runner) error {
	if t.State() != component.Constructed {
		return core.Errorf(core.ErrInvalidState, "task %s: body can be set only before create", t.Name())
	}
	t.body = body
	return nil
}

// Policy возвращает способ планирования
func (t *Task) Policy() Policy { return t.policy }

// Period возвращает период (0 для непериодических задач)
func (t *Task) Period() time.Duration { return t.period }

// StateTable возвращает таблицу состояний задачи
func (t *Task) StateTable() *statetable.Table { return t.table }

// Stats возвращает статистику циклов
func (t *Task) Stats() Stats {
	s := t.stats.snapshot()
	s.Period = t.period
	return s
}

// Stopping закрывается, когда запрошено завершение; тело цикла может ждать на нем
func (t *Task) Stopping() <-chan struct{} { return t.stopping }

// Done закрывается после выхода потока задачи
func (t *Task) Done() <-chan struct{} { return t.done }

// Create переводит задачу в INITIALIZING и запускает ее поток.
// Переход в READY выполняет поток после Startup.
func (t *Task) Create(ctx context.Context) error {
	if err := t.Lifecycle().Fire(ctx, component.EventCreate); err != nil {
		return err
	}
	go t.thread(context.WithoutCancel(ctx))
	return nil
}

// Start запрашивает переход в ACTIVE
func (t *Task) Start(ctx context.Context) error {
	switch t.State() {
	case component.Initializing, component.Ready:
		t.request(requestStart)
		return nil
	case component.Active:
		return nil
	default:
		return core.Errorf(core.ErrInvalidState, "task %s: cannot start from %s", t.Name(), t.State())
	}
}

// Suspend запрашивает возврат в READY на границе цикла
func (t *Task) Suspend(ctx context.Context) error {
	switch t.State() {
	case component.Active:
		t.request(requestSuspend)
		return nil
	case component.Ready:
		return nil
	default:
		return core.Errorf(core.ErrInvalidState, "task %s: cannot suspend from %s", t.Name(), t.State())
	}
}

// Kill запрашивает завершение. Для CONSTRUCTED и терминальных состояний ничего не делает.
func (t *Task) Kill(ctx context.Context) error {
	switch t.State() {
	case component.Constructed, component.Finished, component.Error:
		return nil
	}
	t.request(requestKill)
	return nil
}

func (t *Task) request(r request) {
	t.mu.Lock()
	if t.pending != requestKill {
		t.pending = r
	}
	t.mu.Unlock()

	if r == requestKill {
		t.stopOnce.Do(func() { close(t.stopping) })
	}
	select {
	case t.poke <- struct{}{}:
	default:
	}
}

func (t *Task) takeRequest() request {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.pending
	if r != requestKill {
		t.pending = requestNone
	}
	return r
}

func (t *Task) hasRequest() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != requestNone
}

func (t *Task) thread(ctx context.Context) {
	defer close(t.done)
	if t.cfg.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	log := t.Logger()
	log.Debug("task thread started", "task", t.Name(), "policy", t.policy)

	if err := t.initialize(ctx); err != nil {
		t.abort(ctx, err)
		return
	}

	for {
		switch t.awaitRequest() {
		case requestKill:
			t.finish(ctx)
			return
		case requestStart:
			if err := t.Lifecycle().Fire(ctx, component.EventStart); err != nil {
				t.abort(ctx, err)
				return
			}
			next, err := t.loop(ctx)
			if err != nil {
				t.abort(ctx, err)
				return
			}
			if next == requestKill {
				t.finish(ctx)
				return
			}
			if err := t.Lifecycle().Fire(ctx, component.EventSuspend); err != nil {
				t.abort(ctx, err)
				return
			}
			log.Info("task suspended", "task", t.Name())
		}
	}
}

func (t *Task) initialize(ctx context.Context) error {
	if err := t.CheckRequiredConnected(); err != nil {
		return err
	}
	if s, ok := t.body.(Starter); ok {
		if err := component.RunHook(ctx, t.Name(), "startup", s.Startup); err != nil {
			return err
		}
	}
	return t.Lifecycle().Fire(ctx, component.EventInitialized)
}

// awaitRequest ждет start или kill в состоянии READY
func (t *Task) awaitRequest() request {
	for {
		switch r := t.takeRequest(); r {
		case requestStart, requestKill:
			return r
		}
		<-t.poke
	}
}

// loop выполняет циклы до запроса kill или suspend
func (t *Task) loop(ctx context.Context) (request, error) {
	log := t.Logger()
	t.stats.resetPeriod()
	next := time.Now()

	for {
		switch r := t.takeRequest(); r {
		case requestKill, requestSuspend:
			return r, nil
		}

		start := time.Now()
		t.ProcessMailboxes()
		if err := t.runBody(ctx); err != nil {
			return requestNone, err
		}
		t.table.Advance(start)
		compute := time.Since(start)

		overrun := false
		if t.policy == Periodic {
			next = next.Add(t.period)
			if now := time.Now(); now.After(next) {
				overrun = true
				next = now
				log.Debug("task overrun", "task", t.Name(), "compute", compute, "period", t.period)
			}
		}
		t.recordCycle(ctx, start, compute, overrun)

		switch t.policy {
		case Periodic:
			if !overrun {
				t.sleepUntil(next)
			}
		case FromSignal:
			t.waitSignal()
		}
	}
}

func (t *Task) runBody(ctx context.Context) (err error) {
	if t.body == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = core.Wrap(fmt.Errorf("panic: %v\n%s", r, debug.Stack()), core.ErrExecutionFailed,
				fmt.Sprintf("%s: run panicked", t.Name()))
		}
	}()
	if err := t.body.Run(ctx); err != nil {
		return core.Wrap(err, core.ErrExecutionFailed, fmt.Sprintf("%s: run failed", t.Name()))
	}
	return nil
}

func (t *Task) recordCycle(ctx context.Context, start time.Time, compute time.Duration, overrun bool) {
	t.stats.record(start, compute, overrun)
	if t.cfg.recorder != nil {
		t.cfg.recorder.TaskCycle(ctx, t.Name(), compute, overrun)
	}
	if n := t.cfg.statsInterval; n > 0 {
		if s := t.Stats(); s.Cycles%n == 0 {
			t.Logger().Info("task statistics", "task", t.Name(), "cycles", s.Cycles, "overruns", s.Overruns,
				"period_avg", s.PeriodAvg, "compute_avg", s.ComputeAvg, "compute_max", s.ComputeMax)
		}
	}
}

// sleepUntil спит до дедлайна; прерывается только запросом управления
func (t *Task) sleepUntil(deadline time.Time) {
	d := time.Until(deadline)
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return
		case <-t.poke:
			if t.hasRequest() {
				return
			}
		}
	}
}

func (t *Task) waitSignal() {
	for {
		select {
		case <-t.signal:
			return
		case <-t.poke:
			if t.hasRequest() {
				return
			}
		}
	}
}

func (t *Task) finish(ctx context.Context) {
	if err := t.Lifecycle().Fire(ctx, component.EventKill); err != nil {
		t.abort(ctx, err)
		return
	}
	var cleanupErr error
	if c, ok := t.body.(Cleaner); ok {
		cleanupErr = component.RunHook(ctx, t.Name(), "cleanup", c.Cleanup)
	}
	if dropped := t.CloseMailboxes(); dropped > 0 {
		t.Logger().Warn("pending invocations dropped", "task", t.Name(), "count", dropped)
	}
	if cleanupErr != nil {
		_ = t.Fail(ctx, cleanupErr)
		return
	}
	if err := t.Lifecycle().Fire(ctx, component.EventFinished); err != nil {
		t.Logger().Error("task finish failed", "task", t.Name(), "err", err)
		return
	}
	t.Logger().Info("task finished", "task", t.Name(), "cycles", t.Stats().Cycles)
}

// abort переводит задачу в ERROR и освобождает ожидающих вызывающих
func (t *Task) abort(ctx context.Context, err error) {
	t.stopOnce.Do(func() { close(t.stopping) })
	_ = t.Fail(ctx, err)
	t.CloseMailboxes()
}

var _ component.Component = (*Task)(nil)
var _ interfaces.Owner = (*Task)(nil)
