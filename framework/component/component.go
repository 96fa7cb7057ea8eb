// Package component предоставляет базовый компонент: имя, наборы предоставленных и требуемых
// интерфейсов и жизненный цикл. Задачи и прокси строятся поверх Base.
package component

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/interfaces"
)

// Component контракт, с которым работают менеджер, соединения и интроспекция
type Component interface {
	Name() string
	Type() core.ComponentType
	// Executor идентификатор потока исполнения; пустая строка для пассивных компонентов
	Executor() string
	State() State
	LastError() error
	Lifecycle() *Lifecycle

	ProvidedInterface(name string) (*interfaces.Provided, bool)
	RequiredInterface(name string) (*interfaces.Required, bool)
	ProvidedInterfaceNames() []string
	RequiredInterfaceNames() []string

	Create(ctx context.Context) error
	Start(ctx context.Context) error
	Kill(ctx context.Context) error
	WaitForState(ctx context.Context, state State) error
}

// Hook пользовательский обработчик этапа жизненного цикла
type Hook func(ctx context.Context) error

// Base базовая реализация Component для пассивных компонентов.
// Пассивный компонент не имеет собственного потока: его команды выполняются в потоке вызывающего.
type Base struct {
	name      string
	typ       core.ComponentType
	executor  string
	lifecycle *Lifecycle
	logger    core.Logger
	observer  interfaces.Observer
	signal    chan struct{}
	startup   Hook
	cleanup   Hook

	mu       sync.RWMutex
	provided map[string]*interfaces.Provided
	required map[string]*interfaces.Required
}

// Option настройка компонента
type Option func(*Base)

// WithLogger задает логгер
func WithLogger(logger core.Logger) Option {
	return func(b *Base) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithObserver задает наблюдателя вызовов (метрики)
func WithObserver(observer interfaces.Observer) Option {
	return func(b *Base) { b.observer = observer }
}

// WithStartup задает обработчик Startup
func WithStartup(hook Hook) Option {
	return func(b *Base) { b.startup = hook }
}

// WithCleanup задает обработчик Cleanup
func WithCleanup(hook Hook) Option {
	return func(b *Base) { b.cleanup = hook }
}

// WithType задает тип компонента
func WithType(typ core.ComponentType) Option {
	return func(b *Base) { b.typ = typ }
}

// WithExecutor задает поток исполнения и канал его пробуждения
func WithExecutor(executor string, signal chan struct{}) Option {
	return func(b *Base) {
		b.executor = executor
		b.signal = signal
	}
}

// New создает пассивный компонент
func New(name string, opts ...Option) *Base {
	b := &Base{
		name:      name,
		typ:       core.ComponentTypeComponent,
		logger:    core.NopLogger{},
		lifecycle: NewLifecycle(name),
		provided:  make(map[string]*interfaces.Provided),
		required:  make(map[string]*interfaces.Required),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name возвращает имя компонента
func (b *Base) Name() string { return b.name }

// Type возвращает тип компонента
func (b *Base) Type() core.ComponentType { return b.typ }

// Executor возвращает идентификатор потока исполнения
func (b *Base) Executor() string { return b.executor }

// State возвращает текущее состояние
func (b *Base) State() State { return b.lifecycle.State() }

// LastError возвращает ошибку, переведшую компонент в ERROR
func (b *Base) LastError() error { return b.lifecycle.LastError() }

// Lifecycle возвращает жизненный цикл
func (b *Base) Lifecycle() *Lifecycle { return b.lifecycle }

// Logger возвращает логгер компонента
func (b *Base) Logger() core.Logger { return b.logger }

// SetLogger заменяет логгер (до добавления интерфейсов)
func (b *Base) SetLogger(logger core.Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// SetObserver заменяет наблюдателя (до добавления интерфейсов)
func (b *Base) SetObserver(observer interfaces.Observer) {
	b.observer = observer
}

func (b *Base) interfaceOptions(opts []interfaces.Option) []interfaces.Option {
	base := []interfaces.Option{
		interfaces.WithLogger(b.logger),
		interfaces.WithSignal(b.signal),
	}
	if b.observer != nil {
		base = append(base, interfaces.WithObserver(b.observer))
	}
	return append(base, opts...)
}

// AddProvidedInterface добавляет предоставленный интерфейс
func (b *Base) AddProvidedInterface(name string, opts ...interfaces.Option) (*interfaces.Provided, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.provided[name]; exists {
		return nil, core.Errorf(core.ErrAlreadyExists, "provided interface %s already exists in %s", name, b.name)
	}
	p := interfaces.NewProvided(b, name, b.interfaceOptions(opts)...)
	b.provided[name] = p
	return p, nil
}

// AddRequiredInterface добавляет требуемый интерфейс
func (b *Base) AddRequiredInterface(name string, opts ...interfaces.Option) (*interfaces.Required, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.required[name]; exists {
		return nil, core.Errorf(core.ErrAlreadyExists, "required interface %s already exists in %s", name, b.name)
	}
	r := interfaces.NewRequired(b, name, b.interfaceOptions(opts)...)
	b.required[name] = r
	return r, nil
}

// ProvidedInterface возвращает предоставленный интерфейс по имени
func (b *Base) ProvidedInterface(name string) (*interfaces.Provided, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.provided[name]
	return p, ok
}

// RequiredInterface возвращает требуемый интерфейс по имени
func (b *Base) RequiredInterface(name string) (*interfaces.Required, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.required[name]
	return r, ok
}

// ProvidedInterfaceNames возвращает отсортированные имена предоставленных интерфейсов
func (b *Base) ProvidedInterfaceNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.provided))
	for name := range b.provided {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequiredInterfaceNames возвращает отсортированные имена требуемых интерфейсов
func (b *Base) RequiredInterfaceNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.required))
	for name := range b.required {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProcessMailboxes выполняет ожидающие вызовы всех интерфейсов в текущем потоке
func (b *Base) ProcessMailboxes() int {
	b.mu.RLock()
	provided := make([]*interfaces.Provided, 0, len(b.provided))
	for _, p := range b.provided {
		provided = append(provided, p)
	}
	required := make([]*interfaces.Required, 0, len(b.required))
	for _, r := range b.required {
		required = append(required, r)
	}
	b.mu.RUnlock()

	processed := 0
	for _, p := range provided {
		processed += p.ProcessMailboxes()
	}
	for _, r := range required {
		processed += r.ProcessEvents()
	}
	return processed
}

// CloseMailboxes закрывает все очереди; ожидающие вызовы получают FunctionUnavailable
func (b *Base) CloseMailboxes() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	dropped := 0
	for _, p := range b.provided {
		dropped += p.CloseMailboxes()
	}
	for _, r := range b.required {
		dropped += r.CloseEvents()
	}
	return dropped
}

// CheckRequiredConnected проверяет, что все обязательные требуемые интерфейсы связаны
func (b *Base) CheckRequiredConnected() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	missing := make([]string, 0)
	for name, r := range b.required {
		if !r.IsOptional() && !r.IsConnected() {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return core.Errorf(core.ErrNotConnected, "%s: required interfaces not connected: %v", b.name, missing)
}

// RunStartup выполняет обработчик Startup с перехватом паники
func (b *Base) RunStartup(ctx context.Context) error {
	return RunHook(ctx, b.name, "startup", b.startup)
}

// RunCleanup выполняет обработчик Cleanup с перехватом паники
func (b *Base) RunCleanup(ctx context.Context) error {
	return RunHook(ctx, b.name, "cleanup", b.cleanup)
}

// Create проводит пассивный компонент через INITIALIZING в READY
func (b *Base) Create(ctx context.Context) error {
	if err := b.lifecycle.Fire(ctx, EventCreate); err != nil {
		return err
	}
	if err := b.CheckRequiredConnected(); err != nil {
		return b.fail(ctx, err)
	}
	if err := b.RunStartup(ctx); err != nil {
		return b.fail(ctx, err)
	}
	return b.lifecycle.Fire(ctx, EventInitialized)
}

// Start переводит компонент в ACTIVE
func (b *Base) Start(ctx context.Context) error {
	return b.lifecycle.Fire(ctx, EventStart)
}

// Kill останавливает компонент: FINISHING, Cleanup, FINISHED.
// Для CONSTRUCTED и терминальных состояний ничего не делает.
func (b *Base) Kill(ctx context.Context) error {
	switch b.State() {
	case Constructed, Finished, Error:
		return nil
	}
	if err := b.lifecycle.Fire(ctx, EventKill); err != nil {
		return err
	}
	cleanupErr := b.RunCleanup(ctx)
	b.CloseMailboxes()
	if cleanupErr != nil {
		return b.fail(ctx, cleanupErr)
	}
	return b.lifecycle.Fire(ctx, EventFinished)
}

// WaitForState ждет указанного состояния
func (b *Base) WaitForState(ctx context.Context, state State) error {
	return b.lifecycle.Wait(ctx, state)
}

func (b *Base) fail(ctx context.Context, err error) error {
	b.logger.Error("component failed", "component", b.name, "state", b.State(), "err", err)
	if ferr := b.lifecycle.Fail(ctx, err); ferr != nil {
		return ferr
	}
	return err
}

// Fail переводит компонент в ERROR; используется задачами и прокси
func (b *Base) Fail(ctx context.Context, err error) error {
	return b.fail(ctx, err)
}

// RunHook выполняет hook, превращая панику в ошибку.
// Ошибки startup получают код STARTUP_FAILED, остальные EXECUTION_FAILED.
func RunHook(ctx context.Context, component, stage string, hook Hook) (err error) {
	if hook == nil {
		return nil
	}
	code := core.ErrExecutionFailed
	if stage == "startup" {
		code = core.ErrStartupFailed
	}
	defer func() {
		if r := recover(); r != nil {
			err = core.Wrap(fmt.Errorf("panic: %v\n%s", r, debug.Stack()), code,
				fmt.Sprintf("%s: %s panicked", component, stage))
		}
	}()
	if err := hook(ctx); err != nil {
		return core.Wrap(err, code, fmt.Sprintf("%s: %s failed", component, stage))
	}
	return nil
}
