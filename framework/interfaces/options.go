// Package interfaces предоставляет предоставленные (Provided) и требуемые (Required) интерфейсы
// компонентов и атомарное связывание между ними.
package interfaces

import (
	"context"
	"time"

	"github.com/akriventsev/taskflow/framework/command"
	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/mailbox"
)

// Owner компонент, которому принадлежит интерфейс
type Owner interface {
	Name() string
	// Executor идентификатор потока исполнения владельца; пустая строка для пассивных компонентов
	Executor() string
}

// Observer получает результаты вызовов и глубину очередей
type Observer interface {
	mailbox.Observer
	CommandExecuted(ctx context.Context, component, iface, name string, result command.Result, elapsed time.Duration)
}

type settings struct {
	queueing    core.Queueing
	mailboxSize int
	signal      chan struct{}
	observer    Observer
	logger      core.Logger
	optional    bool
	timeout     time.Duration
}

func newSettings(opts []Option) settings {
	s := settings{
		mailboxSize: core.DefaultMailboxSize,
		logger:      core.NopLogger{},
		timeout:     core.DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Option настройка интерфейса
type Option func(*settings)

// WithQueueing задает политику очереди предоставленного интерфейса
func WithQueueing(q core.Queueing) Option {
	return func(s *settings) { s.queueing = q }
}

// WithMailboxSize задает емкость mailbox на каждое соединение
func WithMailboxSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.mailboxSize = n
		}
	}
}

// WithSignal задает канал пробуждения потока владельца
func WithSignal(signal chan struct{}) Option {
	return func(s *settings) { s.signal = signal }
}

// WithObserver задает наблюдателя (метрики)
func WithObserver(o Observer) Option {
	return func(s *settings) { s.observer = o }
}

// WithLogger задает логгер
func WithLogger(l core.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCallTimeout задает таймаут блокирующих вызовов по умолчанию
func WithCallTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Optional помечает требуемый интерфейс как необязательный для запуска задачи
func Optional() Option {
	return func(s *settings) { s.optional = true }
}

// CallOption настройка отдельного вызова функции
type CallOption func(*callOptions)

type callOptions struct {
	blocking bool
	timeout  time.Duration
}

// Blocking ждать завершения вызова в потоке владельца
func Blocking() CallOption {
	return func(o *callOptions) { o.blocking = true }
}

// NonBlocking вернуться сразу после постановки в очередь (Void и Write)
func NonBlocking() CallOption {
	return func(o *callOptions) { o.blocking = false }
}

// WithTimeout задает таймаут ожидания результата
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

func qualified(owner Owner, name string) string {
	if owner == nil {
		return name
	}
	return owner.Name() + "." + name
}
