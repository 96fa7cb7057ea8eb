// Package mailbox предоставляет ограниченную FIFO очередь вызовов команд,
// через которую вызовы из чужих горутин доставляются в поток владельца.
package mailbox

import (
	"context"
	"sync"
	"time"

	"github.com/akriventsev/taskflow/framework/command"
)

// Observer получает изменения глубины очереди (метрики)
type Observer interface {
	MailboxDepth(ctx context.Context, mailbox string, delta int64)
}

// Invocation отложенный вызов команды
type Invocation struct {
	Command  *command.Command
	Arg      any
	Future   *Future // nil для fire-and-forget
	Ctx      context.Context
	Enqueued time.Time
}

// Mailbox ограниченная очередь с одним потребителем
type Mailbox struct {
	name     string
	queue    chan *Invocation
	signal   chan struct{}
	observer Observer

	mu     sync.RWMutex
	closed bool
}

// Option настройка mailbox
type Option func(*Mailbox)

// WithSignal задает канал пробуждения владельца; отправка не блокирующая
func WithSignal(signal chan struct{}) Option {
	return func(m *Mailbox) {
		m.signal = signal
	}
}

// WithObserver задает наблюдателя глубины очереди
func WithObserver(observer Observer) Option {
	return func(m *Mailbox) {
		m.observer = observer
	}
}

// New создает mailbox емкостью capacity
func New(name string, capacity int, opts ...Option) *Mailbox {
	if capacity <= 0 {
		capacity = 1
	}
	m := &Mailbox{
		name:  name,
		queue: make(chan *Invocation, capacity),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name возвращает имя mailbox
func (m *Mailbox) Name() string { return m.name }

// Len возвращает число ожидающих вызовов
func (m *Mailbox) Len() int { return len(m.queue) }

// Cap возвращает емкость
func (m *Mailbox) Cap() int { return cap(m.queue) }

// IsClosed сообщает, закрыт ли mailbox
func (m *Mailbox) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Post ставит вызов в очередь без блокировки.
// Возвращает Queued, QueueFull или FunctionUnavailable для закрытого mailbox.
func (m *Mailbox) Post(inv *Invocation) command.Result {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return command.FunctionUnavailable
	}
	if inv.Ctx == nil {
		inv.Ctx = context.Background()
	}
	inv.Enqueued = time.Now()

	select {
	case m.queue <- inv:
	default:
		return command.QueueFull
	}

	if m.observer != nil {
		m.observer.MailboxDepth(inv.Ctx, m.name, 1)
	}
	if m.signal != nil {
		select {
		case m.signal <- struct{}{}:
		default:
		}
	}
	return command.Queued
}

// ProcessOne выполняет один вызов, если он есть
func (m *Mailbox) ProcessOne() bool {
	select {
	case inv := <-m.queue:
		m.run(inv)
		return true
	default:
		return false
	}
}

// ProcessAll выполняет вызовы, находившиеся в очереди на момент вызова.
// Вызовы, поставленные во время обработки, ждут следующего цикла.
func (m *Mailbox) ProcessAll() int {
	pending := len(m.queue)
	processed := 0
	for processed < pending && m.ProcessOne() {
		processed++
	}
	return processed
}

// Close закрывает mailbox и завершает ожидающие вызовы с FunctionUnavailable
func (m *Mailbox) Close() int {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0
	}
	m.closed = true
	m.mu.Unlock()

	dropped := 0
	for {
		select {
		case inv := <-m.queue:
			dropped++
			m.done(inv)
			if inv.Future != nil {
				inv.Future.complete(nil, command.FunctionUnavailable)
			}
		default:
			return dropped
		}
	}
}

func (m *Mailbox) run(inv *Invocation) {
	m.done(inv)
	// Отмена контекста вызывающего не отменяет уже принятый вызов
	out, res := inv.Command.Execute(context.WithoutCancel(inv.Ctx), inv.Arg)
	if inv.Future != nil {
		inv.Future.complete(out, res)
	}
}

func (m *Mailbox) done(inv *Invocation) {
	if m.observer != nil {
		m.observer.MailboxDepth(inv.Ctx, m.name, -1)
	}
}
