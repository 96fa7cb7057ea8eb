package messagebus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/observability"
	"github.com/akriventsev/taskflow/framework/transport"
)

// InMemoryConfig конфигурация для InMemory адаптера
type InMemoryConfig struct {
	// EnableOrdering синхронная доставка в порядке публикации
	EnableOrdering bool `yaml:"ordering"`
}

// DefaultInMemoryConfig возвращает конфигурацию InMemory по умолчанию
func DefaultInMemoryConfig() InMemoryConfig {
	return InMemoryConfig{EnableOrdering: true}
}

type responder func(ctx context.Context, request *transport.Message) (*transport.Message, error)

// InMemoryAdapter реализация RequestReplyBus в памяти процесса
type InMemoryAdapter struct {
	config      InMemoryConfig
	instr       instrumentation
	subscribers map[string][]transport.MessageHandler
	responders  map[string]responder
	mu          sync.RWMutex
	running     bool
}

// NewInMemoryAdapter создает новый InMemory адаптер
func NewInMemoryAdapter(config InMemoryConfig, opts ...Option) *InMemoryAdapter {
	return &InMemoryAdapter{
		config:      config,
		instr:       newInstrumentation("inmemory", opts),
		subscribers: make(map[string][]transport.MessageHandler),
		responders:  make(map[string]responder),
		running:     true,
	}
}

// Start запускает адаптер (реализация core.Lifecycle)
func (i *InMemoryAdapter) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.running = true
	return nil
}

// Stop останавливает адаптер и снимает все подписки
func (i *InMemoryAdapter) Stop(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.subscribers = make(map[string][]transport.MessageHandler)
	i.responders = make(map[string]responder)
	i.running = false
	return nil
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (i *InMemoryAdapter) IsRunning() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.running
}

// Name возвращает имя адаптера
func (i *InMemoryAdapter) Name() string {
	return "inmemory-adapter"
}

// Publish публикует сообщение в subject
func (i *InMemoryAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	start := time.Now()

	i.mu.RLock()
	if !i.running {
		i.mu.RUnlock()
		err := core.NewError(core.ErrTransport, "inmemory adapter is stopped")
		i.instr.record(ctx, "publish", start, err)
		return err
	}
	var handlers []transport.MessageHandler
	for pattern, h := range i.subscribers {
		if matchSubject(subject, pattern) {
			handlers = append(handlers, h...)
		}
	}
	i.mu.RUnlock()

	msg := &transport.Message{
		Subject: subject,
		Data:    data,
		Headers: copyHeaders(headers),
	}

	for _, handler := range handlers {
		if i.config.EnableOrdering {
			if err := handler(ctx, msg); err != nil {
				i.instr.logger.Warn("subscriber failed", "subject", subject, "err", err)
			}
			continue
		}
		go func(h transport.MessageHandler) {
			if err := h(ctx, msg); err != nil {
				i.instr.logger.Warn("subscriber failed", "subject", subject, "err", err)
			}
		}(handler)
	}

	i.instr.record(ctx, "publish", start, nil)
	return nil
}

// Subscribe подписывается на subject (поддерживаются wildcard * и >)
func (i *InMemoryAdapter) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler) error {
	if subject == "" || handler == nil {
		return core.NewError(core.ErrInvalidConfig, "subject and handler are required")
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.subscribers[subject] = append(i.subscribers[subject], handler)
	return nil
}

// Unsubscribe отписывается от subject, снимая подписчиков и обработчик запросов
func (i *InMemoryAdapter) Unsubscribe(subject string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	delete(i.subscribers, subject)
	delete(i.responders, subject)
	return nil
}

// Request отправляет запрос и ждет ответа
func (i *InMemoryAdapter) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) (*transport.Message, error) {
	start := time.Now()

	i.mu.RLock()
	handler := i.lookupResponder(subject)
	running := i.running
	i.mu.RUnlock()

	if !running {
		err := core.NewError(core.ErrTransport, "inmemory adapter is stopped")
		i.instr.record(ctx, "request", start, err)
		return nil, err
	}
	if handler == nil {
		err := core.Errorf(core.ErrTransport, "no responders for subject %s", subject)
		i.instr.record(ctx, "request", start, err)
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	request := &transport.Message{
		Subject: subject,
		Data:    data,
		Headers: map[string]string{HeaderCorrelationID: correlationID(ctx)},
	}

	type outcome struct {
		reply *transport.Message
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("responder for %s panicked: %v", subject, r)}
			}
		}()
		reply, err := handler(reqCtx, request)
		done <- outcome{reply: reply, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			err := core.Wrap(out.err, core.ErrTransport, "responder failed")
			i.instr.record(ctx, "request", start, err)
			return nil, err
		}
		reply := out.reply
		if reply == nil {
			reply = &transport.Message{Subject: subject}
		}
		if err := replyError(reply); err != nil {
			i.instr.record(ctx, "request", start, err)
			return nil, err
		}
		i.instr.record(ctx, "request", start, nil)
		return reply, nil
	case <-reqCtx.Done():
		err := core.Errorf(core.ErrTimeout, "request to %s timed out after %s", subject, timeout)
		i.instr.record(ctx, "request", start, err)
		return nil, err
	}
}

// Respond регистрирует обработчик запросов для subject
func (i *InMemoryAdapter) Respond(ctx context.Context, subject string, handler func(ctx context.Context, request *transport.Message) (*transport.Message, error)) error {
	if subject == "" || handler == nil {
		return core.NewError(core.ErrInvalidConfig, "subject and handler are required")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if _, exists := i.responders[subject]; exists {
		return core.Errorf(core.ErrAlreadyExists, "responder for %s already registered", subject)
	}
	i.responders[subject] = handler
	return nil
}

// lookupResponder ищет точный обработчик, иначе самый длинный подходящий шаблон
func (i *InMemoryAdapter) lookupResponder(subject string) responder {
	if h, ok := i.responders[subject]; ok {
		return h
	}
	var (
		best    responder
		bestLen = -1
	)
	for pattern, h := range i.responders {
		if matchSubject(subject, pattern) && len(pattern) > bestLen {
			best, bestLen = h, len(pattern)
		}
	}
	return best
}

// SubscriberCount возвращает количество подписчиков для subject
func (i *InMemoryAdapter) SubscriberCount(subject string) int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.subscribers[subject])
}

// matchSubject проверяет соответствие subject с wildcard паттерном
// Поддерживает NATS-style wildcards: * (один токен) и > (все оставшиеся токены)
func matchSubject(subject, pattern string) bool {
	if subject == pattern {
		return true
	}
	subjectParts := strings.Split(subject, ".")
	patternParts := strings.Split(pattern, ".")

	for idx, part := range patternParts {
		if part == ">" {
			return idx < len(subjectParts)
		}
		if idx >= len(subjectParts) {
			return false
		}
		if part != "*" && part != subjectParts[idx] {
			return false
		}
	}
	return len(patternParts) == len(subjectParts)
}

// correlationID берет идентификатор из контекста вызова или создает новый
func correlationID(ctx context.Context) string {
	if id := observability.ExtractCorrelationID(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}

var _ transport.RequestReplyBus = (*InMemoryAdapter)(nil)
