// Package transport предоставляет абстракции шины сообщений, через которую
// процессы обмениваются вызовами команд proxy и событиями.
package transport

import (
	"context"
	"math"
	"time"
)

// Message представляет сообщение в шине
type Message struct {
	Subject string
	Data    []byte
	Headers map[string]string
}

// MessageHandler обработчик сообщений
type MessageHandler func(ctx context.Context, msg *Message) error

// Subscriber интерфейс для подписки на сообщения
type Subscriber interface {
	// Subscribe подписывается на subject
	Subscribe(ctx context.Context, subject string, handler MessageHandler) error
	// Unsubscribe отписывается от subject
	Unsubscribe(subject string) error
}

// Publisher интерфейс для публикации сообщений
type Publisher interface {
	// Publish публикует сообщение в subject
	Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error
}

// RequestReply интерфейс для request-reply паттерна
type RequestReply interface {
	// Request отправляет запрос и ждет ответ
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) (*Message, error)
	// Respond регистрирует обработчик запросов subject
	Respond(ctx context.Context, subject string, handler func(ctx context.Context, request *Message) (*Message, error)) error
}

// MessageBus объединяет возможности публикации и подписки
type MessageBus interface {
	Publisher
	Subscriber
}

// RequestReplyBus объединяет MessageBus и RequestReply
type RequestReplyBus interface {
	MessageBus
	RequestReply
}

// RetryPolicy политика повторов запросов
type RetryPolicy interface {
	// ShouldRetry определяет, нужно ли повторить попытку
	ShouldRetry(attempt int, err error) bool
	// GetDelay возвращает задержку перед повтором
	GetDelay(attempt int) time.Duration
	// GetMaxAttempts возвращает максимальное количество попыток
	GetMaxAttempts() int
}

// ExponentialBackoffRetryPolicy политика повторов с экспоненциальной задержкой:
// InitialDelay * Multiplier^(attempt-1), но не больше MaxDelay
type ExponentialBackoffRetryPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int
}

// ShouldRetry определяет, нужно ли повторить попытку
func (p *ExponentialBackoffRetryPolicy) ShouldRetry(attempt int, err error) bool {
	return attempt < p.MaxAttempts && err != nil
}

// GetDelay возвращает задержку перед повтором
func (p *ExponentialBackoffRetryPolicy) GetDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// GetMaxAttempts возвращает максимальное количество попыток
func (p *ExponentialBackoffRetryPolicy) GetMaxAttempts() int {
	return p.MaxAttempts
}
