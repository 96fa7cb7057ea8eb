// Package messagebus предоставляет адаптеры шин сообщений для proxy и публикации событий:
// in-memory, NATS, Redis Streams, Kafka и gRPC.
package messagebus

import (
	"context"
	"time"

	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/transport"
)

// Заголовки служебных сообщений request/reply
const (
	HeaderCorrelationID = "correlation_id"
	HeaderReplyTo       = "reply_to"
	HeaderError         = "error"
)

// Recorder принимает метрики операций шины (реализуется *metrics.Metrics)
type Recorder interface {
	RecordTransport(ctx context.Context, bus, operation string, elapsed time.Duration, err error)
}

// Option настраивает адаптер
type Option func(*instrumentation)

// WithLogger устанавливает логгер адаптера
func WithLogger(logger core.Logger) Option {
	return func(i *instrumentation) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithRecorder включает запись метрик
func WithRecorder(recorder Recorder) Option {
	return func(i *instrumentation) {
		i.recorder = recorder
	}
}

type instrumentation struct {
	bus      string
	logger   core.Logger
	recorder Recorder
}

func newInstrumentation(bus string, opts []Option) instrumentation {
	i := instrumentation{bus: bus, logger: core.NopLogger{}}
	for _, opt := range opts {
		opt(&i)
	}
	return i
}

func (i *instrumentation) record(ctx context.Context, operation string, start time.Time, err error) {
	if i.recorder != nil {
		i.recorder.RecordTransport(ctx, i.bus, operation, time.Since(start), err)
	}
	if err != nil {
		i.logger.Warn("message bus operation failed", "bus", i.bus, "operation", operation, "err", err)
	}
}

// replyError извлекает ошибку обработчика из ответа
func replyError(reply *transport.Message) error {
	if reply == nil || reply.Headers == nil {
		return nil
	}
	if msg, ok := reply.Headers[HeaderError]; ok && msg != "" {
		return core.NewError(core.ErrTransport, "responder failed: "+msg)
	}
	return nil
}

// errorReply формирует ответ с ошибкой обработчика
func errorReply(subject string, err error) *transport.Message {
	return &transport.Message{
		Subject: subject,
		Headers: map[string]string{HeaderError: err.Error()},
	}
}

func copyHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers)+2)
	for k, v := range headers {
		out[k] = v
	}
	return out
}
