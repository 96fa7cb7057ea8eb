package proxy

import (
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/transport"
)

// DefaultPrefix префикс subject по умолчанию
const DefaultPrefix = "taskflow"

type options struct {
	prefix  string
	codec   Codec
	timeout time.Duration
	logger  core.Logger
	tracer  trace.Tracer
	retry   transport.RetryPolicy
}

func newOptions(opts []Option) options {
	o := options{
		prefix:  DefaultPrefix,
		codec:   JSONCodec{},
		timeout: 5 * time.Second,
		logger:  core.NopLogger{},
		retry: &transport.ExponentialBackoffRetryPolicy{
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
			MaxAttempts:  3,
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option настройка сервера и клиента
type Option func(*options)

// WithPrefix задает префикс subject
func WithPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithCodec задает кодек конвертов; у сервера и клиента он должен совпадать
func WithCodec(codec Codec) Option {
	return func(o *options) {
		if codec != nil {
			o.codec = codec
		}
	}
}

// WithTimeout задает таймаут удаленного вызова
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithLogger задает логгер
func WithLogger(logger core.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTracer задает tracer (nil означает глобальный)
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

// WithRetryPolicy задает политику повторов запроса описания компонента
func WithRetryPolicy(policy transport.RetryPolicy) Option {
	return func(o *options) {
		if policy != nil {
			o.retry = policy
		}
	}
}

// Name имя локального двойника удаленного компонента
func Name(process, component string) string {
	return process + ":" + component
}

// DescribeSubject subject запроса описания компонента
func DescribeSubject(prefix, process, component string) string {
	return join(prefix, process, component, "describe")
}

// CommandSubject subject вызова команд интерфейса
func CommandSubject(prefix, process, component, iface string) string {
	return join(prefix, process, component, iface)
}

// EventSubject subject событий интерфейса
func EventSubject(prefix, process, component, iface, event string) string {
	return join(prefix, process, component, iface, "event", event)
}

func join(parts ...string) string {
	return strings.Join(parts, ".")
}
