package manager

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/akriventsev/taskflow/framework/component"
	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/events"
)

// StateRecorder получает переходы жизненного цикла (реализуется *metrics.Metrics)
type StateRecorder interface {
	StateChanged(ctx context.Context, component, from, to string)
}

// ProxyClient строит локальный прокси компонента другого процесса
type ProxyClient interface {
	NewComponent(ctx context.Context, process, name string) (component.Component, error)
}

type options struct {
	logger    core.Logger
	process   string
	recorder  StateRecorder
	tracer    trace.Tracer
	publisher events.EventPublisher
	proxy     ProxyClient
	timeout   time.Duration
	registry  *Registry
	env       Env
}

func defaultOptions() options {
	return options{
		logger:  core.NopLogger{},
		process: "local",
		timeout: 10 * time.Second,
	}
}

// Option настройка менеджера
type Option func(*options)

// WithLogger задает логгер менеджера
func WithLogger(logger core.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithProcessName задает имя процесса, под которым компоненты видны другим процессам
func WithProcessName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.process = name
		}
	}
}

// WithMetrics включает учет переходов жизненного цикла
func WithMetrics(recorder StateRecorder) Option {
	return func(o *options) { o.recorder = recorder }
}

// WithTracer задает tracer для операций менеджера (nil означает глобальный)
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

// WithEventPublisher задает получателя событий смены состояний и соединений.
// События доставляются асинхронно в порядке возникновения.
func WithEventPublisher(publisher events.EventPublisher) Option {
	return func(o *options) { o.publisher = publisher }
}

// WithProxyClient разрешает соединения с компонентами других процессов
func WithProxyClient(client ProxyClient) Option {
	return func(o *options) { o.proxy = client }
}

// WithDefaultTimeout задает таймаут ожидания для *AndWait и Configure
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithRegistry задает реестр фабрик компонентов для Configure
func WithRegistry(registry *Registry) Option {
	return func(o *options) { o.registry = registry }
}

// WithEnv задает окружение, передаваемое фабрикам компонентов
func WithEnv(env Env) Option {
	return func(o *options) { o.env = env }
}
