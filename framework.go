// Package taskflow собирает процесс компонентов из файла развертывания.
//
// Process связывает менеджер компонентов с окружением: шиной сообщений для
// proxy, каталогом процессов, HTTP интроспекцией, метриками и трассировкой.
//
// Пример использования:
//
//	cfg, err := config.Load("deployment.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	p, err := taskflow.NewProcess(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := p.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Stop(ctx)
package taskflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/akriventsev/taskflow/framework/adapters/messagebus"
	"github.com/akriventsev/taskflow/framework/builtin"
	"github.com/akriventsev/taskflow/framework/config"
	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/directory"
	"github.com/akriventsev/taskflow/framework/events"
	"github.com/akriventsev/taskflow/framework/httpapi"
	"github.com/akriventsev/taskflow/framework/logging"
	"github.com/akriventsev/taskflow/framework/manager"
	"github.com/akriventsev/taskflow/framework/metrics"
	"github.com/akriventsev/taskflow/framework/observability"
	"github.com/akriventsev/taskflow/framework/proxy"
	"github.com/akriventsev/taskflow/framework/transport"
)

// Version представляет версию фреймворка
const (
	Version = "1.0.0"
	Major   = 1
	Minor   = 0
	Patch   = 0
)

// Metadata содержит метаданные о фреймворке
type Metadata struct {
	Name        string
	Version     string
	Description string
	License     string
}

// GetMetadata возвращает метаданные фреймворка
func GetMetadata() Metadata {
	return Metadata{
		Name:        "taskflow",
		Version:     Version,
		Description: "Component framework with provided/required interfaces, periodic tasks and remote proxies",
		License:     "MIT",
	}
}

type processOptions struct {
	logger     core.Logger
	registry   *manager.Registry
	prometheus *prometheus.Registry
}

// Option настройка процесса
type Option func(*processOptions)

// WithLogger задает логгер вместо создаваемого из секции logging
func WithLogger(logger core.Logger) Option {
	return func(o *processOptions) { o.logger = logger }
}

// WithRegistry задает реестр фабрик компонентов (по умолчанию встроенные типы)
func WithRegistry(registry *manager.Registry) Option {
	return func(o *processOptions) { o.registry = registry }
}

// WithPrometheusRegistry задает реестр prometheus для метрик процесса
func WithPrometheusRegistry(registry *prometheus.Registry) Option {
	return func(o *processOptions) { o.prometheus = registry }
}

// Process процесс компонентов и его окружение
type Process struct {
	cfg    *config.Deployment
	logger core.Logger

	prometheus *prometheus.Registry
	meters     *sdkmetric.MeterProvider
	metrics    *metrics.Metrics
	tracing    *observability.TracingManager

	bus       transport.RequestReplyBus
	hub       *httpapi.Hub
	manager   *manager.Manager
	server    *proxy.Server
	directory directory.Directory
	keeper    *directory.Keeper
	http      *httpapi.Server

	mu      sync.Mutex
	running bool
}

// NewProcess строит окружение процесса; компоненты создаются в Start
func NewProcess(ctx context.Context, cfg *config.Deployment, opts ...Option) (*Process, error) {
	if cfg == nil {
		return nil, core.NewError(core.ErrInvalidConfig, "deployment is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := processOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		l, err := logging.New(cfg.Logging)
		if err != nil {
			return nil, err
		}
		o.logger = l
	}
	if o.registry == nil {
		o.registry = builtin.NewRegistry()
	}
	if o.prometheus == nil {
		o.prometheus = prometheus.NewRegistry()
	}

	p := &Process{cfg: cfg, logger: logging.With(o.logger, "process", cfg.Process), prometheus: o.prometheus}

	var err error
	cfg.Metrics.Process = cfg.Process
	if p.meters, err = metrics.SetupMetrics(&cfg.Metrics, p.prometheus); err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "metrics")
	}
	if p.metrics, err = metrics.NewMetrics(); err != nil {
		return nil, err
	}
	cfg.Tracing.ServiceVersion = Version
	cfg.Tracing.Process = cfg.Process
	if p.tracing, err = observability.NewTracingManager(cfg.Tracing); err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "tracing")
	}

	p.bus, err = messagebus.NewMessageBusFactory().FromConfig(cfg.Bus,
		messagebus.WithLogger(p.logger), messagebus.WithRecorder(p.metrics))
	if err != nil {
		return nil, core.Wrap(err, core.ErrTransport, "message bus")
	}

	codec, err := proxy.NewCodec(cfg.Proxy.Codec)
	if err != nil {
		return nil, err
	}
	proxyOpts := []proxy.Option{
		proxy.WithCodec(codec),
		proxy.WithPrefix(cfg.Proxy.Prefix),
		proxy.WithTimeout(cfg.Proxy.Timeout),
		proxy.WithLogger(p.logger),
		proxy.WithTracer(p.tracing.Tracer()),
	}

	p.hub = httpapi.NewHub(httpapi.DefaultHubConfig(), p.logger)
	publishers := events.MultiPublisher{p.hub}
	if cfg.Proxy.Events {
		publishers = append(publishers, events.NewBusEventPublisher(p.bus, cfg.Proxy.Prefix))
	}

	mgrOpts := []manager.Option{
		manager.WithLogger(p.logger),
		manager.WithProcessName(cfg.Process),
		manager.WithMetrics(p.metrics),
		manager.WithTracer(p.tracing.Tracer()),
		manager.WithEventPublisher(publishers),
		manager.WithDefaultTimeout(cfg.Timeout),
		manager.WithRegistry(o.registry),
		manager.WithEnv(manager.Env{
			Logger:   p.logger,
			Observer: p.metrics,
			Recorder: p.metrics,
			Process:  cfg.Process,
		}),
	}
	if cfg.Proxy.Enabled {
		mgrOpts = append(mgrOpts, manager.WithProxyClient(proxy.NewClient(p.bus, proxyOpts...)))
		p.server = proxy.NewServer(p.bus, cfg.Process, proxyOpts...)
	}
	p.manager = manager.New(mgrOpts...)

	if p.directory, err = directory.New(cfg.Directory); err != nil {
		return nil, err
	}
	interval := cfg.Directory.TTL / 3
	if interval <= 0 {
		interval = 10 * time.Second
	}
	p.keeper = directory.NewKeeper(p.directory, p.entry, interval, p.logger)

	if cfg.HTTP.Enabled {
		debug := observability.NewDebugManager(cfg.Debug)
		debug.RegisterHealthCheck(p.manager.HealthCheck())
		debug.RegisterReadinessCheck(observability.NewFuncHealthCheck("process", func(ctx context.Context) error {
			if !p.IsRunning() {
				return core.NewError(core.ErrInvalidState, "process is not running")
			}
			return nil
		}))

		httpCfg := httpapi.DefaultConfig()
		httpCfg.Addr = cfg.HTTP.Addr
		httpCfg.Mode = cfg.HTTP.Mode
		httpCfg.WaitTimeout = cfg.Timeout
		p.http = httpapi.New(httpCfg, p.manager,
			httpapi.WithLogger(p.logger),
			httpapi.WithHub(p.hub),
			httpapi.WithDebugManager(debug),
			httpapi.WithGatherer(p.prometheus),
			httpapi.WithDirectory(p.directory))
	}
	return p, nil
}

// Name возвращает имя процесса
func (p *Process) Name() string { return p.cfg.Process }

// Manager возвращает менеджер компонентов
func (p *Process) Manager() *manager.Manager { return p.manager }

// Bus возвращает шину сообщений
func (p *Process) Bus() transport.RequestReplyBus { return p.bus }

// Hub возвращает поток событий
func (p *Process) Hub() *httpapi.Hub { return p.hub }

// Directory возвращает каталог процессов
func (p *Process) Directory() directory.Directory { return p.directory }

// Gatherer возвращает реестр метрик процесса
func (p *Process) Gatherer() prometheus.Gatherer { return p.prometheus }

// IsRunning сообщает, запущен ли процесс
func (p *Process) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Process) entry() directory.Entry {
	e := directory.NewEntry(p.cfg.Process)
	e.Bus = p.cfg.Bus.Type
	e.Components = p.manager.GetNamesOfComponents()
	if p.server != nil {
		e.Exports = p.server.Exports()
	}
	if p.http != nil {
		e.HTTPAddr = p.cfg.HTTP.Addr
	}
	return e
}

// Start поднимает окружение, строит компоненты и соединения, затем создает и запускает все компоненты
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return core.Errorf(core.ErrInvalidState, "process %s is already running", p.cfg.Process)
	}
	p.running = true
	p.mu.Unlock()

	if err := p.start(ctx); err != nil {
		p.logger.Error("process startup failed", "err", err)
		_ = p.Stop(ctx)
		return err
	}
	p.logger.Info("process started", "components", len(p.manager.GetNamesOfComponents()),
		"connections", len(p.manager.Connections()))
	return nil
}

func (p *Process) start(ctx context.Context) error {
	if err := p.tracing.Start(ctx); err != nil {
		return err
	}
	if lc, ok := p.bus.(core.Lifecycle); ok {
		if err := lc.Start(ctx); err != nil {
			return core.Wrap(err, core.ErrTransport, "failed to start message bus")
		}
	}

	if err := p.manager.Configure(ctx, p.cfg); err != nil {
		return err
	}
	if err := p.export(ctx); err != nil {
		return err
	}
	if err := p.keeper.Start(ctx); err != nil {
		return err
	}
	if p.http != nil {
		if err := p.http.Start(ctx); err != nil {
			return err
		}
	}

	if err := p.manager.CreateAllAndWait(ctx, p.cfg.Timeout).Err(); err != nil {
		return core.Wrap(err, core.ErrStartupFailed, "create")
	}
	if err := p.manager.StartAllAndWait(ctx, p.cfg.Timeout).Err(); err != nil {
		return core.Wrap(err, core.ErrStartupFailed, "start")
	}
	return nil
}

// export публикует компоненты в шину; пустой список экспорта означает все локальные компоненты
func (p *Process) export(ctx context.Context) error {
	if p.server == nil {
		return nil
	}
	names := p.cfg.Proxy.Exports
	if len(names) == 0 {
		names = p.manager.GetNamesOfComponents()
	}
	for _, name := range names {
		c, ok := p.manager.GetComponent(name)
		if !ok {
			return core.Errorf(core.ErrComponentNotFound, "export %s: no such component", name)
		}
		if c.Type() == core.ComponentTypeProxy {
			continue
		}
		if err := p.server.Export(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// Stop останавливает компоненты и окружение в обратном порядке. Повторный вызов ничего не делает.
func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	var errs []error
	if err := p.manager.KillAllAndWait(ctx, p.cfg.Timeout).Err(); err != nil {
		errs = append(errs, err)
	}
	if err := p.manager.Cleanup(ctx); err != nil {
		errs = append(errs, err)
	}
	if p.server != nil {
		if err := p.server.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if p.http != nil && p.http.IsRunning() {
		if err := p.http.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.hub.Close()
	if err := p.keeper.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := p.directory.Close(); err != nil {
		errs = append(errs, err)
	}
	if lc, ok := p.bus.(core.Lifecycle); ok && lc.IsRunning() {
		if err := lc.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.tracing.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := metrics.ShutdownMetrics(ctx, p.meters); err != nil {
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	if err != nil {
		p.logger.Warn("process stopped with errors", "err", err)
	} else {
		p.logger.Info("process stopped")
	}
	return err
}

var _ core.Lifecycle = (*Process)(nil)
