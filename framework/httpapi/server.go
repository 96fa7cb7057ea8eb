// Copyright 2024 Taskflow Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpapi предоставляет REST интроспекцию процесса (компоненты, интерфейсы,
// соединения, состояние), управление жизненным циклом и поток событий по WebSocket.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akriventsev/taskflow/framework/component"
	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/directory"
	"github.com/akriventsev/taskflow/framework/interfaces"
	"github.com/akriventsev/taskflow/framework/manager"
	"github.com/akriventsev/taskflow/framework/observability"
)

// Config конфигурация HTTP сервера
type Config struct {
	Addr            string        `yaml:"addr"`
	Mode            string        `yaml:"mode"` // debug | release | test
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// WaitTimeout ожидание состояния для POST /api/lifecycle/:action?wait=true
	WaitTimeout time.Duration `yaml:"wait_timeout"`
	Hub         HubConfig     `yaml:"hub"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		Mode:            gin.ReleaseMode,
		ShutdownTimeout: 30 * time.Second,
		WaitTimeout:     10 * time.Second,
		Hub:             DefaultHubConfig(),
	}
}

// Manager операции менеджера, доступные через API (реализуется *manager.Manager)
type Manager interface {
	ProcessName() string
	Status() map[string]manager.ComponentStatus
	Describe(name string) (component.Description, error)
	Connections() []interfaces.Connection
	CreateAll(ctx context.Context) manager.Report
	StartAll(ctx context.Context) manager.Report
	KillAll(ctx context.Context) manager.Report
	CreateAllAndWait(ctx context.Context, timeout time.Duration) manager.Report
	StartAllAndWait(ctx context.Context, timeout time.Duration) manager.Report
	KillAllAndWait(ctx context.Context, timeout time.Duration) manager.Report
	HealthCheck() observability.HealthCheck
}

// Option настройка сервера
type Option func(*Server)

// WithLogger задает логгер
func WithLogger(logger core.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHub задает Hub потока событий (тот же, что передан менеджеру как публикатор)
func WithHub(hub *Hub) Option {
	return func(s *Server) { s.hub = hub }
}

// WithDebugManager задает реестр проверок здоровья
func WithDebugManager(dm *observability.DebugManager) Option {
	return func(s *Server) { s.debug = dm }
}

// WithGatherer включает /metrics
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithDirectory включает /api/processes
func WithDirectory(dir directory.Directory) Option {
	return func(s *Server) { s.directory = dir }
}

// Server REST/WebSocket сервер интроспекции
type Server struct {
	config    Config
	mgr       Manager
	logger    core.Logger
	hub       *Hub
	debug     *observability.DebugManager
	gatherer  prometheus.Gatherer
	directory directory.Directory
	engine    *gin.Engine

	mu      sync.Mutex
	server  *http.Server
	running bool
}

// New создает сервер и регистрирует маршруты
func New(config Config, mgr Manager, opts ...Option) *Server {
	s := &Server{
		config: config,
		mgr:    mgr,
		logger: core.NopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hub == nil {
		s.hub = NewHub(config.Hub, s.logger)
	}
	if s.debug == nil {
		s.debug = observability.NewDebugManager(observability.DefaultDebugConfig())
		s.debug.RegisterHealthCheck(mgr.HealthCheck())
	}
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}

	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), observability.CorrelationIDMiddleware(), observability.HTTPTracingMiddleware("taskflow-http"))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.debug.HealthCheckHandler())
	s.engine.GET("/readyz", s.debug.ReadinessCheckHandler())
	if s.gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := s.engine.Group("/api")
	api.GET("/components", s.listComponents)
	api.GET("/components/:name", s.getComponent)
	api.GET("/components/:name/status", s.getStatus)
	api.GET("/connections", s.listConnections)
	api.POST("/lifecycle/:action", s.lifecycle)
	api.GET("/processes", s.listProcesses)
	api.GET("/events", gin.WrapH(s.hub))
}

// Handler возвращает http.Handler со всеми маршрутами
func (s *Server) Handler() http.Handler { return s.engine }

// Hub возвращает Hub потока событий
func (s *Server) Hub() *Hub { return s.hub }

// Name возвращает имя сервиса
func (s *Server) Name() string { return "http-api" }

// Start запускает HTTP сервер (реализация core.Lifecycle)
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.running = true

	srv := s.server
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "addr", s.config.Addr, "err", err)
		}
	}()
	s.logger.Info("http api listening", "addr", s.config.Addr)
	return nil
}

// Stop останавливает сервер и отключает клиентов потока событий
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	s.hub.Close()

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// IsRunning проверяет, запущен ли сервер
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) listComponents(c *gin.Context) {
	status := s.mgr.Status()
	list := make([]manager.ComponentStatus, 0, len(status))
	for _, st := range status {
		list = append(list, st)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	c.JSON(http.StatusOK, gin.H{"process": s.mgr.ProcessName(), "components": list})
}

func (s *Server) getComponent(c *gin.Context) {
	d, err := s.mgr.Describe(c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) getStatus(c *gin.Context) {
	name := c.Param("name")
	st, ok := s.mgr.Status()[name]
	if !ok {
		writeError(c, core.Errorf(core.ErrComponentNotFound, "component %s not found", name))
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) listConnections(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"connections": s.mgr.Connections()})
}

func (s *Server) lifecycle(c *gin.Context) {
	ctx := c.Request.Context()
	wait := c.Query("wait") == "true"
	timeout := s.config.WaitTimeout
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			writeError(c, core.Wrap(err, core.ErrInvalidConfig, "invalid timeout"))
			return
		}
		timeout = d
		wait = true
	}

	var report manager.Report
	switch action := c.Param("action"); {
	case action == "create" && wait:
		report = s.mgr.CreateAllAndWait(ctx, timeout)
	case action == "create":
		report = s.mgr.CreateAll(ctx)
	case action == "start" && wait:
		report = s.mgr.StartAllAndWait(ctx, timeout)
	case action == "start":
		report = s.mgr.StartAll(ctx)
	case action == "kill" && wait:
		report = s.mgr.KillAllAndWait(ctx, timeout)
	case action == "kill":
		report = s.mgr.KillAll(ctx)
	default:
		writeError(c, core.Errorf(core.ErrInvalidConfig, "unknown lifecycle action %q", action))
		return
	}

	s.logger.Info("lifecycle requested over http", "action", report.Action, "ok", report.OK(), "wait", wait)
	status := http.StatusOK
	if !report.OK() {
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"ok": report.OK(), "report": report})
}

func (s *Server) listProcesses(c *gin.Context) {
	if s.directory == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "process directory is not configured"})
		return
	}
	entries, err := s.directory.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"processes": entries})
}

// writeError отвечает кодом HTTP по коду ошибки фреймворка
func writeError(c *gin.Context, err error) {
	code := core.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case core.ErrComponentNotFound, core.ErrInterfaceNotFound, core.ErrNotFound:
		status = http.StatusNotFound
	case core.ErrInvalidConfig:
		status = http.StatusBadRequest
	case core.ErrInvalidState, core.ErrAlreadyExists, core.ErrDuplicateName:
		status = http.StatusConflict
	case core.ErrTimeout:
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"code": code, "error": err.Error()})
}

var _ core.Lifecycle = (*Server)(nil)
