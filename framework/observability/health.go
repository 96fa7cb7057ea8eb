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

package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"runtime"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Статусы проверок
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// DebugConfig конфигурация отладочных утилит
type DebugConfig struct {
	EnablePprof  bool          `yaml:"pprof"`
	PprofAddr    string        `yaml:"pprof_addr"`
	CheckTimeout time.Duration `yaml:"check_timeout"`
}

// DefaultDebugConfig возвращает конфигурацию по умолчанию
func DefaultDebugConfig() DebugConfig {
	return DebugConfig{
		PprofAddr:    ":6060",
		CheckTimeout: 5 * time.Second,
	}
}

// HealthCheck проверка здоровья
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckResult результат отдельной проверки
type CheckResult struct {
	Status   string        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// HealthCheckResult сводный результат
type HealthCheckResult struct {
	Status    string                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp time.Time              `json:"timestamp"`
}

// Healthy сообщает, прошли ли все проверки
func (r HealthCheckResult) Healthy() bool {
	return r.Status == StatusHealthy
}

// DebugManager реестр проверок liveness/readiness и опциональный pprof сервер
type DebugManager struct {
	config DebugConfig

	mu        sync.RWMutex
	liveness  []HealthCheck
	readiness []HealthCheck
	pprof     *http.Server
	running   bool
}

// NewDebugManager создает DebugManager
func NewDebugManager(config DebugConfig) *DebugManager {
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = DefaultDebugConfig().CheckTimeout
	}
	return &DebugManager{config: config}
}

// Start поднимает pprof сервер, если он включен
func (dm *DebugManager) Start(ctx context.Context) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.running {
		return nil
	}
	dm.running = true
	if !dm.config.EnablePprof {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	srv := &http.Server{Addr: dm.config.PprofAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	dm.pprof = srv
	go func() {
		_ = srv.ListenAndServe()
	}()
	return nil
}

// Stop останавливает pprof сервер
func (dm *DebugManager) Stop(ctx context.Context) error {
	dm.mu.Lock()
	srv := dm.pprof
	dm.pprof = nil
	dm.running = false
	dm.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// IsRunning проверяет статус
func (dm *DebugManager) IsRunning() bool {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.running
}

// RegisterHealthCheck регистрирует проверку liveness
func (dm *DebugManager) RegisterHealthCheck(check HealthCheck) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.liveness = append(dm.liveness, check)
}

// RegisterReadinessCheck регистрирует проверку готовности
func (dm *DebugManager) RegisterReadinessCheck(check HealthCheck) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.readiness = append(dm.readiness, check)
}

// RunHealthChecks выполняет проверки liveness параллельно
func (dm *DebugManager) RunHealthChecks(ctx context.Context) HealthCheckResult {
	dm.mu.RLock()
	checks := append([]HealthCheck(nil), dm.liveness...)
	dm.mu.RUnlock()
	return dm.run(ctx, checks)
}

// RunReadinessChecks выполняет проверки готовности параллельно
func (dm *DebugManager) RunReadinessChecks(ctx context.Context) HealthCheckResult {
	dm.mu.RLock()
	checks := append([]HealthCheck(nil), dm.readiness...)
	dm.mu.RUnlock()
	return dm.run(ctx, checks)
}

func (dm *DebugManager) run(ctx context.Context, checks []HealthCheck) HealthCheckResult {
	ctx, cancel := context.WithTimeout(ctx, dm.config.CheckTimeout)
	defer cancel()

	result := HealthCheckResult{
		Status:    StatusHealthy,
		Checks:    make(map[string]CheckResult, len(checks)),
		Timestamp: time.Now(),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, check := range checks {
		wg.Add(1)
		go func(check HealthCheck) {
			defer wg.Done()
			start := time.Now()
			err := check.Check(ctx)
			cr := CheckResult{Status: StatusHealthy, Duration: time.Since(start)}
			if err != nil {
				cr.Status = StatusUnhealthy
				cr.Message = err.Error()
			}

			mu.Lock()
			defer mu.Unlock()
			result.Checks[check.Name()] = cr
			if err != nil {
				result.Status = StatusUnhealthy
			}
		}(check)
	}
	wg.Wait()
	return result
}

// HealthCheckHandler возвращает Gin handler liveness
func (dm *DebugManager) HealthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		respond(c, dm.RunHealthChecks(c.Request.Context()))
	}
}

// ReadinessCheckHandler возвращает Gin handler readiness
func (dm *DebugManager) ReadinessCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		respond(c, dm.RunReadinessChecks(c.Request.Context()))
	}
}

func respond(c *gin.Context, result HealthCheckResult) {
	code := http.StatusOK
	if !result.Healthy() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, result)
}

// FuncHealthCheck проверка на основе функции (шина, менеджер, хранилище)
type FuncHealthCheck struct {
	name  string
	check func(ctx context.Context) error
}

// NewFuncHealthCheck создает проверку
func NewFuncHealthCheck(name string, check func(ctx context.Context) error) *FuncHealthCheck {
	return &FuncHealthCheck{name: name, check: check}
}

// Name возвращает имя проверки
func (h *FuncHealthCheck) Name() string { return h.name }

// Check выполняет проверку
func (h *FuncHealthCheck) Check(ctx context.Context) error {
	if h.check == nil {
		return fmt.Errorf("check %s has no function", h.name)
	}
	return h.check(ctx)
}

// NewGoroutineHealthCheck сигнализирует об утечке горутин: каждая задача держит одну
func NewGoroutineHealthCheck(limit int) *FuncHealthCheck {
	return NewFuncHealthCheck("goroutines", func(ctx context.Context) error {
		if n := runtime.NumGoroutine(); limit > 0 && n > limit {
			return fmt.Errorf("%d goroutines running, limit %d", n, limit)
		}
		return nil
	})
}
