// Package core предоставляет базовые интерфейсы и типы для всех компонентов фреймворка.
package core

import "context"

// Named базовый интерфейс всего, что регистрируется по имени
type Named interface {
	// Name возвращает имя
	Name() string
}

// Lifecycle интерфейс для вспомогательных сервисов (HTTP сервер, коллектор, шины)
type Lifecycle interface {
	// Start запускает сервис
	Start(ctx context.Context) error
	// Stop останавливает сервис
	Stop(ctx context.Context) error
	// IsRunning проверяет, запущен ли сервис
	IsRunning() bool
}

// Logger структурированный логгер фреймворка.
// Сигнатура совпадает с *log.Logger из charmbracelet/log.
type Logger interface {
	Debug(msg interface{}, keyvals ...interface{})
	Info(msg interface{}, keyvals ...interface{})
	Warn(msg interface{}, keyvals ...interface{})
	Error(msg interface{}, keyvals ...interface{})
}

// NopLogger логгер, отбрасывающий все сообщения
type NopLogger struct{}

func (NopLogger) Debug(interface{}, ...interface{}) {}
func (NopLogger) Info(interface{}, ...interface{})  {}
func (NopLogger) Warn(interface{}, ...interface{})  {}
func (NopLogger) Error(interface{}, ...interface{}) {}
