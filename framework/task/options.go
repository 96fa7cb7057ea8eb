package task

import (
	"context"
	"time"

	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/interfaces"
)

// Recorder получает статистику циклов (метрики)
type Recorder interface {
	TaskCycle(ctx context.Context, task string, compute time.Duration, overrun bool)
}

type config struct {
	logger        core.Logger
	observer      interfaces.Observer
	recorder      Recorder
	stateSize     int
	lockOSThread  bool
	statsInterval uint64
}

func defaultConfig() config {
	return config{
		logger:       core.NopLogger{},
		stateSize:    core.DefaultStateHistory,
		lockOSThread: true,
	}
}

// Option настройка задачи
type Option func(*config)

// WithLogger задает логгер
func WithLogger(logger core.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver задает наблюдателя вызовов команд
func WithObserver(observer interfaces.Observer) Option {
	return func(c *config) { c.observer = observer }
}

// WithRecorder задает получателя статистики циклов
func WithRecorder(recorder Recorder) Option {
	return func(c *config) { c.recorder = recorder }
}

// WithStateTableSize задает глубину таблицы состояний
func WithStateTableSize(rows int) Option {
	return func(c *config) {
		if rows > 0 {
			c.stateSize = rows
		}
	}
}

// WithoutOSThread не закрепляет горутину задачи за потоком ОС
func WithoutOSThread() Option {
	return func(c *config) { c.lockOSThread = false }
}

// WithStatsLog пишет статистику в лог каждые n циклов
func WithStatsLog(every uint64) Option {
	return func(c *config) { c.statsInterval = every }
}
