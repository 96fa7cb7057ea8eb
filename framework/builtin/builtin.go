// Package builtin содержит типы компонентов, доступные в файле развертывания
// без написания кода: value, generator, monitor и collector.
package builtin

import (
	"time"

	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/manager"
	"github.com/akriventsev/taskflow/framework/task"
)

// Типы компонентов
const (
	TypeValue     = "value"
	TypeGenerator = "generator"
	TypeMonitor   = "monitor"
	TypeCollector = "collector"
)

// Имена интерфейсов и команд
const (
	InterfaceOut     = "Out"
	InterfaceIn      = "In"
	InterfaceSink    = "Sink"
	InterfaceSummary = "Summary"

	CommandSetValue   = "SetValue"
	CommandGetValue   = "GetValue"
	CommandGetLatest  = "GetLatest"
	CommandScale      = "Scale"
	CommandReset      = "Reset"
	CommandGetSummary = "GetSummary"
	CommandSetAmplitude = "SetAmplitude"
	EventChanged      = "Changed"

	ColumnValue = "Value"
)

// Register регистрирует встроенные типы в реестре
func Register(r *manager.Registry) error {
	factories := map[string]manager.Factory{
		TypeValue:     NewValueFactory(),
		TypeGenerator: NewGeneratorFactory(),
		TypeMonitor:   NewMonitorFactory(),
		TypeCollector: NewCollectorFactory(),
	}
	for _, typ := range []string{TypeValue, TypeGenerator, TypeMonitor, TypeCollector} {
		if err := r.Register(typ, factories[typ]); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry создает реестр со встроенными типами
func NewRegistry() *manager.Registry {
	r := manager.NewRegistry()
	if err := Register(r); err != nil {
		panic(err)
	}
	return r
}

// taskOptions переносит окружение процесса в опции задачи
func taskOptions(env manager.Env, stateSize int) []task.Option {
	opts := []task.Option{task.WithLogger(env.Logger)}
	if env.Observer != nil {
		opts = append(opts, task.WithObserver(env.Observer))
	}
	if env.Recorder != nil {
		opts = append(opts, task.WithRecorder(env.Recorder))
	}
	if stateSize > 0 {
		opts = append(opts, task.WithStateTableSize(stateSize))
	}
	return opts
}

func requirePeriod(typ, name string, period time.Duration) error {
	if period <= 0 {
		return core.Errorf(core.ErrInvalidConfig, "%s %s: period is required", typ, name)
	}
	return nil
}
