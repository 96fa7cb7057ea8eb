package builtin

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/akriventsev/taskflow/framework/component"
	"github.com/akriventsev/taskflow/framework/config"
	"github.com/akriventsev/taskflow/framework/interfaces"
	"github.com/akriventsev/taskflow/framework/manager"
	"github.com/akriventsev/taskflow/framework/statetable"
	"github.com/akriventsev/taskflow/framework/task"
)

// ColumnLast столбец последнего прочитанного значения монитора
const ColumnLast = "Last"

// MonitorParams параметры компонента monitor
type MonitorParams struct {
	// LogEvery пишет сводку в лог каждые n отсчетов; 0 отключает
	LogEvery   uint64 `yaml:"log_every"`
	StateTable int    `yaml:"state_table"`
}

// Summary сводка монитора
type Summary struct {
	Samples  uint64  `json:"samples"`
	Failures uint64  `json:"failures"`
	Events   uint64  `json:"events"`
	Last     float64 `json:"last"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Mean     float64 `json:"mean"`
}

// Monitor периодически читает GetValue через требуемый интерфейс In,
// считает события Changed и предоставляет сводку через интерфейс Summary.
type Monitor struct {
	*task.Task

	params   MonitorParams
	getValue interfaces.FunctionRead[float64]
	column   *statetable.Column[float64]

	mu      sync.Mutex
	summary Summary
	sum     float64
}

// NewMonitorFactory возвращает фабрику типа monitor
func NewMonitorFactory() manager.Factory {
	return func(ctx context.Context, spec config.ComponentSpec, env manager.Env) (component.Component, error) {
		var params MonitorParams
		if err := spec.DecodeParams(&params); err != nil {
			return nil, err
		}
		return NewMonitor(spec.Name, spec.Period, params, taskOptions(env, params.StateTable)...)
	}
}

// NewMonitor создает монитор
func NewMonitor(name string, period time.Duration, params MonitorParams, opts ...task.Option) (*Monitor, error) {
	if err := requirePeriod(TypeMonitor, name, period); err != nil {
		return nil, err
	}

	m := &Monitor{params: params}
	var err error
	if m.Task, err = task.NewPeriodic(name, period, task.RunnerFunc(m.run), opts...); err != nil {
		return nil, err
	}
	if m.column, err = statetable.AddColumn(m.StateTable(), ColumnLast, 0.0); err != nil {
		return nil, err
	}

	in, err := m.AddRequiredInterface(InterfaceIn)
	if err != nil {
		return nil, err
	}
	if m.getValue, err = interfaces.AddFunctionRead[float64](in, CommandGetValue); err != nil {
		return nil, err
	}
	if _, err = interfaces.AddEventHandlerWrite(in, EventChanged, func(ctx context.Context, v float64) error {
		m.mu.Lock()
		m.summary.Events++
		m.mu.Unlock()
		return nil
	}, true); err != nil {
		return nil, err
	}

	out, err := m.AddProvidedInterface(InterfaceSummary)
	if err != nil {
		return nil, err
	}
	if _, err = interfaces.AddCommandRead(out, CommandGetSummary, func(ctx context.Context) (Summary, error) {
		return m.Summary(), nil
	}); err != nil {
		return nil, err
	}
	if _, err = interfaces.AddCommandVoid(out, CommandReset, func(ctx context.Context) error {
		m.mu.Lock()
		m.summary, m.sum = Summary{}, 0
		m.mu.Unlock()
		return nil
	}); err != nil {
		return nil, err
	}
	return m, nil
}

// Summary возвращает копию сводки
func (m *Monitor) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summary
}

func (m *Monitor) run(ctx context.Context) error {
	v, res := m.getValue.Execute(ctx)
	m.mu.Lock()
	if !res.IsOK() {
		m.summary.Failures++
		m.mu.Unlock()
		m.Logger().Debug("monitor read failed", "task", m.Name(), "result", res)
		return nil
	}

	s := &m.summary
	if s.Samples == 0 {
		s.Min, s.Max = v, v
	} else {
		s.Min, s.Max = math.Min(s.Min, v), math.Max(s.Max, v)
	}
	s.Samples++
	s.Last = v
	m.sum += v
	s.Mean = m.sum / float64(s.Samples)
	snapshot := *s
	m.mu.Unlock()

	m.column.Set(v)
	if n := m.params.LogEvery; n > 0 && snapshot.Samples%n == 0 {
		m.Logger().Info("monitor summary", "task", m.Name(), "samples", snapshot.Samples,
			"last", snapshot.Last, "min", snapshot.Min, "max", snapshot.Max, "mean", snapshot.Mean,
			"events", snapshot.Events, "failures", snapshot.Failures)
	}
	return nil
}
