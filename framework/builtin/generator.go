package builtin

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/akriventsev/taskflow/framework/component"
	"github.com/akriventsev/taskflow/framework/config"
	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/interfaces"
	"github.com/akriventsev/taskflow/framework/manager"
	"github.com/akriventsev/taskflow/framework/statetable"
	"github.com/akriventsev/taskflow/framework/task"
)

// Формы сигнала
const (
	WaveSine     = "sine"
	WaveRamp     = "ramp"
	WaveSquare   = "square"
	WaveConstant = "constant"
)

// GeneratorParams параметры компонента generator
type GeneratorParams struct {
	Waveform   string  `yaml:"waveform"`
	Amplitude  float64 `yaml:"amplitude"`
	Frequency  float64 `yaml:"frequency"` // Гц
	Offset     float64 `yaml:"offset"`
	StateTable int     `yaml:"state_table"`
}

// DefaultGeneratorParams возвращает параметры по умолчанию
func DefaultGeneratorParams() GeneratorParams {
	return GeneratorParams{Waveform: WaveSine, Amplitude: 1, Frequency: 1}
}

// Wave возвращает функцию формы сигнала от времени в секундах с амплитудой 1 и без смещения
func Wave(waveform string, frequency float64) (func(t float64) float64, error) {
	if frequency < 0 {
		return nil, core.Errorf(core.ErrInvalidConfig, "negative frequency %v", frequency)
	}
	switch waveform {
	case WaveSine:
		return func(t float64) float64 { return math.Sin(2 * math.Pi * frequency * t) }, nil
	case WaveRamp:
		return func(t float64) float64 {
			_, frac := math.Modf(frequency * t)
			return frac
		}, nil
	case WaveSquare:
		return func(t float64) float64 {
			if _, frac := math.Modf(frequency * t); frac < 0.5 {
				return 1
			}
			return -1
		}, nil
	case WaveConstant:
		return func(float64) float64 { return 1 }, nil
	default:
		return nil, core.Errorf(core.ErrInvalidConfig, "unknown waveform %q", waveform)
	}
}

// Generator периодическая задача, вычисляющая сигнал.
// Значение пишется в столбец Value таблицы состояний, читается через Out
// и, если подключен необязательный интерфейс Sink, передается в SetValue партнера.
type Generator struct {
	*task.Task

	params GeneratorParams
	wave   func(t float64) float64
	column *statetable.Column[float64]
	sink   interfaces.FunctionWrite[float64]

	mu        sync.Mutex
	amplitude float64
	cycles    uint64

	pushFailures atomic.Uint64
}

// NewGeneratorFactory возвращает фабрику типа generator
func NewGeneratorFactory() manager.Factory {
	return func(ctx context.Context, spec config.ComponentSpec, env manager.Env) (component.Component, error) {
		params := DefaultGeneratorParams()
		if err := spec.DecodeParams(&params); err != nil {
			return nil, err
		}
		return NewGenerator(spec.Name, spec.Period, params, taskOptions(env, params.StateTable)...)
	}
}

// NewGenerator создает генератор
func NewGenerator(name string, period time.Duration, params GeneratorParams, opts ...task.Option) (*Generator, error) {
	if err := requirePeriod(TypeGenerator, name, period); err != nil {
		return nil, err
	}
	wave, err := Wave(params.Waveform, params.Frequency)
	if err != nil {
		return nil, core.Wrap(err, core.ErrInvalidConfig, "generator "+name)
	}

	g := &Generator{params: params, wave: wave, amplitude: params.Amplitude}
	if g.Task, err = task.NewPeriodic(name, period, task.RunnerFunc(g.run), opts...); err != nil {
		return nil, err
	}
	if g.column, err = statetable.AddColumn(g.StateTable(), ColumnValue, params.Offset); err != nil {
		return nil, err
	}

	out, err := g.AddProvidedInterface(InterfaceOut)
	if err != nil {
		return nil, err
	}
	if _, err = interfaces.AddCommandRead(out, CommandGetValue, func(ctx context.Context) (float64, error) {
		return g.column.Get(), nil
	}); err != nil {
		return nil, err
	}
	if _, err = interfaces.AddCommandReadState(out, CommandGetLatest, g.column); err != nil {
		return nil, err
	}
	if _, err = interfaces.AddCommandWrite(out, CommandSetAmplitude, func(ctx context.Context, a float64) error {
		g.mu.Lock()
		g.amplitude = a
		g.mu.Unlock()
		return nil
	}); err != nil {
		return nil, err
	}

	sink, err := g.AddRequiredInterface(InterfaceSink, interfaces.Optional())
	if err != nil {
		return nil, err
	}
	if g.sink, err = interfaces.AddFunctionWrite[float64](sink, CommandSetValue); err != nil {
		return nil, err
	}
	return g, nil
}

// Params возвращает параметры генератора
func (g *Generator) Params() GeneratorParams { return g.params }

// PushFailures возвращает число неудачных передач в Sink
func (g *Generator) PushFailures() uint64 { return g.pushFailures.Load() }

func (g *Generator) run(ctx context.Context) error {
	g.mu.Lock()
	g.cycles++
	t := float64(g.cycles) * g.Period().Seconds()
	v := g.params.Offset + g.amplitude*g.wave(t)
	g.mu.Unlock()

	g.column.Set(v)
	if g.sink.IsBound() {
		if res := g.sink.Execute(ctx, v); !res.IsOK() {
			g.pushFailures.Add(1)
			g.Logger().Debug("generator push failed", "task", g.Name(), "result", res)
		}
	}
	return nil
}
