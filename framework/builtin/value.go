package builtin

import (
	"context"
	"sync"

	"github.com/akriventsev/taskflow/framework/component"
	"github.com/akriventsev/taskflow/framework/config"
	"github.com/akriventsev/taskflow/framework/interfaces"
	"github.com/akriventsev/taskflow/framework/manager"
	"github.com/akriventsev/taskflow/framework/statetable"
	"github.com/akriventsev/taskflow/framework/task"
)

// ValueParams параметры компонента value
type ValueParams struct {
	Initial    float64 `yaml:"initial"`
	StateTable int     `yaml:"state_table"`
}

// Value хранит одно число и предоставляет интерфейс Out:
// SetValue, GetValue, Scale, Reset и событие Changed.
// С периодом это задача, которая каждый цикл пишет значение в таблицу состояний.
type Value struct {
	comp component.Component

	mu      sync.Mutex
	current float64
	initial float64
	changed *interfaces.EventGenerator
	column  *statetable.Column[float64]
}

// NewValueFactory возвращает фабрику типа value
func NewValueFactory() manager.Factory {
	return func(ctx context.Context, spec config.ComponentSpec, env manager.Env) (component.Component, error) {
		var params ValueParams
		if err := spec.DecodeParams(&params); err != nil {
			return nil, err
		}
		if spec.Period <= 0 {
			v, err := NewPassiveValue(spec.Name, params.Initial, component.WithLogger(env.Logger), component.WithObserver(env.Observer))
			if err != nil {
				return nil, err
			}
			return v.Component(), nil
		}

		v := &Value{current: params.Initial, initial: params.Initial}
		t, err := task.NewPeriodic(spec.Name, spec.Period, task.RunnerFunc(v.run), taskOptions(env, params.StateTable)...)
		if err != nil {
			return nil, err
		}
		if v.column, err = statetable.AddColumn(t.StateTable(), ColumnValue, params.Initial); err != nil {
			return nil, err
		}
		v.comp = t
		if err := v.addOut(t.Base); err != nil {
			return nil, err
		}
		return t, nil
	}
}

// NewPassiveValue создает пассивный value: команды выполняются в потоке вызывающего
func NewPassiveValue(name string, initial float64, opts ...component.Option) (*Value, error) {
	b := component.New(name, opts...)
	v := &Value{comp: b, current: initial, initial: initial}
	if err := v.addOut(b); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Value) addOut(b *component.Base) error {
	out, err := b.AddProvidedInterface(InterfaceOut)
	if err != nil {
		return err
	}
	if v.changed, err = interfaces.AddEventWrite[float64](out, EventChanged); err != nil {
		return err
	}
	if _, err = interfaces.AddCommandWrite(out, CommandSetValue, func(ctx context.Context, x float64) error {
		v.set(ctx, x)
		return nil
	}); err != nil {
		return err
	}
	if _, err = interfaces.AddCommandRead(out, CommandGetValue, func(ctx context.Context) (float64, error) {
		return v.Get(), nil
	}); err != nil {
		return err
	}
	if _, err = interfaces.AddCommandWriteReturn(out, CommandScale, func(ctx context.Context, k float64) (float64, error) {
		return v.Get() * k, nil
	}); err != nil {
		return err
	}
	if _, err = interfaces.AddCommandVoid(out, CommandReset, func(ctx context.Context) error {
		v.set(ctx, v.initial)
		return nil
	}); err != nil {
		return err
	}
	if v.column != nil {
		if _, err = interfaces.AddCommandReadState(out, CommandGetLatest, v.column); err != nil {
			return err
		}
	}
	return nil
}

func (v *Value) set(ctx context.Context, x float64) {
	v.mu.Lock()
	v.current = x
	v.mu.Unlock()
	v.changed.Trigger(ctx, x)
}

// Component возвращает компонент, владеющий интерфейсом Out
func (v *Value) Component() component.Component { return v.comp }

// Get возвращает текущее значение
func (v *Value) Get() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

func (v *Value) run(ctx context.Context) error {
	v.column.Set(v.Get())
	return nil
}
