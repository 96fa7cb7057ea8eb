package builtin

import (
	"context"

	"github.com/akriventsev/taskflow/framework/collector"
	"github.com/akriventsev/taskflow/framework/component"
	"github.com/akriventsev/taskflow/framework/config"
	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/manager"
)

// CollectorParams параметры компонента collector.
// Каждый источник становится требуемым интерфейсом с тем же именем.
type CollectorParams struct {
	Sources    []string             `yaml:"sources"`
	Batch      int                  `yaml:"batch"`
	StateTable int                  `yaml:"state_table"`
	Sink       collector.SinkConfig `yaml:"sink"`
}

// NewCollectorFactory возвращает фабрику типа collector
func NewCollectorFactory() manager.Factory {
	return func(ctx context.Context, spec config.ComponentSpec, env manager.Env) (component.Component, error) {
		params := CollectorParams{Batch: collector.DefaultBatchSize, Sink: collector.DefaultSinkConfig()}
		if err := spec.DecodeParams(&params); err != nil {
			return nil, err
		}
		if err := requirePeriod(TypeCollector, spec.Name, spec.Period); err != nil {
			return nil, err
		}
		if len(params.Sources) == 0 {
			return nil, core.Errorf(core.ErrInvalidConfig, "collector %s: no sources", spec.Name)
		}

		sink, err := collector.NewSink(ctx, params.Sink)
		if err != nil {
			return nil, err
		}
		c, err := collector.New(spec.Name, spec.Period, sink,
			collector.WithBatchSize(params.Batch),
			collector.WithLogger(env.Logger),
			collector.WithTaskOptions(taskOptions(env, params.StateTable)...))
		if err != nil {
			_ = sink.Close(ctx)
			return nil, err
		}
		for _, src := range params.Sources {
			if err := c.AddSource(src); err != nil {
				_ = sink.Close(ctx)
				return nil, err
			}
		}
		env.Logger.Info("collector configured", "component", spec.Name, "sink", sink.Name(), "sources", params.Sources)
		return c, nil
	}
}
