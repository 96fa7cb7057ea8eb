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

// Package observability предоставляет трассировку и проверки здоровья процесса.
package observability

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName имя tracer по умолчанию
const TracerName = "taskflow"

// Экспортеры span
const (
	ExporterStdout = "stdout"
	ExporterJaeger = "jaeger"
	ExporterZipkin = "zipkin"
	ExporterOTLP   = "otlp"
)

// TracingConfig конфигурация distributed tracing
type TracingConfig struct {
	Enabled          bool    `yaml:"enabled"`
	ServiceName      string  `yaml:"service_name"`
	ServiceVersion   string  `yaml:"service_version"`
	Exporter         string  `yaml:"exporter"`
	ExporterEndpoint string  `yaml:"endpoint"`
	SamplingRate     float64 `yaml:"sampling_rate"`
	Environment      string  `yaml:"environment"`
	// Process добавляется в ресурс как taskflow.process
	Process string `yaml:"-"`
}

// DefaultTracingConfig возвращает конфигурацию по умолчанию (трассировка выключена)
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName:  TracerName,
		Exporter:     ExporterStdout,
		SamplingRate: 1.0,
		Environment:  "development",
	}
}

// Validate проверяет конфигурацию; выключенная трассировка всегда корректна
func (c TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Exporter {
	case ExporterJaeger, ExporterZipkin, ExporterOTLP:
		if c.ExporterEndpoint == "" {
			return fmt.Errorf("tracing exporter %s requires an endpoint", c.Exporter)
		}
	case ExporterStdout, "":
	default:
		return fmt.Errorf("unknown tracing exporter: %s", c.Exporter)
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling rate must be within [0, 1], got %v", c.SamplingRate)
	}
	return nil
}

func (c TracingConfig) sampler() sdktrace.Sampler {
	switch {
	case c.SamplingRate >= 1:
		return sdktrace.AlwaysSample()
	case c.SamplingRate <= 0:
		return sdktrace.NeverSample()
	}
	// дочерние span следуют решению родителя из другого процесса
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SamplingRate))
}

// TracingManager владеет TracerProvider процесса
type TracingManager struct {
	config   TracingConfig
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider

	mu      sync.RWMutex
	running bool
}

// NewTracingManager создает TracingManager.
// При выключенной трассировке Tracer берется из глобального провайдера (no-op по умолчанию).
func NewTracingManager(config TracingConfig) (*TracingManager, error) {
	if !config.Enabled {
		return &TracingManager{config: config, tracer: otel.Tracer(TracerName)}, nil
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	attrs := []resource.Option{
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	}
	if config.Process != "" {
		attrs = append(attrs, resource.WithAttributes(AttrProcess.String(config.Process)))
	}
	res, err := resource.New(context.Background(), attrs...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := newExporter(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s exporter: %w", config.Exporter, err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(config.sampler()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracingManager{
		config:   config,
		tracer:   tp.Tracer(config.ServiceName),
		provider: tp,
	}, nil
}

func newExporter(config TracingConfig) (sdktrace.SpanExporter, error) {
	switch config.Exporter {
	case ExporterJaeger:
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(config.ExporterEndpoint)))
	case ExporterZipkin:
		return zipkin.New(config.ExporterEndpoint)
	case ExporterOTLP:
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(config.ExporterEndpoint),
			otlptracehttp.WithInsecure(),
		))
	default:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
}

// Start отмечает трассировку запущенной; провайдер создается в конструкторе
func (tm *TracingManager) Start(ctx context.Context) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.running = true
	return nil
}

// Stop сбрасывает накопленные span и останавливает провайдер
func (tm *TracingManager) Stop(ctx context.Context) error {
	tm.mu.Lock()
	tm.running = false
	tm.mu.Unlock()

	if tm.provider == nil {
		return nil
	}
	return tm.provider.Shutdown(ctx)
}

// IsRunning проверяет статус
func (tm *TracingManager) IsRunning() bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.running
}

// Tracer возвращает tracer для создания span
func (tm *TracingManager) Tracer() trace.Tracer {
	return tm.tracer
}
