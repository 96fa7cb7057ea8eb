package metrics

import (
	"context"
	"fmt"
	"sort"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Экспортеры метрик
const (
	ExporterPrometheus = "prometheus"
	ExporterNone       = "none"
)

// Config конфигурация метрик
type Config struct {
	ExporterType  string            `yaml:"exporter"`
	ServiceName   string            `yaml:"service_name"`
	ResourceAttrs map[string]string `yaml:"resource_attrs"`
	// Process добавляется в ресурс как taskflow.process
	Process string `yaml:"-"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		ExporterType: ExporterPrometheus,
		ServiceName:  "taskflow",
	}
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	switch c.ExporterType {
	case ExporterPrometheus, ExporterNone, "":
		return nil
	}
	return fmt.Errorf("unknown metrics exporter type: %s", c.ExporterType)
}

func (c Config) resource() (*resource.Resource, error) {
	keys := make([]string, 0, len(c.ResourceAttrs))
	for k := range c.ResourceAttrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(keys)+2)
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, c.ResourceAttrs[k]))
	}
	if c.ServiceName != "" {
		attrs = append(attrs, attribute.String("service.name", c.ServiceName))
	}
	if c.Process != "" {
		attrs = append(attrs, attribute.String("taskflow.process", c.Process))
	}
	return resource.New(context.Background(), resource.WithAttributes(attrs...))
}

// SetupMetrics настраивает MeterProvider и делает его глобальным.
// Для prometheus метрики регистрируются в registerer (nil означает DefaultRegisterer),
// при ExporterNone инструменты работают без экспорта.
func SetupMetrics(config *Config, registerer promclient.Registerer) (*metric.MeterProvider, error) {
	if config == nil {
		cfg := DefaultConfig()
		config = &cfg
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	res, err := config.resource()
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []metric.Option{metric.WithResource(res)}
	if config.ExporterType == ExporterPrometheus || config.ExporterType == "" {
		if registerer == nil {
			registerer = promclient.DefaultRegisterer
		}
		exporter, err := prometheus.New(prometheus.WithRegisterer(registerer))
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		opts = append(opts, metric.WithReader(exporter))
	}

	provider := metric.NewMeterProvider(opts...)
	otel.SetMeterProvider(provider)
	return provider, nil
}

// ShutdownMetrics корректно завершает работу метрик
func ShutdownMetrics(ctx context.Context, provider *metric.MeterProvider) error {
	if provider == nil {
		return nil
	}
	return provider.Shutdown(ctx)
}
