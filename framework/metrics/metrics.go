// Package metrics предоставляет метрики фреймворка на основе OpenTelemetry:
// вызовы команд, глубина очередей, циклы задач и переходы состояний.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/akriventsev/taskflow/framework/command"
)

// MeterName имя meter по умолчанию
const MeterName = "taskflow"

// Metrics сборщик метрик фреймворка.
// Реализует interfaces.Observer, mailbox.Observer и task.Recorder.
type Metrics struct {
	meter            metric.Meter
	commandsTotal    metric.Int64Counter
	commandDuration  metric.Float64Histogram
	errorsTotal      metric.Int64Counter
	mailboxDepth     metric.Int64UpDownCounter
	taskCycles       metric.Int64Counter
	taskOverruns     metric.Int64Counter
	taskCompute      metric.Float64Histogram
	stateTransitions metric.Int64Counter
	eventsTotal      metric.Int64Counter
	transportOps     metric.Int64Counter
	transportLatency metric.Float64Histogram
}

// NewMetrics создает сборщик на глобальном MeterProvider
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter(MeterName))
}

// NewMetricsWithMeter создает сборщик на указанном meter
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}
	var err error

	if m.commandsTotal, err = meter.Int64Counter(
		"commands_total",
		metric.WithDescription("Total number of command invocations"),
	); err != nil {
		return nil, err
	}
	if m.commandDuration, err = meter.Float64Histogram(
		"command_duration_seconds",
		metric.WithDescription("Command invocation duration in seconds, queueing included"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.errorsTotal, err = meter.Int64Counter(
		"errors_total",
		metric.WithDescription("Total number of failed command invocations"),
	); err != nil {
		return nil, err
	}
	if m.mailboxDepth, err = meter.Int64UpDownCounter(
		"mailbox_depth",
		metric.WithDescription("Number of invocations waiting in mailboxes"),
	); err != nil {
		return nil, err
	}
	if m.taskCycles, err = meter.Int64Counter(
		"task_cycles_total",
		metric.WithDescription("Total number of executed task cycles"),
	); err != nil {
		return nil, err
	}
	if m.taskOverruns, err = meter.Int64Counter(
		"task_overruns_total",
		metric.WithDescription("Total number of cycles that exceeded the task period"),
	); err != nil {
		return nil, err
	}
	if m.taskCompute, err = meter.Float64Histogram(
		"task_compute_seconds",
		metric.WithDescription("Task cycle compute time in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.stateTransitions, err = meter.Int64Counter(
		"state_transitions_total",
		metric.WithDescription("Total number of component lifecycle transitions"),
	); err != nil {
		return nil, err
	}
	if m.eventsTotal, err = meter.Int64Counter(
		"events_total",
		metric.WithDescription("Total number of published framework events"),
	); err != nil {
		return nil, err
	}
	if m.transportOps, err = meter.Int64Counter(
		"transport_operations_total",
		metric.WithDescription("Total number of message bus operations"),
	); err != nil {
		return nil, err
	}
	if m.transportLatency, err = meter.Float64Histogram(
		"transport_duration_seconds",
		metric.WithDescription("Message bus operation duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// CommandExecuted записывает результат вызова команды
func (m *Metrics) CommandExecuted(ctx context.Context, component, iface, name string, result command.Result, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("component", component),
		attribute.String("interface", iface),
		attribute.String("command", name),
		attribute.String("result", result.String()),
	)
	m.commandsTotal.Add(ctx, 1, attrs)
	m.commandDuration.Record(ctx, elapsed.Seconds(), attrs)

	if !result.IsOK() {
		m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("component", component),
			attribute.String("command", name),
			attribute.String("result", result.String()),
		))
	}
}

// MailboxDepth изменяет глубину очереди
func (m *Metrics) MailboxDepth(ctx context.Context, name string, delta int64) {
	m.mailboxDepth.Add(ctx, delta, metric.WithAttributes(attribute.String("mailbox", name)))
}

// TaskCycle записывает выполненный цикл задачи
func (m *Metrics) TaskCycle(ctx context.Context, task string, compute time.Duration, overrun bool) {
	attrs := metric.WithAttributes(attribute.String("task", task))
	m.taskCycles.Add(ctx, 1, attrs)
	m.taskCompute.Record(ctx, compute.Seconds(), attrs)
	if overrun {
		m.taskOverruns.Add(ctx, 1, attrs)
	}
}

// StateChanged записывает переход жизненного цикла
func (m *Metrics) StateChanged(ctx context.Context, component, from, to string) {
	m.stateTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component", component),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordEvent записывает опубликованное событие
func (m *Metrics) RecordEvent(ctx context.Context, eventType string) {
	m.eventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("event", eventType)))
}

// RecordTransport записывает операцию шины сообщений
func (m *Metrics) RecordTransport(ctx context.Context, bus, operation string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("bus", bus),
		attribute.String("operation", operation),
		attribute.String("status", status),
	)
	m.transportOps.Add(ctx, 1, attrs)
	m.transportLatency.Record(ctx, elapsed.Seconds(), attrs)
}
