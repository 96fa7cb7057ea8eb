package metrics

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/akriventsev/taskflow/framework/command"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewMetricsWithMeter(provider.Meter("test"))
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sum(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	s, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "unexpected aggregation %T", data)
	var total int64
	for _, dp := range s.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_CommandExecuted(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.CommandExecuted(ctx, "B", "In", "SetValue", command.Queued, time.Millisecond)
	m.CommandExecuted(ctx, "B", "In", "GetValue", command.Success, time.Millisecond)
	m.CommandExecuted(ctx, "B", "In", "GetValue", command.Timeout, time.Second)

	data := collect(t, reader)
	assert.EqualValues(t, 3, sum(t, data["commands_total"]))
	assert.EqualValues(t, 1, sum(t, data["errors_total"]))
	assert.Contains(t, data, "command_duration_seconds")
}

func TestMetrics_TaskCycles(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.TaskCycle(ctx, "A", 2*time.Millisecond, false)
	m.TaskCycle(ctx, "A", 60*time.Millisecond, true)

	data := collect(t, reader)
	assert.EqualValues(t, 2, sum(t, data["task_cycles_total"]))
	assert.EqualValues(t, 1, sum(t, data["task_overruns_total"]))
}

func TestMetrics_MailboxAndState(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.MailboxDepth(ctx, "A.Out<-B.In", 1)
	m.MailboxDepth(ctx, "A.Out<-B.In", 1)
	m.MailboxDepth(ctx, "A.Out<-B.In", -1)
	m.StateChanged(ctx, "A", "READY", "ACTIVE")
	m.RecordEvent(ctx, "component.state_changed")

	data := collect(t, reader)
	assert.EqualValues(t, 1, sum(t, data["mailbox_depth"]))
	assert.EqualValues(t, 1, sum(t, data["state_transitions_total"]))
	assert.EqualValues(t, 1, sum(t, data["events_total"]))
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{ExporterType: "otlp"}.Validate())
}

func TestSetupMetrics_Prometheus(t *testing.T) {
	registry := promclient.NewRegistry()
	provider, err := SetupMetrics(&Config{ExporterType: "prometheus", ServiceName: "test"}, registry)
	require.NoError(t, err)
	defer func() { _ = ShutdownMetrics(context.Background(), provider) }()

	m, err := NewMetricsWithMeter(provider.Meter(MeterName))
	require.NoError(t, err)
	m.TaskCycle(context.Background(), "A", time.Millisecond, true)

	rec := httptest.NewRecorder()
	promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "task_overruns_total")
}

func TestMetrics_RecordTransport(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTransport(ctx, "nats", "request", 2*time.Millisecond, nil)
	m.RecordTransport(ctx, "nats", "request", time.Millisecond, assert.AnError)

	data := collect(t, reader)
	assert.Equal(t, int64(2), sum(t, data["transport_operations_total"]))
	assert.Contains(t, data, "transport_duration_seconds")
}
