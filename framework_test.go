package taskflow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/taskflow/framework/builtin"
	"github.com/akriventsev/taskflow/framework/component"
	"github.com/akriventsev/taskflow/framework/config"
	"github.com/akriventsev/taskflow/framework/core"
)

const deployment = `
process: lab
logging:
  level: error
proxy:
  enabled: true
components:
  - name: value
    type: value
    params:
      initial: 4
  - name: watch
    type: monitor
    period: 5ms
connections:
  - requirer: watch
    required: In
    provider: value
    provided: Out
`

func newProcess(t *testing.T, doc string) *Process {
	t.Helper()
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	p, err := NewProcess(context.Background(), cfg,
		WithLogger(core.NopLogger{}),
		WithPrometheusRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	return p
}

func TestProcess_Lifecycle(t *testing.T) {
	ctx := context.Background()
	p := newProcess(t, deployment)
	assert.Equal(t, "lab", p.Name())
	assert.False(t, p.IsRunning())

	require.NoError(t, p.Start(ctx))
	assert.True(t, p.IsRunning())
	assert.True(t, core.IsErrorCode(p.Start(ctx), core.ErrInvalidState))

	c, ok := p.Manager().GetComponent("watch")
	require.True(t, ok)
	assert.Equal(t, component.Active, c.State())
	watch := c.(*builtin.Monitor)
	require.Eventually(t, func() bool { return watch.Summary().Samples >= 3 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 4.0, watch.Summary().Last)

	entry, err := p.Directory().Lookup(ctx, "lab")
	require.NoError(t, err)
	assert.Equal(t, []string{"value", "watch"}, entry.Components)
	assert.Equal(t, []string{"value", "watch"}, entry.Exports)
	assert.Equal(t, "inmemory", entry.Bus)

	families, err := p.Gatherer().Gather()
	require.NoError(t, err)
	found := false
	for _, f := range families {
		if strings.Contains(f.GetName(), "task_cycles") {
			found = true
		}
	}
	assert.True(t, found, "task cycle metric is exported")

	require.NoError(t, p.Stop(ctx))
	assert.False(t, p.IsRunning())
	assert.Equal(t, component.Finished, c.State())
	require.NoError(t, p.Stop(ctx))

	_, err = p.Directory().Lookup(ctx, "lab")
	assert.True(t, core.IsErrorCode(err, core.ErrNotFound))
}

func TestProcess_StartupFailure(t *testing.T) {
	ctx := context.Background()
	p := newProcess(t, `
process: broken
components:
  - name: watch
    type: monitor
    period: 5ms
`)
	err := p.Start(ctx)
	require.Error(t, err)
	assert.True(t, core.IsErrorCode(err, core.ErrStartupFailed))
	assert.False(t, p.IsRunning())
}

func TestNewProcess_InvalidConfig(t *testing.T) {
	_, err := NewProcess(context.Background(), nil)
	assert.True(t, core.IsErrorCode(err, core.ErrInvalidConfig))

	cfg := config.Default()
	cfg.Proxy.Codec = "xml"
	_, err = NewProcess(context.Background(), cfg, WithLogger(core.NopLogger{}))
	assert.True(t, core.IsErrorCode(err, core.ErrInvalidConfig))
}

func TestGetMetadata(t *testing.T) {
	m := GetMetadata()
	assert.Equal(t, Version, m.Version)
	assert.Equal(t, "taskflow", m.Name)
}
