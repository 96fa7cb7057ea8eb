package proxy

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/taskflow/framework/adapters/messagebus"
	"github.com/akriventsev/taskflow/framework/command"
	"github.com/akriventsev/taskflow/framework/component"
	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/interfaces"
	"github.com/akriventsev/taskflow/framework/manager"
	"github.com/akriventsev/taskflow/framework/transport"
)

// remoteValue компонент процесса p2 с интерфейсом In
func remoteValue(t *testing.T, value *atomic.Value) (*component.Base, *command.Command) {
	t.Helper()
	value.Store(0.0)
	c := component.New("C")
	in, err := c.AddProvidedInterface("In")
	require.NoError(t, err)

	changed, err := interfaces.AddEventWrite[float64](in, "Changed")
	require.NoError(t, err)
	set, err := interfaces.AddCommandWrite(in, "SetValue", func(ctx context.Context, v float64) error {
		value.Store(v)
		changed.Trigger(ctx, v)
		return nil
	})
	require.NoError(t, err)
	_, err = interfaces.AddCommandRead(in, "GetValue", func(ctx context.Context) (float64, error) {
		return value.Load().(float64), nil
	})
	require.NoError(t, err)
	_, err = interfaces.AddCommandWriteReturn(in, "Scale", func(ctx context.Context, k float64) (float64, error) {
		return value.Load().(float64) * k, nil
	})
	require.NoError(t, err)
	return c, set
}

type requirer struct {
	base  *component.Base
	set   interfaces.FunctionWrite[float64]
	get   interfaces.FunctionRead[float64]
	scale interfaces.FunctionWriteReturn[float64, float64]

	mu     sync.Mutex
	events []float64
}

func newRequirer(t *testing.T) *requirer {
	t.Helper()
	r := &requirer{base: component.New("B")}
	remote, err := r.base.AddRequiredInterface("Remote")
	require.NoError(t, err)
	r.set, err = interfaces.AddFunctionWrite[float64](remote, "SetValue")
	require.NoError(t, err)
	r.get, err = interfaces.AddFunctionRead[float64](remote, "GetValue")
	require.NoError(t, err)
	r.scale, err = interfaces.AddFunctionWriteReturn[float64, float64](remote, "Scale")
	require.NoError(t, err)
	_, err = interfaces.AddEventHandlerWrite(remote, "Changed", func(ctx context.Context, v float64) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, v)
		return nil
	}, false)
	require.NoError(t, err)
	return r
}

func TestProxy_RemoteConnection(t *testing.T) {
	for _, codec := range []Codec{JSONCodec{}, ProtobufCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			ctx := context.Background()
			bus := messagebus.NewInMemoryAdapter(messagebus.DefaultInMemoryConfig())

			var value atomic.Value
			c, setCmd := remoteValue(t, &value)
			server := NewServer(bus, "p2", WithCodec(codec))
			require.NoError(t, server.Export(ctx, c))
			assert.Equal(t, []string{"C"}, server.Exports())
			assert.True(t, core.IsErrorCode(server.Export(ctx, c), core.ErrAlreadyExists))

			client := NewClient(bus, WithCodec(codec), WithTimeout(time.Second))
			m := manager.New(manager.WithProcessName("p1"), manager.WithProxyClient(client))
			b := newRequirer(t)
			require.NoError(t, m.AddComponent(b.base))

			conn, err := m.ConnectRemote(ctx, "B", "Remote", "p2", "C", "In")
			require.NoError(t, err)
			assert.Equal(t, "B.Remote -> p2:C.In", conn.String())

			proxy, ok := m.GetComponent("p2:C")
			require.True(t, ok)
			assert.Equal(t, core.ComponentTypeProxy, proxy.Type())
			require.True(t, m.CreateAllAndWait(ctx, time.Second).OK())

			assert.Equal(t, command.Success, b.set.Execute(ctx, 3.5))
			assert.Equal(t, 3.5, value.Load())

			v, res := b.get.Execute(ctx)
			assert.Equal(t, command.Success, res)
			assert.Equal(t, 3.5, v)

			scaled, res := b.scale.Execute(ctx, 2.0)
			assert.Equal(t, command.Success, res)
			assert.Equal(t, 7.0, scaled)

			b.mu.Lock()
			assert.Equal(t, []float64{3.5}, b.events)
			b.mu.Unlock()

			// Отключенная команда возвращает disabled и не меняет состояние
			setCmd.Disable()
			for i := 0; i < 3; i++ {
				assert.Equal(t, command.Disabled, b.set.Execute(ctx, 9.0))
			}
			assert.Equal(t, 3.5, value.Load())
			setCmd.Enable()
			assert.Equal(t, command.Success, b.set.Execute(ctx, 1.0))
			assert.Equal(t, 1.0, value.Load())

			require.NoError(t, server.Stop(ctx))
			assert.Equal(t, command.FunctionUnavailable, b.set.Execute(ctx, 2.0))
			assert.Equal(t, 1.0, value.Load())

			require.True(t, m.KillAllAndWait(ctx, time.Second).OK())
		})
	}
}

func TestProxy_ShapeMismatchIsRejected(t *testing.T) {
	ctx := context.Background()
	bus := messagebus.NewInMemoryAdapter(messagebus.DefaultInMemoryConfig())

	var value atomic.Value
	c, _ := remoteValue(t, &value)
	require.NoError(t, NewServer(bus, "p2").Export(ctx, c))

	client := NewClient(bus)
	proxy, err := client.NewComponent(ctx, "p2", "C")
	require.NoError(t, err)
	in, ok := proxy.ProvidedInterface("In")
	require.True(t, ok)
	assert.Equal(t, []string{"GetValue", "Scale", "SetValue"}, in.CommandNames())
	assert.Equal(t, []string{"Changed"}, in.EventNames())

	b := component.New("B")
	remote, _ := b.AddRequiredInterface("Remote")
	wrong, err := interfaces.AddFunctionRead[int](remote, "GetValue")
	require.NoError(t, err)

	_, err = interfaces.Bind(remote, in, "")
	assert.True(t, core.IsErrorCode(err, core.ErrInterfaceIncompatible))
	assert.False(t, wrong.IsBound())
}

func TestClient_UnknownComponent(t *testing.T) {
	ctx := context.Background()
	bus := messagebus.NewInMemoryAdapter(messagebus.DefaultInMemoryConfig())

	client := NewClient(bus, WithRetryPolicy(&transport.ExponentialBackoffRetryPolicy{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
		MaxAttempts:  2,
	}))
	_, err := client.NewComponent(ctx, "p9", "Ghost")
	require.Error(t, err)
	assert.True(t, core.IsErrorCode(err, core.ErrComponentNotFound))
}

func TestClient_DescribeWaitsForLateServer(t *testing.T) {
	ctx := context.Background()
	bus := messagebus.NewInMemoryAdapter(messagebus.DefaultInMemoryConfig())

	var value atomic.Value
	c, _ := remoteValue(t, &value)
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = NewServer(bus, "p2").Export(ctx, c)
	}()

	client := NewClient(bus, WithRetryPolicy(&transport.ExponentialBackoffRetryPolicy{
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   1,
		MaxAttempts:  20,
	}))
	d, err := client.Describe(ctx, "p2", "C")
	require.NoError(t, err)
	assert.Equal(t, "C", d.Name)
	assert.Equal(t, component.Constructed, d.State)
}

func TestCodecs(t *testing.T) {
	env := &Envelope{
		ID:      "42",
		Command: "Scale",
		Kind:    command.WriteReturn,
		Payload: Payload(`{"x":1.5}`),
		Result:  command.Timeout,
		Error:   "timeout",
	}
	for _, name := range []string{"json", "protobuf"} {
		codec, err := NewCodec(name)
		require.NoError(t, err)

		data, err := codec.Marshal(env)
		require.NoError(t, err)
		var got Envelope
		require.NoError(t, codec.Unmarshal(data, &got))
		assert.Equal(t, *env, got, name)

		var decoded struct{ X float64 }
		require.NoError(t, got.Payload.Decode(&decoded))
		assert.Equal(t, 1.5, decoded.X)
	}

	_, err := NewCodec("xml")
	assert.True(t, core.IsErrorCode(err, core.ErrInvalidConfig))
	assert.Error(t, Payload(nil).Decode(new(float64)))
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "taskflow.p2.C.describe", DescribeSubject(DefaultPrefix, "p2", "C"))
	assert.Equal(t, "taskflow.p2.C.In", CommandSubject(DefaultPrefix, "p2", "C", "In"))
	assert.Equal(t, "taskflow.p2.C.In.event.Changed", EventSubject(DefaultPrefix, "p2", "C", "In", "Changed"))
	assert.Equal(t, "p2:C", Name("p2", "C"))
}
