package messagebus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/transport"
)

type recordedOp struct {
	bus, operation string
	err            error
}

type fakeRecorder struct {
	mu  sync.Mutex
	ops []recordedOp
}

func (r *fakeRecorder) RecordTransport(_ context.Context, bus, operation string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, recordedOp{bus: bus, operation: operation, err: err})
}

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		subject, pattern string
		want             bool
	}{
		{"taskflow.p1.B.In", "taskflow.p1.B.In", true},
		{"taskflow.p1.B.In", "taskflow.*.B.In", true},
		{"taskflow.p1.B.In", "taskflow.>", true},
		{"taskflow", "taskflow.>", false},
		{"taskflow.p1.B", "taskflow.*.B.In", false},
		{"taskflow.p1.B.In.extra", "taskflow.*.B.In", false},
		{"other.p1", "taskflow.*", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchSubject(tt.subject, tt.pattern), "%s vs %s", tt.subject, tt.pattern)
	}
}

func TestInMemoryAdapter_PublishSubscribe(t *testing.T) {
	bus := NewInMemoryAdapter(DefaultInMemoryConfig())
	ctx := context.Background()

	var got []string
	require.NoError(t, bus.Subscribe(ctx, "events.>", func(ctx context.Context, msg *transport.Message) error {
		got = append(got, msg.Subject+"="+string(msg.Data))
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, "events.state.B", []byte("ACTIVE"), nil))
	require.NoError(t, bus.Publish(ctx, "events.state.C", []byte("READY"), nil))
	require.NoError(t, bus.Publish(ctx, "other", []byte("x"), nil))

	assert.Equal(t, []string{"events.state.B=ACTIVE", "events.state.C=READY"}, got)

	require.NoError(t, bus.Unsubscribe("events.>"))
	require.NoError(t, bus.Publish(ctx, "events.state.B", []byte("FINISHED"), nil))
	assert.Len(t, got, 2)
}

func TestInMemoryAdapter_RequestReply(t *testing.T) {
	rec := &fakeRecorder{}
	bus := NewInMemoryAdapter(DefaultInMemoryConfig(), WithRecorder(rec))
	ctx := context.Background()

	require.NoError(t, bus.Respond(ctx, "svc.echo", func(ctx context.Context, req *transport.Message) (*transport.Message, error) {
		assert.NotEmpty(t, req.Headers[HeaderCorrelationID])
		return &transport.Message{Data: append([]byte("echo:"), req.Data...)}, nil
	}))

	reply, err := bus.Request(ctx, "svc.echo", []byte("hi"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", string(reply.Data))

	err = bus.Respond(ctx, "svc.echo", func(ctx context.Context, req *transport.Message) (*transport.Message, error) {
		return nil, nil
	})
	assert.True(t, core.IsErrorCode(err, core.ErrAlreadyExists))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.ops, 1)
	assert.Equal(t, recordedOp{bus: "inmemory", operation: "request"}, rec.ops[0])
}

func TestInMemoryAdapter_RequestErrors(t *testing.T) {
	bus := NewInMemoryAdapter(DefaultInMemoryConfig())
	ctx := context.Background()

	_, err := bus.Request(ctx, "svc.missing", nil, time.Second)
	assert.True(t, core.IsErrorCode(err, core.ErrTransport))

	require.NoError(t, bus.Respond(ctx, "svc.slow", func(ctx context.Context, req *transport.Message) (*transport.Message, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	_, err = bus.Request(ctx, "svc.slow", nil, 20*time.Millisecond)
	assert.True(t, core.IsErrorCode(err, core.ErrTimeout))

	require.NoError(t, bus.Respond(ctx, "svc.fail", func(ctx context.Context, req *transport.Message) (*transport.Message, error) {
		return nil, errors.New("boom")
	}))
	_, err = bus.Request(ctx, "svc.fail", nil, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	require.NoError(t, bus.Respond(ctx, "svc.header", func(ctx context.Context, req *transport.Message) (*transport.Message, error) {
		return errorReply(req.Subject, errors.New("remote failure")), nil
	}))
	_, err = bus.Request(ctx, "svc.header", nil, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote failure")
}

func TestInMemoryAdapter_Stopped(t *testing.T) {
	bus := NewInMemoryAdapter(DefaultInMemoryConfig())
	ctx := context.Background()

	require.NoError(t, bus.Stop(ctx))
	assert.False(t, bus.IsRunning())
	assert.Error(t, bus.Publish(ctx, "a", nil, nil))

	_, err := bus.Request(ctx, "a", nil, time.Second)
	assert.True(t, core.IsErrorCode(err, core.ErrTransport))

	require.NoError(t, bus.Start(ctx))
	assert.NoError(t, bus.Publish(ctx, "a", nil, nil))
}

func TestGRPCAdapter_RequestReplyAcrossProcesses(t *testing.T) {
	ctx := context.Background()

	server, err := NewGRPCAdapter(GRPCConfig{ListenAddr: "127.0.0.1:0"})
	require.NoError(t, err)
	require.NoError(t, server.Start(ctx))
	t.Cleanup(func() { _ = server.Stop(ctx) })

	require.NoError(t, server.Respond(ctx, "taskflow.p2.B.In", func(ctx context.Context, req *transport.Message) (*transport.Message, error) {
		return &transport.Message{Data: req.Data, Headers: map[string]string{"handled-by": "p2"}}, nil
	}))
	received := make(chan string, 1)
	require.NoError(t, server.Subscribe(ctx, "taskflow.p2.events", func(ctx context.Context, msg *transport.Message) error {
		received <- string(msg.Data)
		return nil
	}))

	client, err := NewGRPCAdapter(GRPCConfig{Routes: map[string]string{"taskflow.p2": server.Addr()}})
	require.NoError(t, err)
	require.NoError(t, client.Start(ctx))
	t.Cleanup(func() { _ = client.Stop(ctx) })

	payload := []byte{0x00, 0xff, 0x10}
	reply, err := client.Request(ctx, "taskflow.p2.B.In", payload, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, payload, reply.Data)
	assert.Equal(t, "p2", reply.Headers["handled-by"])

	_, err = client.Request(ctx, "taskflow.p2.B.Missing", nil, 5*time.Second)
	assert.True(t, core.IsErrorCode(err, core.ErrTransport))

	require.NoError(t, client.Publish(ctx, "taskflow.p2.events", []byte("ping"), nil))
	select {
	case got := <-received:
		assert.Equal(t, "ping", got)
	case <-time.After(5 * time.Second):
		t.Fatal("published message was not delivered")
	}
}

func TestGRPCAdapter_Route(t *testing.T) {
	g, err := NewGRPCAdapter(GRPCConfig{Routes: map[string]string{
		"taskflow":    "a:1",
		"taskflow.p2": "b:2",
	}})
	require.NoError(t, err)

	target, ok := g.route("taskflow.p2.B.In")
	require.True(t, ok)
	assert.Equal(t, "b:2", target)

	target, ok = g.route("taskflow.p3.C")
	require.True(t, ok)
	assert.Equal(t, "a:1", target)

	_, ok = g.route("taskflowx.p1")
	assert.False(t, ok)
}

func TestFactory(t *testing.T) {
	f := NewMessageBusFactory()
	assert.Equal(t, []string{TypeGRPC, TypeInMemory, TypeKafka, TypeNATS, TypeRedis}, f.ListRegistered())

	bus, err := f.FromConfig(DefaultConfig())
	require.NoError(t, err)
	assert.IsType(t, &InMemoryAdapter{}, bus)

	_, err = f.Create("amqp", nil)
	assert.Error(t, err)

	_, err = f.Create(TypeKafka, "not a config")
	assert.Error(t, err)

	assert.Error(t, f.Register(TypeInMemory, func(interface{}, ...Option) (transport.RequestReplyBus, error) { return nil, nil }))
	require.NoError(t, f.Unregister(TypeInMemory))
	assert.Error(t, f.Unregister(TypeInMemory))
}

func TestValidateConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, ValidateConfig(cfg))

	cfg.Type = TypeNATS
	cfg.NATS.URL = "http://localhost"
	assert.Error(t, ValidateConfig(cfg))

	cfg.Type = TypeKafka
	cfg.Kafka.Brokers = []string{"localhost"}
	assert.Error(t, ValidateConfig(cfg))

	cfg.Type = TypeRedis
	cfg.Redis.Addr = ""
	assert.Error(t, ValidateConfig(cfg))

	cfg.Type = TypeGRPC
	cfg.GRPC.Routes = map[string]string{"p1": ""}
	assert.Error(t, ValidateConfig(cfg))

	cfg.Type = "amqp"
	assert.Error(t, ValidateConfig(cfg))
}

func TestNATSConfig_Validate(t *testing.T) {
	cfg := DefaultNATSConfig()
	require.NoError(t, cfg.Validate())

	cfg.URL = "nats://a:4222, tls://b:4222"
	assert.NoError(t, cfg.Validate())

	cfg.URL = "nats://a:4222,http://b"
	assert.Error(t, cfg.Validate())

	cfg = DefaultNATSConfig()
	cfg.Username = "taskflow"
	assert.Error(t, cfg.Validate(), "password is required with username")

	cfg.QueueGroup = ""
	cfg.Password = "secret"
	a, err := NewNATSAdapter(cfg)
	require.NoError(t, err)
	assert.Equal(t, "taskflow", a.config.QueueGroup)
	assert.False(t, a.IsRunning())

	_, err = a.Request(context.Background(), "x", nil, time.Second)
	assert.True(t, core.IsErrorCode(err, core.ErrTransport))
}
