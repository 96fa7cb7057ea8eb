package messagebus

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/akriventsev/taskflow/framework/core"
	"github.com/akriventsev/taskflow/framework/observability"
	"github.com/akriventsev/taskflow/framework/transport"
)

const (
	grpcServiceName   = "taskflow.transport.Bus"
	grpcDeliverMethod = "/" + grpcServiceName + "/Deliver"

	grpcKindPublish = "publish"
	grpcKindRequest = "request"
)

// GRPCConfig конфигурация gRPC адаптера.
// Routes сопоставляет префикс subject с адресом процесса; сообщения без маршрута доставляются локально.
type GRPCConfig struct {
	ListenAddr     string            `yaml:"listen"`
	Routes         map[string]string `yaml:"routes"`
	MaxMessageSize int               `yaml:"max_message_size"`
}

// Validate проверяет корректность конфигурации
func (c GRPCConfig) Validate() error {
	for prefix, target := range c.Routes {
		if prefix == "" {
			return fmt.Errorf("route prefix cannot be empty")
		}
		if target == "" {
			return fmt.Errorf("route %s has empty target", prefix)
		}
	}
	if c.MaxMessageSize < 0 {
		return fmt.Errorf("max_message_size cannot be negative")
	}
	return nil
}

// DefaultGRPCConfig возвращает конфигурацию gRPC по умолчанию
func DefaultGRPCConfig() GRPCConfig {
	return GRPCConfig{
		ListenAddr:     ":7400",
		Routes:         map[string]string{},
		MaxMessageSize: 4 << 20,
	}
}

// busServer серверная часть сервиса taskflow.transport.Bus
type busServer interface {
	deliver(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var busServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcServiceName,
	HandlerType: (*busServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler:    deliverHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "taskflow/transport/bus.proto",
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(busServer).deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: grpcDeliverMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(busServer).deliver(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCAdapter реализация RequestReplyBus поверх unary gRPC вызовов между процессами.
// Сообщение передается как structpb.Struct: kind, subject, data, headers.
type GRPCAdapter struct {
	config GRPCConfig
	instr  instrumentation
	local  *InMemoryAdapter

	mu       sync.RWMutex
	server   *grpc.Server
	listener net.Listener
	clients  map[string]*grpc.ClientConn
	running  bool
}

// NewGRPCAdapter создает gRPC адаптер; сервер поднимается в Start
func NewGRPCAdapter(config GRPCConfig, opts ...Option) (*GRPCAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid grpc config: %w", err)
	}
	if config.Routes == nil {
		config.Routes = map[string]string{}
	}

	return &GRPCAdapter{
		config:  config,
		instr:   newInstrumentation("grpc", opts),
		local:   NewInMemoryAdapter(InMemoryConfig{EnableOrdering: true}, opts...),
		clients: make(map[string]*grpc.ClientConn),
	}, nil
}

// Start поднимает gRPC сервер на ListenAddr (пустой адрес = только клиент)
func (g *GRPCAdapter) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return nil
	}

	if g.config.ListenAddr != "" {
		lis, err := net.Listen("tcp", g.config.ListenAddr)
		if err != nil {
			return core.Wrap(err, core.ErrTransport, "failed to listen")
		}

		serverOpts := []grpc.ServerOption{grpc.ChainUnaryInterceptor(observability.GRPCServerInterceptor())}
		if g.config.MaxMessageSize > 0 {
			serverOpts = append(serverOpts, grpc.MaxRecvMsgSize(g.config.MaxMessageSize))
		}
		g.server = grpc.NewServer(serverOpts...)
		g.server.RegisterService(&busServiceDesc, g)
		g.listener = lis

		go func() {
			if err := g.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				g.instr.logger.Error("grpc server stopped", "addr", lis.Addr().String(), "err", err)
			}
		}()
		g.instr.logger.Info("grpc bus listening", "addr", lis.Addr().String())
	}

	g.running = true
	return nil
}

// Stop останавливает сервер и закрывает клиентские соединения
func (g *GRPCAdapter) Stop(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.running {
		return nil
	}

	if g.server != nil {
		g.server.GracefulStop()
		g.server = nil
		g.listener = nil
	}

	var errs []error
	for target, conn := range g.clients {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(g.clients, target)
	}

	g.running = false
	return errors.Join(errs...)
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (g *GRPCAdapter) IsRunning() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.running
}

// Name возвращает имя адаптера
func (g *GRPCAdapter) Name() string {
	return "grpc-adapter"
}

// Addr возвращает фактический адрес сервера (после Start)
func (g *GRPCAdapter) Addr() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// AddRoute направляет subject с указанным префиксом в процесс target
func (g *GRPCAdapter) AddRoute(prefix, target string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.config.Routes[prefix] = target
}

// Publish доставляет сообщение в процесс по маршруту или локальным подписчикам
func (g *GRPCAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	target, ok := g.route(subject)
	if !ok {
		return g.local.Publish(ctx, subject, data, headers)
	}

	start := time.Now()
	_, err := g.invoke(ctx, target, grpcKindPublish, subject, data, headers)
	g.instr.record(ctx, "publish", start, err)
	return err
}

// Subscribe подписывается на сообщения, пришедшие в этот процесс
func (g *GRPCAdapter) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler) error {
	return g.local.Subscribe(ctx, subject, handler)
}

// Unsubscribe отписывается от subject
func (g *GRPCAdapter) Unsubscribe(subject string) error {
	return g.local.Unsubscribe(subject)
}

// Request выполняет unary вызов в процесс по маршруту или локальный запрос
func (g *GRPCAdapter) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) (*transport.Message, error) {
	target, ok := g.route(subject)
	if !ok {
		return g.local.Request(ctx, subject, data, timeout)
	}

	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply, err := g.invoke(reqCtx, target, grpcKindRequest, subject, data, nil)
	if err == nil {
		err = replyError(reply)
	}
	g.instr.record(ctx, "request", start, err)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// Respond регистрирует обработчик запросов, приходящих в этот процесс
func (g *GRPCAdapter) Respond(ctx context.Context, subject string, handler func(ctx context.Context, request *transport.Message) (*transport.Message, error)) error {
	return g.local.Respond(ctx, subject, handler)
}

// deliver обрабатывает входящий вызов Deliver
func (g *GRPCAdapter) deliver(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	kind, msg := structToMessage(in)

	switch kind {
	case grpcKindPublish:
		if err := g.local.Publish(ctx, msg.Subject, msg.Data, msg.Headers); err != nil {
			return nil, status.Error(codes.Unavailable, err.Error())
		}
		return messageToStruct(grpcKindPublish, &transport.Message{Subject: msg.Subject})
	case grpcKindRequest:
		timeout := 30 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		reply, err := g.local.Request(ctx, msg.Subject, msg.Data, timeout)
		if err != nil {
			if core.IsErrorCode(err, core.ErrTimeout) {
				return nil, status.Error(codes.DeadlineExceeded, err.Error())
			}
			reply = errorReply(msg.Subject, err)
		}
		return messageToStruct(grpcKindRequest, reply)
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown message kind %q", kind)
	}
}

func (g *GRPCAdapter) invoke(ctx context.Context, target, kind, subject string, data []byte, headers map[string]string) (*transport.Message, error) {
	conn, err := g.client(target)
	if err != nil {
		return nil, err
	}

	in, err := messageToStruct(kind, &transport.Message{Subject: subject, Data: data, Headers: headers})
	if err != nil {
		return nil, core.Wrap(err, core.ErrTransport, "failed to encode message")
	}

	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, grpcDeliverMethod, in, out); err != nil {
		if status.Code(err) == codes.DeadlineExceeded || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, core.Wrap(err, core.ErrTimeout, "request to "+subject+" timed out")
		}
		return nil, core.Wrap(err, core.ErrTransport, "grpc delivery to "+target+" failed")
	}

	_, reply := structToMessage(out)
	return reply, nil
}

func (g *GRPCAdapter) client(target string) (*grpc.ClientConn, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if conn, ok := g.clients[target]; ok {
		return conn, nil
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(observability.GRPCClientInterceptor()),
	}
	if g.config.MaxMessageSize > 0 {
		opts = append(opts, grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(g.config.MaxMessageSize)))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, core.Wrap(err, core.ErrTransport, "failed to create grpc client for "+target)
	}
	g.clients[target] = conn
	return conn, nil
}

// route ищет процесс по самому длинному совпадающему префиксу subject
func (g *GRPCAdapter) route(subject string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	prefixes := make([]string, 0, len(g.config.Routes))
	for prefix := range g.config.Routes {
		prefixes = append(prefixes, prefix)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })

	for _, prefix := range prefixes {
		if subject == prefix || strings.HasPrefix(subject, prefix+".") {
			return g.config.Routes[prefix], true
		}
	}
	return "", false
}

func messageToStruct(kind string, msg *transport.Message) (*structpb.Struct, error) {
	headers := make(map[string]interface{}, len(msg.Headers))
	for k, v := range msg.Headers {
		headers[k] = v
	}
	return structpb.NewStruct(map[string]interface{}{
		"kind":    kind,
		"subject": msg.Subject,
		"data":    base64.StdEncoding.EncodeToString(msg.Data),
		"headers": headers,
	})
}

func structToMessage(s *structpb.Struct) (string, *transport.Message) {
	fields := s.GetFields()
	msg := &transport.Message{
		Subject: fields["subject"].GetStringValue(),
		Headers: make(map[string]string),
	}
	if data, err := base64.StdEncoding.DecodeString(fields["data"].GetStringValue()); err == nil && len(data) > 0 {
		msg.Data = data
	}
	for k, v := range fields["headers"].GetStructValue().GetFields() {
		msg.Headers[k] = v.GetStringValue()
	}
	return fields["kind"].GetStringValue(), msg
}

var _ transport.RequestReplyBus = (*GRPCAdapter)(nil)
