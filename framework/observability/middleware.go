package observability

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// HTTPTracingMiddleware создает span на каждый запрос к API интроспекции
func HTTPTracingMiddleware(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := otel.Tracer(serviceName).Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", route),
			))
		defer span.End()

		if name := c.Param("name"); name != "" {
			span.SetAttributes(AttrComponent.String(name))
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if len(c.Errors) > 0 {
			span.RecordError(c.Errors.Last())
		}
		if status >= 500 {
			span.SetStatus(codes.Error, "server error")
		}
	}
}

// CorrelationIDMiddleware принимает или создает correlation ID и возвращает его в ответе
func CorrelationIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id := c.GetHeader(CorrelationIDHeader)
		if id == "" {
			ctx, id = EnsureCorrelationID(ctx)
		} else {
			ctx = InjectCorrelationID(ctx, id)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set(CorrelationIDHeader, id)
		c.Next()
	}
}

// GRPCServerInterceptor продолжает trace вызывающего процесса на стороне gRPC шины
func GRPCServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			ctx = otel.GetTextMapPropagator().Extract(ctx, MetadataCarrier(md))
		}

		ctx, span := otel.Tracer(TracerName).Start(ctx, info.FullMethod,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("rpc.method", info.FullMethod)))
		defer span.End()

		resp, err := handler(ctx, req)
		finish(span, err)
		return resp, err
	}
}

// GRPCClientInterceptor передает контекст trace в metadata исходящего вызова
func GRPCClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		md, ok := metadata.FromOutgoingContext(ctx)
		if !ok {
			md = metadata.MD{}
		} else {
			md = md.Copy()
		}
		otel.GetTextMapPropagator().Inject(ctx, MetadataCarrier(md))
		return invoker(metadata.NewOutgoingContext(ctx, md), method, req, reply, cc, opts...)
	}
}

// MetadataCarrier адаптер propagation для gRPC metadata
type MetadataCarrier metadata.MD

// Get возвращает первое значение ключа
func (m MetadataCarrier) Get(key string) string {
	if values := metadata.MD(m).Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}

// Set устанавливает значение ключа
func (m MetadataCarrier) Set(key, value string) {
	metadata.MD(m).Set(key, value)
}

// Keys возвращает все ключи
func (m MetadataCarrier) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
