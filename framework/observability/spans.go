package observability

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CorrelationIDHeader заголовок и ключ baggage для correlation ID
const CorrelationIDHeader = "X-Correlation-ID"

// Атрибуты span фреймворка
const (
	AttrProcess   = attribute.Key("taskflow.process")
	AttrComponent = attribute.Key("component.name")
	AttrInterface = attribute.Key("interface.name")
	AttrCommand   = attribute.Key("command.name")
	AttrAction    = attribute.Key("lifecycle.action")
	AttrResult    = attribute.Key("command.result")
)

// TraceLifecycle оборачивает операцию жизненного цикла (create, start, kill, connect) в span
func TraceLifecycle(ctx context.Context, tracer trace.Tracer, component, action string, fn func(context.Context) error) error {
	ctx, span := tracerOrDefault(tracer).Start(ctx, "lifecycle."+action,
		trace.WithAttributes(AttrComponent.String(component), AttrAction.String(action)))
	defer span.End()

	err := fn(ctx)
	finish(span, err)
	return err
}

// TraceCommand оборачивает вызов команды через proxy в span
func TraceCommand(ctx context.Context, tracer trace.Tracer, component, iface, command string, fn func(context.Context) error) error {
	ctx, span := tracerOrDefault(tracer).Start(ctx, "command."+iface+"."+command,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrComponent.String(component),
			AttrInterface.String(iface),
			AttrCommand.String(command),
		))
	defer span.End()

	err := fn(ctx)
	finish(span, err)
	return err
}

// AnnotateResult добавляет результат вызова команды в текущий span
func AnnotateResult(ctx context.Context, result string) {
	trace.SpanFromContext(ctx).SetAttributes(AttrResult.String(result))
}

func tracerOrDefault(tracer trace.Tracer) trace.Tracer {
	if tracer == nil {
		return otel.Tracer(TracerName)
	}
	return tracer
}

func finish(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// ExtractCorrelationID извлекает correlation ID из baggage, иначе trace ID
func ExtractCorrelationID(ctx context.Context) string {
	if member := baggage.FromContext(ctx).Member(CorrelationIDHeader); member.Key() == CorrelationIDHeader {
		return member.Value()
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.TraceID().IsValid() {
		return sc.TraceID().String()
	}
	return ""
}

// InjectCorrelationID добавляет correlation ID в baggage контекста
func InjectCorrelationID(ctx context.Context, correlationID string) context.Context {
	member, err := baggage.NewMember(CorrelationIDHeader, correlationID)
	if err != nil {
		return ctx
	}
	b, err := baggage.FromContext(ctx).SetMember(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, b)
}

// EnsureCorrelationID возвращает контекст с correlation ID, создавая новый при отсутствии
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := ExtractCorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return InjectCorrelationID(ctx, id), id
}
