// Package otel turns gateway events into OpenTelemetry spans.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	eventbus "github.com/hanpama/braid/internal/eventbus"
	events "github.com/hanpama/braid/internal/events"
	reqid "github.com/hanpama/braid/internal/reqid"
)

// Setup installs an OTLP trace exporter and subscribes span handlers to the
// global event bus. With an empty endpoint nothing is installed.
func Setup(ctx context.Context, endpoint, service string) (shutdown func(context.Context) error, err error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	unsubscribe := Register(otel.Tracer("braid"))
	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

// Register subscribes span handlers using tracer and returns a function
// that removes them.
func Register(tracer trace.Tracer) (unsubscribe func()) {
	s := &subscriber{tracer: tracer}
	return s.register()
}

type subscriber struct {
	tracer    trace.Tracer
	httpSpans sync.Map // rid -> trace.Span
	gqlSpans  sync.Map // rid -> trace.Span
	batches   sync.Map // rid/namespace/operation -> trace.Span
	queries   sync.Map // rid/namespace/operation -> trace.Span
	grpcSpans sync.Map // rid/service/method/target -> trace.Span
}

func rid(ctx context.Context) string {
	id, _ := reqid.FromContext(ctx)
	return id
}

func batchKey(ctx context.Context, namespace, operation string) string {
	return rid(ctx) + "/" + namespace + "/" + operation
}

// parent returns ctx carrying the innermost open span of its request.
func (s *subscriber) parent(ctx context.Context, maps ...*sync.Map) context.Context {
	for _, m := range maps {
		if v, ok := m.Load(rid(ctx)); ok {
			return trace.ContextWithSpan(ctx, v.(trace.Span))
		}
	}
	return ctx
}

func end(m *sync.Map, key string, err error, attrs ...attribute.KeyValue) {
	v, ok := m.LoadAndDelete(key)
	if !ok {
		return
	}
	span := v.(trace.Span)
	span.SetAttributes(attrs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *subscriber) register() func() {
	var offs []func()
	on := func(off func()) { offs = append(offs, off) }

	on(eventbus.Subscribe(func(ctx context.Context, e events.HTTPStart) {
		_, span := s.tracer.Start(ctx, "http.request")
		span.SetAttributes(
			semconv.HTTPMethodKey.String(e.Request.Method),
			attribute.String("http.target", e.Request.URL.Path),
		)
		s.httpSpans.Store(rid(ctx), span)
	}))
	on(eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
		end(&s.httpSpans, rid(ctx), nil, semconv.HTTPStatusCodeKey.Int(e.Status))
	}))

	on(eventbus.Subscribe(func(ctx context.Context, e events.GraphQLStart) {
		_, span := s.tracer.Start(s.parent(ctx, &s.httpSpans), "graphql.operation")
		span.SetAttributes(
			attribute.String("graphql.operation.name", e.OperationName),
			attribute.String("graphql.operation.type", e.OperationType),
		)
		s.gqlSpans.Store(rid(ctx), span)
	}))
	on(eventbus.Subscribe(func(ctx context.Context, e events.GraphQLFinish) {
		end(&s.gqlSpans, rid(ctx), nil, attribute.Int("graphql.error_count", len(e.Errors)))
	}))

	on(eventbus.Subscribe(func(ctx context.Context, e events.BatchStart) {
		_, span := s.tracer.Start(s.parent(ctx, &s.gqlSpans, &s.httpSpans), "braid.batch")
		span.SetAttributes(
			attribute.String("braid.namespace", e.Namespace),
			attribute.String("braid.operation", e.OperationName),
			attribute.Int("braid.batch.size", e.Size),
		)
		s.batches.Store(batchKey(ctx, e.Namespace, e.OperationName), span)
	}))
	on(eventbus.Subscribe(func(ctx context.Context, e events.BatchFinish) {
		end(&s.batches, batchKey(ctx, e.Namespace, e.OperationName), e.Err,
			attribute.Int("braid.batch.fields", e.Fields),
			attribute.Int("braid.batch.short_circuited", e.ShortCircuited),
			attribute.Bool("braid.batch.remote", e.Remote),
		)
	}))

	on(eventbus.Subscribe(func(ctx context.Context, e events.BackendQueryStart) {
		key := batchKey(ctx, e.Namespace, e.OperationName)
		parent := ctx
		if v, ok := s.batches.Load(key); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		}
		_, span := s.tracer.Start(parent, "braid.query", trace.WithSpanKind(trace.SpanKindClient))
		span.SetAttributes(
			attribute.String("braid.namespace", e.Namespace),
			attribute.String("braid.operation", e.OperationName),
			attribute.Int("braid.query.fields", e.Fields),
		)
		s.queries.Store(key, span)
	}))
	on(eventbus.Subscribe(func(ctx context.Context, e events.BackendQueryFinish) {
		end(&s.queries, batchKey(ctx, e.Namespace, e.OperationName), e.Err,
			attribute.Int("braid.query.error_count", e.ErrorCount))
	}))

	on(eventbus.Subscribe(func(ctx context.Context, e events.GRPCClientStart) {
		_, span := s.tracer.Start(s.parent(ctx, &s.gqlSpans, &s.httpSpans), "grpc.client", trace.WithSpanKind(trace.SpanKindClient))
		span.SetAttributes(
			semconv.RPCServiceKey.String(e.Service),
			semconv.RPCMethodKey.String(e.Method),
			attribute.String("net.peer.name", e.Target),
			attribute.String("braid.namespace", e.Namespace),
		)
		s.grpcSpans.Store(rid(ctx)+"/"+e.Service+"/"+e.Method+"/"+e.Target, span)
	}))
	on(eventbus.Subscribe(func(ctx context.Context, e events.GRPCClientFinish) {
		end(&s.grpcSpans, rid(ctx)+"/"+e.Service+"/"+e.Method+"/"+e.Target, e.Err,
			attribute.String("grpc.code", e.Code.String()))
	}))

	return func() {
		for _, off := range offs {
			off()
		}
	}
}
