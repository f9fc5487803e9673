package trace

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nightshard/shardnode/model/flow"
)

const tracerName = "github.com/nightshard/shardnode"

// Tracer is the tracer used by all components. Spans are created from the
// given OpenTelemetry provider.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer backed by the given provider.
func NewTracer(provider trace.TracerProvider) *Tracer {
	return &Tracer{tracer: provider.Tracer(tracerName)}
}

// NewNoopTracer creates a tracer that records nothing.
func NewNoopTracer() *Tracer {
	return NewTracer(noop.NewTracerProvider())
}

func (t *Tracer) StartBlockSpan(ctx context.Context, blockID flow.Identifier, spanName SpanName, opts ...trace.SpanStartOption) (trace.Span, context.Context) {
	opts = append(opts, trace.WithAttributes(attribute.String("block_id", blockID.String())))
	return t.StartSpanFromContext(ctx, spanName, opts...)
}

func (t *Tracer) StartChunkSpan(ctx context.Context, chunkID flow.Identifier, spanName SpanName, opts ...trace.SpanStartOption) (trace.Span, context.Context) {
	opts = append(opts, trace.WithAttributes(attribute.String("chunk_id", chunkID.String())))
	return t.StartSpanFromContext(ctx, spanName, opts...)
}

func (t *Tracer) StartSpanFromContext(ctx context.Context, operationName SpanName, opts ...trace.SpanStartOption) (trace.Span, context.Context) {
	ctx, span := t.tracer.Start(ctx, string(operationName), opts...)
	return span, ctx
}
