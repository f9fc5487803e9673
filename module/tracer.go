package module

import (
	"context"

	otelTrace "go.opentelemetry.io/otel/trace"

	"github.com/nightshard/shardnode/model/flow"
	"github.com/nightshard/shardnode/module/trace"
)

var (
	_ Tracer = &trace.Tracer{}
)

// Tracer creates spans for the processing of blocks and chunks.
type Tracer interface {

	// StartBlockSpan starts a span for processing the given block. It also
	// returns the context including this span which can be used for nested calls.
	StartBlockSpan(ctx context.Context, blockID flow.Identifier, spanName trace.SpanName, opts ...otelTrace.SpanStartOption) (otelTrace.Span, context.Context)

	// StartChunkSpan starts a span for processing the given chunk.
	StartChunkSpan(ctx context.Context, chunkID flow.Identifier, spanName trace.SpanName, opts ...otelTrace.SpanStartOption) (otelTrace.Span, context.Context)

	// StartSpanFromContext starts a child span of the span stored in ctx, if any.
	StartSpanFromContext(ctx context.Context, operationName trace.SpanName, opts ...otelTrace.SpanStartOption) (otelTrace.Span, context.Context)
}
