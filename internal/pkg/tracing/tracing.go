package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/GoPolymarket/pointgate"

// Start opens a span tagged with the tenant and member it acts on.
func Start(ctx context.Context, name, tenantID, memberID string) (context.Context, trace.Span) {
	return otel.Tracer(instrumentation).Start(ctx, name,
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("member.id", memberID),
		),
	)
}

// End records err on the span before ending it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
