// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("fleetctl")

// StartSpan starts a span under the process tracer, stamping a
// correlation id attribute when one is supplied.
func StartSpan(ctx context.Context, correlationID, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if correlationID != "" {
		attrs = append(attrs, attribute.String("correlation_id", correlationID))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordSpanError records err on span if non-nil; a no-op otherwise.
func RecordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
}
