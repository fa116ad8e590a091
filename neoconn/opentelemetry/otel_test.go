//go:build unit

package opentelemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestHandleSpanError_NilSafety(t *testing.T) {
	t.Parallel()

	// Nil span and nil error must both be tolerated.
	HandleSpanError(nil, "failed", errors.New("boom"))

	_, span := noop.NewTracerProvider().Tracer("test").Start(context.Background(), "op")
	defer span.End()

	HandleSpanError(span, "failed", nil)
	HandleSpanError(span, "failed", errors.New("boom"))
}

func TestHandleSpanEvent_NilSafety(t *testing.T) {
	t.Parallel()

	HandleSpanEvent(nil, "ignored")

	_, span := noop.NewTracerProvider().Tracer("test").Start(context.Background(), "op")
	defer span.End()

	HandleSpanEvent(span, "probe.failed", attribute.String("alias", "root"))
}
