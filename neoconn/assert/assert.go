// Package assert evaluates internal invariants and emits telemetry when one
// is violated. Assertions return errors instead of panicking so callers can
// surface the violation through their normal error path.
package assert

import (
	"context"
	"errors"
	"reflect"

	"github.com/KazChe/lib-neoconn/neoconn/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrAssertionFailed is the sentinel error wrapped by every failed assertion.
var ErrAssertionFailed = errors.New("assertion failed")

// AssertionError carries the context of a failed assertion.
type AssertionError struct {
	Assertion string
	Message   string
	Component string
	Operation string
}

// Error returns the formatted assertion failure message.
func (e *AssertionError) Error() string {
	if e == nil {
		return ErrAssertionFailed.Error()
	}

	return "assertion failed: " + e.Message
}

// Unwrap returns the sentinel assertion error for errors.Is.
func (e *AssertionError) Unwrap() error {
	return ErrAssertionFailed
}

// Asserter evaluates invariants for one component/operation pair.
type Asserter struct {
	logger    log.Logger
	component string
	operation string
}

// New creates an Asserter. component and operation label the emitted
// telemetry; logger may be nil.
func New(logger log.Logger, component, operation string) *Asserter {
	if logger == nil {
		logger = log.NewNop()
	}

	return &Asserter{
		logger:    logger,
		component: component,
		operation: operation,
	}
}

// That returns an error if ok is false.
func (a *Asserter) That(ctx context.Context, ok bool, msg string) error {
	if ok {
		return nil
	}

	return a.fail(ctx, "That", msg)
}

// NotNil returns an error if v is nil, handling typed-nil interface values.
func (a *Asserter) NotNil(ctx context.Context, v any, msg string) error {
	if !isNil(v) {
		return nil
	}

	return a.fail(ctx, "NotNil", msg)
}

// Never always returns an error. Use for code paths that must be unreachable.
func (a *Asserter) Never(ctx context.Context, msg string) error {
	return a.fail(ctx, "Never", msg)
}

func (a *Asserter) fail(ctx context.Context, assertion, msg string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	component, operation := "", ""
	logger := log.NewNop()

	if a != nil {
		component, operation = a.component, a.operation
		logger = a.logger
	}

	logger.Log(ctx, log.LevelError, "invariant violated",
		log.String("assertion", assertion),
		log.String("component", component),
		log.String("operation", operation),
		log.String("message", msg),
	)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		span.AddEvent("assertion.failed", trace.WithAttributes(
			attribute.String("assertion", assertion),
			attribute.String("component", component),
			attribute.String("operation", operation),
			attribute.String("message", msg),
		))
	}

	return &AssertionError{
		Assertion: assertion,
		Message:   msg,
		Component: component,
		Operation: operation,
	}
}

// isNil reports whether v is nil, including interface values wrapping a nil
// pointer, map, slice, channel, or function.
func isNil(v any) bool {
	if v == nil {
		return true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
