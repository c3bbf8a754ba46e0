package tracing

import (
	"context"
	"errors"

	"github.com/smallbiznis/payflow/internal/apperr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var blockedAttributeKeys = map[attribute.Key]struct{}{
	"comment":      {},
	"reason":       {},
	"bank_account": {},
	"payee":        {},
}

// SafeAttributes drops attributes that may carry free text or account data.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, blocked := blockedAttributeKeys[attr.Key]; blocked {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError reduces err to its classification so spans never carry
// user-entered text.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	if code := apperr.Code(err); code != "" {
		return errors.New(code)
	}
	return errors.New("internal_error")
}

// StartSpan starts a span on tracer with filtered attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(SafeAttributes(attrs...)...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(SafeError(err))
		span.SetStatus(codes.Error, apperr.Code(err))
	}
	span.End()
}
