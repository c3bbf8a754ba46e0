package logger

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

type fieldsKey struct{}

// ContextWithFields returns a context carrying fields for FromContext and
// WithContext. Fields accumulate across calls.
func ContextWithFields(ctx context.Context, fields ...zap.Field) context.Context {
	if len(fields) == 0 {
		return ctx
	}
	existing := fieldsFromContext(ctx)
	merged := make([]zap.Field, 0, len(existing)+len(fields))
	merged = append(merged, existing...)
	merged = append(merged, fields...)
	return context.WithValue(ctx, fieldsKey{}, merged)
}

// ContextWithRequestID attaches a request id field.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return ContextWithFields(ctx, zap.String("request_id", requestID))
}

// ContextWithActor attaches the acting user and their approval level. Every
// log line written under ctx, SQL included, carries them.
func ContextWithActor(ctx context.Context, actorID string, level int) context.Context {
	return ContextWithFields(ctx,
		zap.String("actor_id", strings.TrimSpace(actorID)),
		zap.Int("actor_level", level),
	)
}

// ContextWithDocument attaches a document reference such as "VOUCHER:42".
func ContextWithDocument(ctx context.Context, document string) context.Context {
	if document == "" {
		return ctx
	}
	return ContextWithFields(ctx, zap.String("document", document))
}

// ContextWithBatch attaches a signature batch id.
func ContextWithBatch(ctx context.Context, batchID string) context.Context {
	if batchID == "" {
		return ctx
	}
	return ContextWithFields(ctx, zap.String("batch_id", batchID))
}

func fieldsFromContext(ctx context.Context) []zap.Field {
	fields, _ := ctx.Value(fieldsKey{}).([]zap.Field)
	return fields
}
