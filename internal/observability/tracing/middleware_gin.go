package tracing

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware starts a server span per request on the operations endpoint.
// Routes in skip (scrape and probe paths) are served untraced.
func GinMiddleware(skip ...string) gin.HandlerFunc {
	tracer := otel.Tracer("payflow/ops")
	skipped := make(map[string]struct{}, len(skip))
	for _, route := range skip {
		skipped[route] = struct{}{}
	}

	return func(c *gin.Context) {
		route := c.FullPath()
		if _, ok := skipped[route]; ok {
			c.Next()
			return
		}
		if route == "" {
			route = "unknown"
		}

		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		attrs := []attribute.KeyValue{
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
		}
		if requestID := strings.TrimSpace(c.GetHeader("X-Request-Id")); requestID != "" {
			attrs = append(attrs, attribute.String("request_id", requestID))
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(SafeAttributes(append(attrs, attribute.Int("http.status_code", status))...)...)
		if status >= http.StatusInternalServerError {
			if last := c.Errors.Last(); last != nil {
				if err := SafeError(last.Err); err != nil {
					span.RecordError(err)
				}
			}
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}
