package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"sidescreen/pkg/logger"
	"sidescreen/pkg/tracing"
)

// TracingMiddleware opens a server span per control API request. The span's
// trace id and any device or session addressed by the route are added to the
// request's logging fields.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracing.TraceHTTPRequest(c.Request.Context(), c.Request.Method, route)
		defer span.End()

		if sc := span.SpanContext(); sc.HasTraceID() {
			ctx = logger.WithField(ctx, logger.TraceIDField, sc.TraceID().String())
		}
		if id := c.Param("id"); id != "" {
			switch {
			case strings.Contains(route, "/devices/"):
				span.SetAttributes(tracing.DeviceIDKey.String(id))
				ctx = logger.WithField(ctx, logger.DeviceIDField, id)
			case strings.Contains(route, "/sessions/"):
				span.SetAttributes(tracing.SessionIDKey.String(id))
				ctx = logger.WithField(ctx, logger.SessionIDField, id)
			}
		}
		if id := c.GetString(RequestIDKey); id != "" {
			span.SetAttributes(attribute.String("http.request_id", id))
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, c.Errors.String())
		}
		if len(c.Errors) > 0 {
			span.AddEvent("request_error", trace.WithAttributes(
				attribute.String("error", c.Errors.Last().Error()),
			))
		}
	}
}
