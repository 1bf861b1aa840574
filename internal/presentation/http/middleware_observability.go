package httppresentation

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"

	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
)

const (
	headerRequestID = "X-Request-ID"
	headerTenantID  = "X-Tenant-ID"
	unknownRoute    = "unknown"
)

// ObservabilityMiddleware extracts W3C trace context, opens the server span,
// stores a request-scoped logger, echoes X-Request-ID and records HTTP
// metrics plus one access log line per request. Routes are labelled by their
// gin template to keep cardinality low.
func ObservabilityMiddleware(base observability.Logger, tel observability.Observability) gin.HandlerFunc {
	if tel == nil {
		tel = observability.Nop()
	}
	if base == nil {
		base = tel.Logger()
	}
	prop := otel.GetTextMapPropagator()
	tracer := tel.Tracer()
	requests := tel.Metrics().Counter(observability.MHTTPRequests)
	duration := tel.Metrics().Histogram(observability.MHTTPRequestDuration)

	return func(c *gin.Context) {
		start := time.Now()
		r := c.Request
		route := c.FullPath()
		if route == "" {
			route = unknownRoute
		}

		ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method+" "+route,
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
			attribute.String("http.target", r.URL.Path),
			attribute.String("http.user_agent", r.UserAgent()),
		)
		defer span.End()

		rid := r.Header.Get(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header(headerRequestID, rid)

		fields := []observability.Field{observability.F("request_id", rid)}
		if tid := r.Header.Get(headerTenantID); tid != "" {
			fields = append(fields, observability.F("tenant_id", tid))
		}
		fields = append(fields, logctx.TraceFields(ctx)...)
		logger := base.With(fields...)
		c.Request = r.WithContext(logctx.With(ctx, logger))

		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("http_panic",
					observability.F("panic", fmt.Sprint(rec)),
					observability.F("stack", string(debug.Stack())),
				)
				span.SetStatus(codes.Error, "panic")
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Error: "internal_error", Message: "internal server error"})
			}

			status := c.Writer.Status()
			statusLabel := strconv.Itoa(status)
			span.SetAttributes(attribute.Int("http.status_code", status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
			elapsed := time.Since(start)
			requests.Add(1, observability.L("method", r.Method), observability.L("route", route), observability.L("status", statusLabel))
			duration.Observe(elapsed.Seconds(), observability.L("method", r.Method), observability.L("route", route), observability.L("status", statusLabel))

			logger.Info("http_access",
				observability.F("method", r.Method),
				observability.F("route", route),
				observability.F("path", r.URL.Path),
				observability.F("status", status),
				observability.F("latency_ms", elapsed.Milliseconds()),
			)
		}()

		c.Next()
	}
}
