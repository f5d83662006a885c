package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/ppv-access-service/internal/metrics"
)

const ctxKeyRequestLog ctxKey = "request_log"

// requestLog collects fields resolved after routing, such as the dispatched
// action, so the access log line can name what the single endpoint did.
type requestLog struct {
	action string
}

func annotateAction(ctx context.Context, action string) {
	if rl, ok := ctx.Value(ctxKeyRequestLog).(*requestLog); ok {
		rl.action = action
	}
}

func actionFromContext(ctx context.Context) string {
	if rl, ok := ctx.Value(ctxKeyRequestLog).(*requestLog); ok {
		return rl.action
	}
	return ""
}

func httpLogger() *slog.Logger {
	return slog.Default().With(
		"service", "PPV-Access-Service",
		"module", "http",
		"layer", "adapter",
	)
}

// requestFields are attached to every log line for a request. Client IPs are
// already resolved against the trusted proxy set.
func requestFields(r *http.Request) []any {
	fields := []any{
		"request_id", requestIDFromContext(r.Context()),
		"client_ip", readIP(r),
	}
	if action := actionFromContext(r.Context()); action != "" {
		fields = append(fields, "action", action)
	}
	return fields
}

func logHTTPOperationError(r *http.Request, operation string, statusCode int, code, message string, err error) {
	fields := []any{
		"operation", operation,
		"outcome", "failure",
		"status_code", statusCode,
		"error_code", code,
		"message", message,
	}
	fields = append(fields, requestFields(r)...)
	if err != nil {
		fields = append(fields, "error", err.Error())
	}
	if statusCode >= 500 {
		httpLogger().ErrorContext(r.Context(), "http operation failed", fields...)
		return
	}
	httpLogger().WarnContext(r.Context(), "http operation failed", fields...)
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Write(payload []byte) (int, error) {
	if r.statusCode == 0 {
		r.statusCode = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(payload)
	r.bytes += n
	return n, err
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		r = r.WithContext(context.WithValue(r.Context(), ctxKeyRequestLog, &requestLog{}))
		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)

		statusCode := recorder.statusCode
		if statusCode == 0 {
			statusCode = http.StatusOK
		}
		outcome := "success"
		if statusCode >= 400 {
			outcome = "failure"
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		metrics.RecordHTTPRequest(route, r.Method, statusCode, elapsed)

		fields := []any{
			"operation", "http_request",
			"outcome", outcome,
			"method", r.Method,
			"route", route,
			"status_code", statusCode,
			"bytes", recorder.bytes,
			"duration_ms", elapsed.Milliseconds(),
		}
		fields = append(fields, requestFields(r)...)
		switch {
		case statusCode >= 500:
			httpLogger().ErrorContext(r.Context(), "http request completed", fields...)
		case statusCode >= 400:
			httpLogger().WarnContext(r.Context(), "http request completed", fields...)
		default:
			httpLogger().InfoContext(r.Context(), "http request completed", fields...)
		}
	})
}
