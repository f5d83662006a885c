package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/viralforge/ppv-access-service/internal/contracts"
	"github.com/viralforge/ppv-access-service/internal/domain"
)

type ctxKey string

const ctxKeyRequestID ctxKey = "request_id"

var errRateLimited = errors.New("rate limited")

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				fields := append([]any{
					"operation", "http_panic_recovery",
					"outcome", "failure",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
				}, requestFields(r)...)
				httpLogger().ErrorContext(r.Context(), "panic recovered", fields...)
				writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", genericMessage)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func requestIDFromContext(ctx context.Context) string {
	v := ctx.Value(ctxKeyRequestID)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

const genericMessage = "something went wrong, please try again"

// mapDomainError maps to (status, code, message). Gate denials stay vague and
// anything unclassified collapses to the generic message.
func mapDomainError(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED", "too many requests"
	case errors.Is(err, domain.ErrSecurityBlocked):
		return http.StatusForbidden, "SECURITY_BLOCKED", "request could not be verified"
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusBadRequest, "INVALID_SIGNATURE", "invalid signature"
	case errors.Is(err, domain.ErrEventNotFound):
		return http.StatusNotFound, "EVENT_NOT_FOUND", "event not found"
	case errors.Is(err, domain.ErrEventUnavailable):
		return http.StatusConflict, "EVENT_UNAVAILABLE", "event is not on sale"
	case errors.Is(err, domain.ErrEventFinished):
		return http.StatusGone, "EVENT_FINISHED", "event has finished"
	case errors.Is(err, domain.ErrNotCompleted):
		return http.StatusConflict, "PAYMENT_NOT_COMPLETED", "payment not completed"
	case errors.Is(err, domain.ErrTokenNotFound):
		return http.StatusNotFound, "TOKEN_NOT_FOUND", "access not found"
	case errors.Is(err, domain.ErrTokenExpired):
		return http.StatusGone, "TOKEN_EXPIRED", "access expired"
	case errors.Is(err, domain.ErrTokenRevoked):
		return http.StatusGone, "TOKEN_REVOKED", "access revoked"
	case errors.Is(err, domain.ErrSessionSuperseded):
		return http.StatusConflict, "SESSION_SUPERSEDED", err.Error()
	case errors.Is(err, domain.ErrDeviceDenied):
		return http.StatusForbidden, "DEVICE_LIMIT_REACHED", err.Error()
	case errors.Is(err, domain.ErrActiveSession):
		return http.StatusNotFound, "NOT_FOUND", "active session exists"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "not found"
	case errors.Is(err, domain.ErrProviderFailure):
		return http.StatusBadGateway, "PAYMENT_PROVIDER_ERROR", "payment could not be processed, please try again"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "CONFLICT", genericMessage
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", genericMessage
	}
}

// deviceDeniedDetails extracts wait guidance and sets Retry-After.
func deviceDeniedDetails(w http.ResponseWriter, err error) any {
	var denied *domain.DeviceDeniedError
	if !errors.As(err, &denied) {
		return nil
	}
	retry := int(denied.RetryAfter.Seconds())
	if retry > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retry))
	}
	return contracts.DeviceDeniedDetails{
		ActiveDevices:     denied.ActiveDevices,
		MaxDevices:        denied.MaxDevices,
		ActiveForMinutes:  int(denied.OldestSince.Minutes()),
		RetryAfterSeconds: retry,
	}
}
