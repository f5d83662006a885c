package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/viralforge/ppv-access-service/internal/domain"
	"github.com/viralforge/ppv-access-service/internal/metrics"
	"github.com/viralforge/ppv-access-service/internal/ports"
)

const logPrefixLen = 8

// normalizeEmail canonicalizes and validates email format before persistence/comparison.
func normalizeEmail(email string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	if trimmed == "" {
		return "", fmt.Errorf("%w: email is required", domain.ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(trimmed); err != nil {
		return "", fmt.Errorf("%w: invalid email", domain.ErrInvalidInput)
	}
	return trimmed, nil
}

func required(value, field string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", domain.ErrInvalidInput, field)
	}
	return v, nil
}

// checkSecurity consults the gate under a timeout. Any gate failure denies.
func (s *Service) checkSecurity(ctx context.Context, sc ports.SecurityContext) (float64, error) {
	if s.securityGate == nil {
		return 0, nil
	}
	gateCtx, cancel := context.WithTimeout(ctx, s.cfg.SecurityGateTimeout)
	defer cancel()

	started := time.Now()
	decision, err := s.securityGate.Evaluate(gateCtx, sc)
	metrics.RecordExternalCall("security_gate", "evaluate", err, time.Since(started))
	if err != nil {
		metrics.SecurityGateDecisions.WithLabelValues(sc.Action, "unavailable").Inc()
		s.logWarn(ctx, "security gate unavailable; failing closed", "security_gate", "failure",
			"action", sc.Action,
			"error", err,
		)
		return 0, &domain.SecurityBlockedError{Reason: err.Error(), Code: "GATE_UNAVAILABLE"}
	}
	if !decision.Allowed {
		metrics.SecurityGateDecisions.WithLabelValues(sc.Action, "blocked").Inc()
		code := decision.Code
		if code == "" {
			code = "BLOCKED"
		}
		s.logWarn(ctx, "security gate denied request", "security_gate", "blocked",
			"action", sc.Action,
			"reason", decision.Reason,
			"code", code,
			"score", decision.Score,
		)
		return decision.Score, &domain.SecurityBlockedError{Reason: decision.Reason, Code: code, Score: decision.Score}
	}
	metrics.SecurityGateDecisions.WithLabelValues(sc.Action, "allowed").Inc()
	return decision.Score, nil
}

// isRevokedMarker checks the fast-path revocation marker. Store errors fall
// through to the authoritative token row.
func (s *Service) isRevokedMarker(ctx context.Context, token string) bool {
	if s.revocations == nil {
		return false
	}
	revoked, err := s.revocations.IsRevoked(ctx, token)
	if err != nil {
		s.logWarn(ctx, "revocation marker lookup failed", "check_revocation", "failure",
			"token_prefix", domain.Prefix(token, logPrefixLen),
			"error", err,
		)
		return false
	}
	return revoked
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrTokenNotFound) || errors.Is(err, domain.ErrEventNotFound)
}

func (s *Service) logInfo(ctx context.Context, msg, operation, outcome string, attrs ...any) {
	slog.Default().InfoContext(ctx, msg, s.logAttrs(operation, outcome, attrs)...)
}

func (s *Service) logWarn(ctx context.Context, msg, operation, outcome string, attrs ...any) {
	slog.Default().WarnContext(ctx, msg, s.logAttrs(operation, outcome, attrs)...)
}

func (s *Service) logError(ctx context.Context, msg, operation, outcome string, attrs ...any) {
	slog.Default().ErrorContext(ctx, msg, s.logAttrs(operation, outcome, attrs)...)
}

func (s *Service) logAttrs(operation, outcome string, attrs []any) []any {
	base := []any{
		"service", s.cfg.ServiceName,
		"module", "application",
		"layer", "application",
		"operation", operation,
		"outcome", outcome,
	}
	return append(base, attrs...)
}
