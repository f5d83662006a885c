package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/viralforge/ppv-access-service/internal/domain"
	"github.com/viralforge/ppv-access-service/internal/metrics"
)

const maxViolationDetails = 500

// Heartbeat re-runs device admission for a playing device. A denial comes
// back as a superseded signal so the client tears playback down at once.
func (s *Service) Heartbeat(ctx context.Context, req HeartbeatRequest) (HeartbeatResponse, error) {
	tokenValue, err := required(req.Token, "token")
	if err != nil {
		return HeartbeatResponse{}, err
	}
	if _, err := required(req.Device.DeviceID, "device_id"); err != nil {
		return HeartbeatResponse{}, err
	}

	action := ""
	for _, signal := range req.Signals {
		resp, err := s.ReportViolation(ctx, ReportViolationRequest{
			Token:     tokenValue,
			DeviceID:  req.Device.DeviceID,
			Violation: signal,
		})
		if err != nil {
			if errors.Is(err, domain.ErrInvalidInput) {
				continue
			}
			return HeartbeatResponse{}, err
		}
		action = domain.StrongerAction(action, resp.Action)
	}

	token, event, err := s.loadUsable(ctx, tokenValue)
	if err != nil {
		metrics.HeartbeatsTotal.WithLabelValues(heartbeatOutcome(err)).Inc()
		return HeartbeatResponse{}, err
	}
	grant, err := s.admitAndGrant(ctx, token, event, req.Device, admitOptions{
		path:       admissionPathHeartbeat,
		superseded: true,
	})
	if err != nil {
		metrics.HeartbeatsTotal.WithLabelValues(heartbeatOutcome(err)).Inc()
		return HeartbeatResponse{}, err
	}
	metrics.HeartbeatsTotal.WithLabelValues("alive").Inc()
	return HeartbeatResponse{
		ActiveDeviceCount: grant.ActiveDevices,
		MaxDevices:        grant.MaxDevices,
		NextHeartbeatAt:   s.nowFn().Add(s.cfg.HeartbeatInterval),
		ExpiresAt:         grant.ExpiresAt,
		Action:            action,
	}, nil
}

func heartbeatOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrSessionSuperseded):
		return "superseded"
	case errors.Is(err, domain.ErrTokenNotFound):
		return "unknown_token"
	case errors.Is(err, domain.ErrTokenExpired), errors.Is(err, domain.ErrTokenRevoked), errors.Is(err, domain.ErrEventFinished):
		return "terminated"
	default:
		return "error"
	}
}

// ReportViolation logs a client-reported signal and returns the advisory
// action. Reports against unknown tokens are still logged.
func (s *Service) ReportViolation(ctx context.Context, req ReportViolationRequest) (ReportViolationResponse, error) {
	tokenValue, err := required(req.Token, "token")
	if err != nil {
		return ReportViolationResponse{}, err
	}
	violationType, err := required(req.Violation.Type, "violation.type")
	if err != nil {
		return ReportViolationResponse{}, err
	}
	violationType = strings.ToLower(violationType)
	details := domain.Truncate(strings.TrimSpace(req.Violation.Details), maxViolationDetails)

	cumulative := 1
	updated, err := s.tokens.Mutate(ctx, tokenValue, func(t *domain.AccessToken) error {
		t.ReportedViolations++
		return nil
	})
	switch {
	case err == nil:
		cumulative = updated.SharingViolations + updated.ReportedViolations
	case !isNotFound(err):
		return ReportViolationResponse{}, fmt.Errorf("record violation count: %w", err)
	}

	action := s.violationPolicy().Decide(violationType, cumulative)
	violation := domain.SecurityViolation{
		ViolationID:    uuid.NewString(),
		TokenPrefix:    domain.Prefix(tokenValue, logPrefixLen),
		DeviceIDPrefix: domain.Prefix(strings.TrimSpace(req.DeviceID), logPrefixLen),
		Type:           violationType,
		Details:        details,
		OccurredAt:     s.nowFn(),
	}
	if s.violations != nil {
		if err := s.violations.Append(ctx, violation); err != nil {
			return ReportViolationResponse{}, fmt.Errorf("append violation: %w", err)
		}
	}
	metrics.ViolationsTotal.WithLabelValues(violationType, action).Inc()
	s.logWarn(ctx, "security violation reported", "report_violation", action,
		"token_prefix", violation.TokenPrefix,
		"device_prefix", violation.DeviceIDPrefix,
		"violation_type", violationType,
		"cumulative_violations", cumulative,
	)
	return ReportViolationResponse{Action: action, CumulativeViolations: cumulative}, nil
}
