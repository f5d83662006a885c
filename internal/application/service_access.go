package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/ppv-access-service/internal/domain"
	"github.com/viralforge/ppv-access-service/internal/metrics"
	"github.com/viralforge/ppv-access-service/internal/ports"
)

const (
	admissionPathVerify    = "verify_access"
	admissionPathEmail     = "lookup_access"
	admissionPathOriginIP  = "check_ip_access"
	admissionPathHeartbeat = "heartbeat"
)

// admitOptions tunes the shared admission step per entry point.
type admitOptions struct {
	path          string
	recordAccess  bool
	requireVacant bool
	superseded    bool
}

// VerifyAccess checks the token lifecycle and the event, then admits the
// device. The stream locator is only returned on admission.
func (s *Service) VerifyAccess(ctx context.Context, req VerifyAccessRequest) (AccessGrant, error) {
	tokenValue, err := required(req.Token, "token")
	if err != nil {
		return AccessGrant{}, err
	}
	if _, err := required(req.Device.DeviceID, "device_id"); err != nil {
		return AccessGrant{}, err
	}
	token, event, err := s.loadUsable(ctx, tokenValue)
	if err != nil {
		return AccessGrant{}, err
	}
	return s.admitAndGrant(ctx, token, event, req.Device, admitOptions{path: admissionPathVerify, recordAccess: true})
}

// LookupAccessByEmail recovers access from an email claim. It is gated by the
// security gate and then held to the same device admission as a token.
func (s *Service) LookupAccessByEmail(ctx context.Context, req LookupAccessRequest) (AccessGrant, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return AccessGrant{}, err
	}
	eventID, err := required(req.EventID, "event_id")
	if err != nil {
		return AccessGrant{}, err
	}
	if _, err := required(req.Device.DeviceID, "device_id"); err != nil {
		return AccessGrant{}, err
	}

	sc := req.Security
	sc.Action = "lookup_access"
	sc.Email = email
	if _, err := s.checkSecurity(ctx, sc); err != nil {
		return AccessGrant{}, err
	}

	event, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return AccessGrant{}, err
	}
	now := s.nowFn()
	tokens, err := s.tokens.ListByEventEmail(ctx, eventID, email)
	if err != nil {
		return AccessGrant{}, fmt.Errorf("list tokens: %w", err)
	}
	token, err := s.pickUsable(ctx, tokens, now)
	if err != nil {
		return AccessGrant{}, err
	}
	if event.Finished() {
		return AccessGrant{}, domain.ErrEventFinished
	}
	return s.admitAndGrant(ctx, token, event, req.Device, admitOptions{path: admissionPathEmail, recordAccess: true})
}

// LookupAccessByOriginIP is an alternate credential for the same admission
// rule. It only succeeds while the purchase's token has no live sessions.
func (s *Service) LookupAccessByOriginIP(ctx context.Context, req OriginIPAccessRequest) (AccessGrant, error) {
	eventID, err := required(req.EventID, "event_id")
	if err != nil {
		return AccessGrant{}, err
	}
	originIP, err := required(req.OriginIP, "origin_ip")
	if err != nil {
		return AccessGrant{}, err
	}
	purchase, err := s.purchases.LatestCompletedByOriginIP(ctx, eventID, originIP)
	if err != nil {
		if isNotFound(err) {
			return AccessGrant{}, fmt.Errorf("%w: no purchase from origin", domain.ErrNotFound)
		}
		return AccessGrant{}, fmt.Errorf("load purchase by origin: %w", err)
	}
	stored, err := s.tokens.GetByPurchaseID(ctx, purchase.PurchaseID)
	if err != nil {
		if isNotFound(err) {
			return AccessGrant{}, fmt.Errorf("%w: no token for purchase", domain.ErrNotFound)
		}
		return AccessGrant{}, fmt.Errorf("load token for purchase: %w", err)
	}
	token, event, err := s.loadUsable(ctx, stored.Token)
	if err != nil {
		return AccessGrant{}, err
	}
	device := req.Device
	if device.OriginIP == "" {
		device.OriginIP = originIP
	}
	return s.admitAndGrant(ctx, token, event, device, admitOptions{
		path:          admissionPathOriginIP,
		recordAccess:  true,
		requireVacant: true,
	})
}

// loadUsable resolves a token and its event in verification order:
// not found, revoked, expired, event finished.
func (s *Service) loadUsable(ctx context.Context, tokenValue string) (domain.AccessToken, domain.Event, error) {
	token, err := s.tokens.Get(ctx, tokenValue)
	if err != nil {
		if isNotFound(err) {
			return domain.AccessToken{}, domain.Event{}, domain.ErrTokenNotFound
		}
		return domain.AccessToken{}, domain.Event{}, fmt.Errorf("load token: %w", err)
	}
	if s.isRevokedMarker(ctx, tokenValue) {
		return domain.AccessToken{}, domain.Event{}, domain.ErrTokenRevoked
	}
	if err := token.CheckUsable(s.nowFn()); err != nil {
		return domain.AccessToken{}, domain.Event{}, err
	}
	event, err := s.loadEvent(ctx, token.EventID)
	if err != nil {
		return domain.AccessToken{}, domain.Event{}, err
	}
	if event.Finished() {
		return domain.AccessToken{}, domain.Event{}, domain.ErrEventFinished
	}
	return token, event, nil
}

// pickUsable returns the newest active token, or the most telling terminal
// error when none is usable.
func (s *Service) pickUsable(ctx context.Context, tokens []domain.AccessToken, now time.Time) (domain.AccessToken, error) {
	var terminal error
	for _, t := range tokens {
		if s.isRevokedMarker(ctx, t.Token) {
			terminal = domain.ErrTokenRevoked
			continue
		}
		err := t.CheckUsable(now)
		if err == nil {
			return t, nil
		}
		if terminal == nil {
			terminal = err
		}
	}
	if terminal != nil {
		return domain.AccessToken{}, terminal
	}
	return domain.AccessToken{}, domain.ErrTokenNotFound
}

// admitAndGrant runs the admission algorithm under the per-token lock.
// Denials still persist so the sharing counter survives.
func (s *Service) admitAndGrant(ctx context.Context, token domain.AccessToken, event domain.Event, device DeviceContext, opts admitOptions) (AccessGrant, error) {
	deviceID := strings.TrimSpace(device.DeviceID)
	var (
		adm        domain.Admission
		occupied   bool
		admittedAt time.Time
	)
	updated, err := s.tokens.Mutate(ctx, token.Token, func(t *domain.AccessToken) error {
		now := s.nowFn()
		if err := t.CheckUsable(now); err != nil {
			return err
		}
		if opts.requireVacant {
			swept := t.SweepInactive(now, s.cfg.DeviceInactivityTimeout)
			adm.Swept = swept
			if t.LiveSessions() > 0 {
				occupied = true
				return nil
			}
			if deviceID == "" {
				adm.Admitted = true
				adm.MaxDevices = t.MaxDevices()
				return nil
			}
		}
		swept := adm.Swept
		adm = t.ValidateDevice(domain.DeviceRequest{
			DeviceID:  deviceID,
			OriginIP:  strings.TrimSpace(device.OriginIP),
			UserAgent: strings.TrimSpace(device.UserAgent),
			At:        now,
		}, s.devicePolicy())
		adm.Swept += swept
		if adm.Admitted && opts.recordAccess {
			t.RecordAccess(now)
		}
		admittedAt = now
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return AccessGrant{}, domain.ErrTokenNotFound
		}
		return AccessGrant{}, err
	}
	if adm.Swept > 0 {
		metrics.DeviceSessionsSwept.Add(float64(adm.Swept))
	}

	if occupied {
		metrics.DeviceAdmissionsTotal.WithLabelValues(opts.path, "occupied").Inc()
		s.logInfo(ctx, "origin lookup refused; live session exists", opts.path, "denied",
			"token_prefix", domain.Prefix(token.Token, logPrefixLen),
			"active_devices", updated.LiveSessions(),
		)
		return AccessGrant{}, domain.ErrActiveSession
	}

	if adm.Denial != nil {
		metrics.DeviceAdmissionsTotal.WithLabelValues(opts.path, "denied").Inc()
		denial := *adm.Denial
		denial.Superseded = opts.superseded
		s.recordDeviceDenial(ctx, updated, deviceID, denial, opts.path)
		return AccessGrant{}, &denial
	}

	outcome := "known"
	if adm.NewSession {
		outcome = "new"
	}
	if deviceID == "" {
		outcome = "vacant"
	}
	metrics.DeviceAdmissionsTotal.WithLabelValues(opts.path, outcome).Inc()

	grant := AccessGrant{
		AccessToken:   updated.Token,
		Event:         event.Public(),
		Email:         updated.CustomerEmail,
		ExpiresAt:     updated.ExpiresAt,
		ActiveDevices: updated.LiveSessions(),
		MaxDevices:    updated.MaxDevices(),
	}
	if deviceID == "" {
		return grant, nil
	}
	grant.Event = event
	playback, expiresAt, err := s.issuePlayback(updated, event, deviceID, admittedAt)
	if err != nil {
		return AccessGrant{}, err
	}
	grant.PlaybackToken = playback
	grant.PlaybackExpiresAt = expiresAt
	return grant, nil
}

func (s *Service) recordDeviceDenial(ctx context.Context, token domain.AccessToken, deviceID string, denial domain.DeviceDeniedError, path string) {
	now := s.nowFn()
	violation := domain.SecurityViolation{
		ViolationID:    uuid.NewString(),
		TokenPrefix:    domain.Prefix(token.Token, logPrefixLen),
		DeviceIDPrefix: domain.Prefix(deviceID, logPrefixLen),
		Type:           domain.ViolationTypeDeviceLimit,
		Details:        fmt.Sprintf("%s: %d/%d devices active", path, denial.ActiveDevices, denial.MaxDevices),
		OccurredAt:     now,
	}
	if s.violations != nil {
		if err := s.violations.Append(ctx, violation); err != nil {
			s.logWarn(ctx, "violation log append failed", path, "degraded",
				"token_prefix", violation.TokenPrefix,
				"error", err,
			)
		}
	}
	metrics.ViolationsTotal.WithLabelValues(domain.ViolationTypeDeviceLimit, "deny").Inc()
	s.logWarn(ctx, "device admission denied", path, "denied",
		"token_prefix", violation.TokenPrefix,
		"device_prefix", violation.DeviceIDPrefix,
		"active_devices", denial.ActiveDevices,
		"max_devices", denial.MaxDevices,
		"sharing_violations", token.SharingViolations,
		"retry_after_seconds", int(denial.RetryAfter.Seconds()),
	)
}

func (s *Service) issuePlayback(token domain.AccessToken, event domain.Event, deviceID string, now time.Time) (string, *time.Time, error) {
	if s.playback == nil {
		return "", nil, nil
	}
	expiresAt := now.Add(s.cfg.PlaybackGrantTTL)
	if token.ExpiresAt.Before(expiresAt) {
		expiresAt = token.ExpiresAt
	}
	signed, err := s.playback.Sign(ports.PlaybackClaims{
		EventID:     event.EventID,
		TokenPrefix: domain.Prefix(token.Token, logPrefixLen),
		DeviceID:    deviceID,
		IssuedAt:    now,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		return "", nil, fmt.Errorf("sign playback grant: %w", err)
	}
	return signed, &expiresAt, nil
}

func (s *Service) loadEvent(ctx context.Context, eventID string) (domain.Event, error) {
	event, err := s.events.Get(ctx, eventID)
	if err != nil {
		if isNotFound(err) {
			return domain.Event{}, fmt.Errorf("%w: %s", domain.ErrEventNotFound, eventID)
		}
		return domain.Event{}, fmt.Errorf("load event: %w", err)
	}
	return event, nil
}
