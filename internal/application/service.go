package application

import (
	"time"

	"github.com/viralforge/ppv-access-service/internal/domain"
	"github.com/viralforge/ppv-access-service/internal/ports"
)

const serviceName = "PPV-Access-Service"

type Service struct {
	cfg          Config
	events       ports.EventRepository
	purchases    ports.PurchaseRepository
	tokens       ports.AccessTokenRepository
	violations   ports.ViolationRepository
	outbox       ports.OutboxRepository
	locker       ports.Locker
	revocations  ports.RevocationStore
	securityGate ports.SecurityGate
	payments     ports.PaymentProvider
	webhooks     ports.WebhookVerifier
	tokenGen     ports.TokenGenerator
	playback     ports.PlaybackSigner
	nowFn        func() time.Time
}

type Dependencies struct {
	Config       Config
	Events       ports.EventRepository
	Purchases    ports.PurchaseRepository
	Tokens       ports.AccessTokenRepository
	Violations   ports.ViolationRepository
	Outbox       ports.OutboxRepository
	Locker       ports.Locker
	Revocations  ports.RevocationStore
	SecurityGate ports.SecurityGate
	Payments     ports.PaymentProvider
	Webhooks     ports.WebhookVerifier
	TokenGen     ports.TokenGenerator
	Playback     ports.PlaybackSigner
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = serviceName
	}
	if cfg.AccessValidity <= 0 {
		cfg.AccessValidity = 30 * 24 * time.Hour
	}
	if cfg.MaxConcurrentDevices <= 0 {
		cfg.MaxConcurrentDevices = domain.DefaultMaxConcurrentDevices
	}
	if cfg.DeviceInactivityTimeout <= 0 {
		cfg.DeviceInactivityTimeout = 150 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 60 * time.Second
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "eur"
	}
	if cfg.CriticalViolationTypes == nil {
		cfg.CriticalViolationTypes = domain.DefaultCriticalViolationTypes()
	}
	if cfg.SecurityGateTimeout <= 0 {
		cfg.SecurityGateTimeout = 3 * time.Second
	}
	if cfg.PaymentProviderTimeout <= 0 {
		cfg.PaymentProviderTimeout = 10 * time.Second
	}
	if cfg.IntentLockTTL <= 0 {
		cfg.IntentLockTTL = 30 * time.Second
	}
	if cfg.PlaybackGrantTTL <= 0 {
		cfg.PlaybackGrantTTL = 5 * time.Minute
	}
	return &Service{
		cfg:          cfg,
		events:       deps.Events,
		purchases:    deps.Purchases,
		tokens:       deps.Tokens,
		violations:   deps.Violations,
		outbox:       deps.Outbox,
		locker:       deps.Locker,
		revocations:  deps.Revocations,
		securityGate: deps.SecurityGate,
		payments:     deps.Payments,
		webhooks:     deps.Webhooks,
		tokenGen:     deps.TokenGen,
		playback:     deps.Playback,
		nowFn:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the wall clock. Intended for tests and replay tooling.
func (s *Service) SetClock(nowFn func() time.Time) {
	if nowFn != nil {
		s.nowFn = nowFn
	}
}

func (s *Service) devicePolicy() domain.DevicePolicy {
	return domain.DevicePolicy{InactivityTimeout: s.cfg.DeviceInactivityTimeout}
}

func (s *Service) violationPolicy() domain.ViolationPolicy {
	return domain.ViolationPolicy{
		CriticalTypes:    s.cfg.CriticalViolationTypes,
		SuspendThreshold: s.cfg.ViolationSuspendThreshold,
	}
}

// PublicJWKs exposes the playback grant verification keys.
func (s *Service) PublicJWKs() ([]map[string]any, error) {
	if s.playback == nil {
		return []map[string]any{}, nil
	}
	return s.playback.PublicJWKs()
}
