package postgres

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/viralforge/ppv-access-service/internal/domain"
	"github.com/viralforge/ppv-access-service/internal/ports"
	"gorm.io/gorm"
)

func toDomainEvent(m eventModel) domain.Event {
	return domain.Event{
		EventID:             m.EventID,
		Title:               m.Title,
		PriceMinor:          m.PriceMinor,
		EarlyBirdPriceMinor: m.EarlyBirdPriceMinor,
		EarlyBirdUntil:      m.EarlyBirdUntil,
		Currency:            m.Currency,
		StreamLocator:       m.StreamLocator,
		Status:              m.Status,
		StartsAt:            m.StartsAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

func fromDomainEvent(e domain.Event) eventModel {
	return eventModel{
		EventID:             e.EventID,
		Title:               e.Title,
		PriceMinor:          e.PriceMinor,
		EarlyBirdPriceMinor: e.EarlyBirdPriceMinor,
		EarlyBirdUntil:      e.EarlyBirdUntil,
		Currency:            e.Currency,
		StreamLocator:       e.StreamLocator,
		Status:              e.Status,
		StartsAt:            e.StartsAt,
		UpdatedAt:           e.UpdatedAt,
	}
}

func toDomainPurchase(m purchaseModel) domain.Purchase {
	return domain.Purchase{
		PurchaseID:      m.PurchaseID.String(),
		EventID:         m.EventID,
		CustomerEmail:   m.CustomerEmail,
		CustomerName:    m.CustomerName,
		AmountMinor:     m.AmountMinor,
		Currency:        m.Currency,
		PaymentIntentID: m.PaymentIntentID,
		Status:          m.Status,
		SecurityScore:   m.SecurityScore,
		PurchasedAt:     m.PurchasedAt,
		AccessExpiresAt: m.AccessExpiresAt,
		RefundedAt:      m.RefundedAt,
		IPAddress:       m.IPAddress,
	}
}

func fromDomainPurchase(p domain.Purchase) (purchaseModel, error) {
	id, err := uuid.Parse(p.PurchaseID)
	if err != nil {
		return purchaseModel{}, fmt.Errorf("%w: purchase id", domain.ErrInvalidInput)
	}
	return purchaseModel{
		PurchaseID:      id,
		EventID:         p.EventID,
		CustomerEmail:   p.CustomerEmail,
		CustomerName:    p.CustomerName,
		AmountMinor:     p.AmountMinor,
		Currency:        p.Currency,
		PaymentIntentID: p.PaymentIntentID,
		Status:          p.Status,
		SecurityScore:   p.SecurityScore,
		PurchasedAt:     p.PurchasedAt,
		AccessExpiresAt: p.AccessExpiresAt,
		RefundedAt:      p.RefundedAt,
		IPAddress:       p.IPAddress,
	}, nil
}

func toDomainToken(m accessTokenModel, sessions []deviceSessionModel) domain.AccessToken {
	out := domain.AccessToken{
		Token:                m.Token,
		PurchaseID:           m.PurchaseID.String(),
		EventID:              m.EventID,
		CustomerEmail:        m.CustomerEmail,
		GrantedAt:            m.GrantedAt,
		ExpiresAt:            m.ExpiresAt,
		RevokedAt:            m.RevokedAt,
		MaxConcurrentDevices: m.MaxConcurrentDevices,
		DeviceSessions:       make(map[string]domain.DeviceSession, len(sessions)),
		SharingViolations:    m.SharingViolations,
		ReportedViolations:   m.ReportedViolations,
		LastAccessedAt:       m.LastAccessedAt,
		AccessCount:          m.AccessCount,
	}
	for _, s := range sessions {
		out.DeviceSessions[s.DeviceID] = domain.DeviceSession{
			DeviceID:    s.DeviceID,
			FirstSeenAt: s.FirstSeenAt,
			LastSeenAt:  s.LastSeenAt,
			OriginIP:    s.OriginIP,
			UserAgent:   s.UserAgent,
		}
	}
	return out
}

func fromDomainToken(t domain.AccessToken) (accessTokenModel, []deviceSessionModel, error) {
	purchaseID, err := uuid.Parse(t.PurchaseID)
	if err != nil {
		return accessTokenModel{}, nil, fmt.Errorf("%w: purchase id", domain.ErrInvalidInput)
	}
	sessions := make([]deviceSessionModel, 0, len(t.DeviceSessions))
	for _, s := range t.SortedSessions() {
		sessions = append(sessions, deviceSessionModel{
			Token:       t.Token,
			DeviceID:    s.DeviceID,
			FirstSeenAt: s.FirstSeenAt,
			LastSeenAt:  s.LastSeenAt,
			OriginIP:    s.OriginIP,
			UserAgent:   s.UserAgent,
		})
	}
	return accessTokenModel{
		Token:                t.Token,
		PurchaseID:           purchaseID,
		EventID:              t.EventID,
		CustomerEmail:        t.CustomerEmail,
		GrantedAt:            t.GrantedAt,
		ExpiresAt:            t.ExpiresAt,
		RevokedAt:            t.RevokedAt,
		MaxConcurrentDevices: t.MaxDevices(),
		SharingViolations:    t.SharingViolations,
		ReportedViolations:   t.ReportedViolations,
		LastAccessedAt:       t.LastAccessedAt,
		AccessCount:          t.AccessCount,
	}, sessions, nil
}

func toOutboxModel(event ports.OutboxEvent) outboxModel {
	payload := event.Payload
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	return outboxModel{
		OutboxID:     event.EventID,
		EventType:    event.EventType,
		PartitionKey: event.PartitionKey,
		Payload:      string(payload),
		CreatedAt:    event.OccurredAt,
	}
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
