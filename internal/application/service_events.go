package application

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/ppv-access-service/internal/contracts"
	"github.com/viralforge/ppv-access-service/internal/domain"
	"github.com/viralforge/ppv-access-service/internal/ports"
)

func (s *Service) buildOutboxEvent(eventType string, data any, partitionKey string, now time.Time) (ports.OutboxEvent, error) {
	if !domain.IsCanonicalEmittedEvent(eventType) {
		return ports.OutboxEvent{}, fmt.Errorf("%w: unsupported event type %s", domain.ErrInvalidInput, eventType)
	}
	partitionKey = strings.TrimSpace(partitionKey)
	if partitionKey == "" {
		return ports.OutboxEvent{}, fmt.Errorf("%w: partition key is required", domain.ErrInvalidInput)
	}
	b, err := json.Marshal(data)
	if err != nil {
		return ports.OutboxEvent{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	eventID := uuid.New()
	env := contracts.EventEnvelope{
		EventID:          eventID.String(),
		EventType:        eventType,
		OccurredAt:       now,
		PartitionKeyPath: domain.CanonicalPartitionKeyPath(eventType),
		PartitionKey:     partitionKey,
		SourceService:    s.cfg.ServiceName,
		TraceID:          uuid.NewString(),
		SchemaVersion:    "v1",
		Data:             b,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return ports.OutboxEvent{}, fmt.Errorf("marshal %s envelope: %w", eventType, err)
	}
	return ports.OutboxEvent{
		EventID:      eventID,
		EventType:    eventType,
		PartitionKey: partitionKey,
		Payload:      payload,
		OccurredAt:   now,
	}, nil
}

func (s *Service) accessGrantedEvent(purchase domain.Purchase, token domain.AccessToken, event domain.Event, now time.Time) (ports.OutboxEvent, error) {
	return s.buildOutboxEvent(domain.EventAccessGranted, contracts.AccessGrantedPayload{
		PurchaseID:      purchase.PurchaseID,
		PaymentIntentID: purchase.PaymentIntentID,
		EventID:         event.EventID,
		EventTitle:      event.Title,
		CustomerEmail:   purchase.CustomerEmail,
		CustomerName:    purchase.CustomerName,
		AmountMinor:     purchase.AmountMinor,
		Currency:        purchase.Currency,
		AccessURL:       s.accessURL(token.Token),
		ExpiresAt:       token.ExpiresAt.UTC().Format(time.RFC3339),
		GrantedAt:       token.GrantedAt.UTC().Format(time.RFC3339),
	}, purchase.PaymentIntentID, now)
}

func (s *Service) accessRevokedEvent(purchase domain.Purchase, token domain.AccessToken, reason string, now time.Time) (ports.OutboxEvent, error) {
	return s.buildOutboxEvent(domain.EventAccessRevoked, contracts.AccessRevokedPayload{
		PurchaseID:      purchase.PurchaseID,
		PaymentIntentID: purchase.PaymentIntentID,
		EventID:         purchase.EventID,
		CustomerEmail:   purchase.CustomerEmail,
		TokenPrefix:     domain.Prefix(token.Token, logPrefixLen),
		Reason:          reason,
		RevokedAt:       now.UTC().Format(time.RFC3339),
	}, purchase.PaymentIntentID, now)
}

func (s *Service) purchaseFailedEvent(intent ports.PaymentIntent, now time.Time) (ports.OutboxEvent, error) {
	return s.buildOutboxEvent(domain.EventPurchaseFailed, contracts.PurchaseFailedPayload{
		PaymentIntentID: intent.IntentID,
		EventID:         intent.Metadata[ports.IntentMetaEventID],
		CustomerEmail:   intent.Metadata[ports.IntentMetaEmail],
		FailedAt:        now.UTC().Format(time.RFC3339),
	}, intent.IntentID, now)
}

func (s *Service) accessURL(token string) string {
	base := strings.TrimSpace(s.cfg.AccessBaseURL)
	if base == "" {
		return "?access=" + url.QueryEscape(token)
	}
	u, err := url.Parse(base)
	if err != nil {
		return base + "?access=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("access", token)
	u.RawQuery = q.Encode()
	return u.String()
}
