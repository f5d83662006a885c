package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/viralforge/ppv-access-service/internal/domain"
	"github.com/viralforge/ppv-access-service/internal/metrics"
	"github.com/viralforge/ppv-access-service/internal/ports"
)

// HandleProviderWebhook verifies and applies a provider delivery. Duplicate
// deliveries are absorbed by the idempotent completion and refund paths.
func (s *Service) HandleProviderWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	if s.webhooks == nil {
		return WebhookResult{}, errors.New("webhook verifier not configured")
	}
	evt, err := s.webhooks.Verify(payload, signature)
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues("unknown", "invalid_signature").Inc()
		s.logWarn(ctx, "webhook rejected", "handle_webhook", "rejected", "error", err)
		if errors.Is(err, domain.ErrInvalidSignature) || errors.Is(err, domain.ErrInvalidInput) {
			return WebhookResult{}, err
		}
		return WebhookResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	result := WebhookResult{EventType: evt.Type}
	switch evt.Type {
	case ports.WebhookPaymentSucceeded:
		in, err := s.inputFromIntent(evt.Intent, "", "", completionSourceWebhook)
		if err != nil {
			metrics.WebhooksTotal.WithLabelValues(evt.Type, "failure").Inc()
			return result, err
		}
		if _, _, err := s.completePurchase(ctx, in); err != nil {
			metrics.WebhooksTotal.WithLabelValues(evt.Type, "failure").Inc()
			return result, err
		}
		result.Handled = true
	case ports.WebhookChargeRefunded:
		if _, err := s.RefundPurchase(ctx, evt.Intent.IntentID, "charge_refunded"); err != nil {
			if isNotFound(err) {
				s.logWarn(ctx, "refund for unknown purchase ignored", "handle_webhook", "ignored",
					"payment_intent_id", evt.Intent.IntentID,
				)
				metrics.WebhooksTotal.WithLabelValues(evt.Type, "ignored").Inc()
				return result, nil
			}
			metrics.WebhooksTotal.WithLabelValues(evt.Type, "failure").Inc()
			return result, err
		}
		result.Handled = true
	case ports.WebhookPaymentFailed:
		if err := s.recordPaymentFailure(ctx, evt.Intent); err != nil {
			metrics.WebhooksTotal.WithLabelValues(evt.Type, "failure").Inc()
			return result, err
		}
		result.Handled = true
	default:
		metrics.WebhooksTotal.WithLabelValues(evt.Type, "ignored").Inc()
		return result, nil
	}
	metrics.WebhooksTotal.WithLabelValues(evt.Type, "success").Inc()
	return result, nil
}

// RefundPurchase moves the purchase to refunded and revokes its token in one
// repository transaction, then writes the revocation marker.
func (s *Service) RefundPurchase(ctx context.Context, paymentIntentID, reason string) (domain.Purchase, error) {
	intentID, err := required(paymentIntentID, "payment_intent_id")
	if err != nil {
		return domain.Purchase{}, err
	}
	release, err := s.acquireIntentLock(ctx, intentID)
	if err != nil {
		return domain.Purchase{}, err
	}
	defer release()

	purchase, err := s.purchases.GetByPaymentIntentID(ctx, intentID)
	if err != nil {
		if isNotFound(err) {
			return domain.Purchase{}, fmt.Errorf("%w: purchase for intent", domain.ErrNotFound)
		}
		return domain.Purchase{}, fmt.Errorf("load purchase: %w", err)
	}
	token, err := s.tokens.GetByPurchaseID(ctx, purchase.PurchaseID)
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("load token for purchase: %w", err)
	}

	now := s.nowFn()
	revoked, err := s.accessRevokedEvent(purchase, token, strings.TrimSpace(reason), now)
	if err != nil {
		return domain.Purchase{}, err
	}
	res, err := s.purchases.Refund(ctx, intentID, now, []ports.OutboxEvent{revoked})
	if err != nil {
		s.logError(ctx, "refund revocation failed", "refund_purchase", "failure",
			"payment_intent_id", intentID,
			"error", err,
		)
		return domain.Purchase{}, fmt.Errorf("refund purchase: %w", err)
	}

	if s.revocations != nil {
		if err := s.revocations.MarkRevoked(ctx, res.Token.Token, res.Token.ExpiresAt); err != nil {
			s.logWarn(ctx, "revocation marker write failed", "refund_purchase", "degraded",
				"token_prefix", domain.Prefix(res.Token.Token, logPrefixLen),
				"error", err,
			)
		}
	}

	if res.Changed {
		metrics.RefundsTotal.WithLabelValues("revoked").Inc()
		s.logInfo(ctx, "purchase refunded and access revoked", "refund_purchase", "success",
			"payment_intent_id", intentID,
			"purchase_id", res.Purchase.PurchaseID,
			"token_prefix", domain.Prefix(res.Token.Token, logPrefixLen),
		)
	} else {
		metrics.RefundsTotal.WithLabelValues("replayed").Inc()
	}
	return res.Purchase, nil
}

func (s *Service) recordPaymentFailure(ctx context.Context, intent ports.PaymentIntent) error {
	if s.outbox == nil || strings.TrimSpace(intent.IntentID) == "" {
		return nil
	}
	now := s.nowFn()
	evt, err := s.purchaseFailedEvent(intent, now)
	if err != nil {
		return err
	}
	if err := s.outbox.Enqueue(ctx, evt); err != nil {
		return fmt.Errorf("enqueue purchase failed event: %w", err)
	}
	s.logInfo(ctx, "payment failure recorded", "record_payment_failure", "success",
		"payment_intent_id", intent.IntentID,
	)
	return nil
}
