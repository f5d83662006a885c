package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/viralforge/ppv-access-service/internal/domain"
	"github.com/viralforge/ppv-access-service/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type purchaseRepository struct {
	db *gorm.DB
}

// CompleteOnce writes purchase, token and outbox rows in one transaction.
// The advisory lock serializes completions of the same intent across
// replicas; the unique constraint on payment_intent_id backs it up.
func (r *purchaseRepository) CompleteOnce(ctx context.Context, params ports.CompletePurchaseParams) (ports.CompletePurchaseResult, error) {
	purchaseRow, err := fromDomainPurchase(params.Purchase)
	if err != nil {
		return ports.CompletePurchaseResult{}, err
	}
	tokenRow, sessionRows, err := fromDomainToken(params.Token)
	if err != nil {
		return ports.CompletePurchaseResult{}, err
	}

	var result ports.CompletePurchaseResult
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", purchaseRow.PaymentIntentID).Error; err != nil {
			return err
		}
		existing, err := loadPurchasePair(tx, purchaseRow.PaymentIntentID)
		if err == nil {
			result = existing
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		if err := tx.Create(&purchaseRow).Error; err != nil {
			return err
		}
		if err := tx.Create(&tokenRow).Error; err != nil {
			return err
		}
		if len(sessionRows) > 0 {
			if err := tx.Create(&sessionRows).Error; err != nil {
				return err
			}
		}
		for _, evt := range params.Outbox {
			row := toOutboxModel(evt)
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		result = ports.CompletePurchaseResult{
			Purchase: toDomainPurchase(purchaseRow),
			Token:    toDomainToken(tokenRow, sessionRows),
			Created:  true,
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a race the advisory lock did not cover; the winner's row is authoritative.
			existing, readErr := loadPurchasePair(r.db.WithContext(ctx), purchaseRow.PaymentIntentID)
			if readErr == nil {
				return existing, nil
			}
			return ports.CompletePurchaseResult{}, domain.ErrConflict
		}
		return ports.CompletePurchaseResult{}, err
	}
	return result, nil
}

func loadPurchasePair(tx *gorm.DB, paymentIntentID string) (ports.CompletePurchaseResult, error) {
	var purchase purchaseModel
	if err := tx.Where("payment_intent_id = ?", paymentIntentID).Take(&purchase).Error; err != nil {
		if isNotFound(err) {
			return ports.CompletePurchaseResult{}, domain.ErrNotFound
		}
		return ports.CompletePurchaseResult{}, err
	}
	var token accessTokenModel
	if err := tx.Where("purchase_id = ?", purchase.PurchaseID).Take(&token).Error; err != nil {
		if isNotFound(err) {
			return ports.CompletePurchaseResult{}, domain.ErrTokenNotFound
		}
		return ports.CompletePurchaseResult{}, err
	}
	sessions, err := loadSessions(tx, token.Token)
	if err != nil {
		return ports.CompletePurchaseResult{}, err
	}
	return ports.CompletePurchaseResult{
		Purchase: toDomainPurchase(purchase),
		Token:    toDomainToken(token, sessions),
		Created:  false,
	}, nil
}

func (r *purchaseRepository) GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (domain.Purchase, error) {
	var row purchaseModel
	err := r.db.WithContext(ctx).
		Where("payment_intent_id = ?", strings.TrimSpace(paymentIntentID)).
		Take(&row).Error
	if err != nil {
		if isNotFound(err) {
			return domain.Purchase{}, domain.ErrNotFound
		}
		return domain.Purchase{}, err
	}
	return toDomainPurchase(row), nil
}

func (r *purchaseRepository) LatestCompletedByOriginIP(ctx context.Context, eventID, originIP string) (domain.Purchase, error) {
	var row purchaseModel
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Where("ip_address = ?", originIP).
		Where("status = ?", domain.PurchaseStatusCompleted).
		Order("purchased_at DESC").
		Take(&row).Error
	if err != nil {
		if isNotFound(err) {
			return domain.Purchase{}, domain.ErrNotFound
		}
		return domain.Purchase{}, err
	}
	return toDomainPurchase(row), nil
}

// Refund flips the purchase to refunded and revokes its token in one
// transaction. Row locks are taken purchase first, then token, matching the
// order used by Mutate callers that never hold the purchase row.
func (r *purchaseRepository) Refund(ctx context.Context, paymentIntentID string, refundedAt time.Time, outbox []ports.OutboxEvent) (ports.RefundResult, error) {
	var result ports.RefundResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var purchase purchaseModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("payment_intent_id = ?", strings.TrimSpace(paymentIntentID)).
			Take(&purchase).Error; err != nil {
			if isNotFound(err) {
				return domain.ErrNotFound
			}
			return err
		}
		var token accessTokenModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("purchase_id = ?", purchase.PurchaseID).
			Take(&token).Error; err != nil {
			if isNotFound(err) {
				return domain.ErrTokenNotFound
			}
			return err
		}

		if purchase.Status == domain.PurchaseStatusRefunded {
			sessions, err := loadSessions(tx, token.Token)
			if err != nil {
				return err
			}
			result = ports.RefundResult{
				Purchase: toDomainPurchase(purchase),
				Token:    toDomainToken(token, sessions),
				Changed:  false,
			}
			return nil
		}

		at := refundedAt
		purchase.Status = domain.PurchaseStatusRefunded
		purchase.RefundedAt = &at
		if err := tx.Model(&purchaseModel{}).
			Where("purchase_id = ?", purchase.PurchaseID).
			Updates(map[string]any{
				"status":      purchase.Status,
				"refunded_at": at,
			}).Error; err != nil {
			return err
		}
		if token.RevokedAt == nil {
			token.RevokedAt = &at
		}
		if err := tx.Model(&accessTokenModel{}).
			Where("token = ?", token.Token).
			Update("revoked_at", token.RevokedAt).Error; err != nil {
			return err
		}
		if err := tx.Where("token = ?", token.Token).Delete(&deviceSessionModel{}).Error; err != nil {
			return err
		}
		for _, evt := range outbox {
			row := toOutboxModel(evt)
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		result = ports.RefundResult{
			Purchase: toDomainPurchase(purchase),
			Token:    toDomainToken(token, nil),
			Changed:  true,
		}
		return nil
	})
	if err != nil {
		return ports.RefundResult{}, err
	}
	return result, nil
}
