package postgres

import (
	"context"

	"github.com/viralforge/ppv-access-service/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type accessTokenRepository struct {
	db *gorm.DB
}

func loadSessions(tx *gorm.DB, token string) ([]deviceSessionModel, error) {
	var rows []deviceSessionModel
	if err := tx.Where("token = ?", token).Order("first_seen_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *accessTokenRepository) Get(ctx context.Context, token string) (domain.AccessToken, error) {
	return r.getWhere(ctx, "token = ?", token)
}

func (r *accessTokenRepository) GetByPurchaseID(ctx context.Context, purchaseID string) (domain.AccessToken, error) {
	return r.getWhere(ctx, "purchase_id = ?", purchaseID)
}

func (r *accessTokenRepository) getWhere(ctx context.Context, query string, arg any) (domain.AccessToken, error) {
	db := r.db.WithContext(ctx)
	var row accessTokenModel
	if err := db.Where(query, arg).Take(&row).Error; err != nil {
		if isNotFound(err) {
			return domain.AccessToken{}, domain.ErrTokenNotFound
		}
		return domain.AccessToken{}, err
	}
	sessions, err := loadSessions(db, row.Token)
	if err != nil {
		return domain.AccessToken{}, err
	}
	return toDomainToken(row, sessions), nil
}

func (r *accessTokenRepository) ListByEventEmail(ctx context.Context, eventID, email string) ([]domain.AccessToken, error) {
	db := r.db.WithContext(ctx)
	var rows []accessTokenModel
	if err := db.Where("event_id = ?", eventID).
		Where("customer_email = ?", email).
		Order("granted_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AccessToken, 0, len(rows))
	for _, row := range rows {
		sessions, err := loadSessions(db, row.Token)
		if err != nil {
			return nil, err
		}
		out = append(out, toDomainToken(row, sessions))
	}
	return out, nil
}

// Mutate locks the token row FOR UPDATE, runs fn on the loaded aggregate and
// replaces the session table when fn succeeds.
func (r *accessTokenRepository) Mutate(ctx context.Context, token string, fn func(*domain.AccessToken) error) (domain.AccessToken, error) {
	var out domain.AccessToken
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row accessTokenModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token = ?", token).
			Take(&row).Error; err != nil {
			if isNotFound(err) {
				return domain.ErrTokenNotFound
			}
			return err
		}
		sessions, err := loadSessions(tx, row.Token)
		if err != nil {
			return err
		}
		working := toDomainToken(row, sessions)
		if err := fn(&working); err != nil {
			return err
		}

		updated, newSessions, err := fromDomainToken(working)
		if err != nil {
			return err
		}
		if err := tx.Model(&accessTokenModel{}).
			Where("token = ?", token).
			Updates(map[string]any{
				"revoked_at":          updated.RevokedAt,
				"sharing_violations":  updated.SharingViolations,
				"reported_violations": updated.ReportedViolations,
				"last_accessed_at":    updated.LastAccessedAt,
				"access_count":        updated.AccessCount,
			}).Error; err != nil {
			return err
		}
		if err := tx.Where("token = ?", token).Delete(&deviceSessionModel{}).Error; err != nil {
			return err
		}
		if len(newSessions) > 0 {
			if err := tx.Create(&newSessions).Error; err != nil {
				return err
			}
		}
		out = working
		return nil
	})
	if err != nil {
		return domain.AccessToken{}, err
	}
	return out, nil
}
