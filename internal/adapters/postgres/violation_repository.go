package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/viralforge/ppv-access-service/internal/domain"
	"gorm.io/gorm"
)

type violationRepository struct {
	db *gorm.DB
}

func (r *violationRepository) Append(ctx context.Context, violation domain.SecurityViolation) error {
	id, err := uuid.Parse(violation.ViolationID)
	if err != nil {
		id = uuid.New()
	}
	row := violationModel{
		ViolationID:    id,
		TokenPrefix:    violation.TokenPrefix,
		DeviceIDPrefix: violation.DeviceIDPrefix,
		ViolationType:  violation.Type,
		Details:        violation.Details,
		OccurredAt:     violation.OccurredAt,
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *violationRepository) ListByTokenPrefix(ctx context.Context, tokenPrefix string, limit int) ([]domain.SecurityViolation, error) {
	query := r.db.WithContext(ctx).
		Where("token_prefix = ?", tokenPrefix).
		Order("occurred_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []violationModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.SecurityViolation, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.SecurityViolation{
			ViolationID:    row.ViolationID.String(),
			TokenPrefix:    row.TokenPrefix,
			DeviceIDPrefix: row.DeviceIDPrefix,
			Type:           row.ViolationType,
			Details:        row.Details,
			OccurredAt:     row.OccurredAt,
		})
	}
	return out, nil
}
