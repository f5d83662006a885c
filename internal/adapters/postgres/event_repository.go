package postgres

import (
	"context"
	"strings"

	"github.com/viralforge/ppv-access-service/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type eventRepository struct {
	db *gorm.DB
}

func (r *eventRepository) Get(ctx context.Context, eventID string) (domain.Event, error) {
	var row eventModel
	err := r.db.WithContext(ctx).
		Where("event_id = ?", strings.TrimSpace(eventID)).
		Take(&row).Error
	if err != nil {
		if isNotFound(err) {
			return domain.Event{}, domain.ErrNotFound
		}
		return domain.Event{}, err
	}
	return toDomainEvent(row), nil
}

func (r *eventRepository) List(ctx context.Context) ([]domain.Event, error) {
	var rows []eventModel
	if err := r.db.WithContext(ctx).Order("event_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainEvent(row))
	}
	return out, nil
}

// Upsert relies on the partial unique index to reject a second live event.
func (r *eventRepository) Upsert(ctx context.Context, event domain.Event) error {
	row := fromDomainEvent(event)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "event_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "price_minor", "early_bird_price_minor", "early_bird_until",
			"currency", "stream_locator", "status", "starts_at", "updated_at",
		}),
	}).Create(&row).Error
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	return err
}
