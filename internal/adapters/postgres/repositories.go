package postgres

import (
	"github.com/viralforge/ppv-access-service/internal/ports"
	"gorm.io/gorm"
)

type Repositories struct {
	Events     ports.EventRepository
	Purchases  ports.PurchaseRepository
	Tokens     ports.AccessTokenRepository
	Violations ports.ViolationRepository
	Outbox     ports.OutboxRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Events:     &eventRepository{db: db},
		Purchases:  &purchaseRepository{db: db},
		Tokens:     &accessTokenRepository{db: db},
		Violations: &violationRepository{db: db},
		Outbox:     &outboxRepository{db: db},
	}
}
