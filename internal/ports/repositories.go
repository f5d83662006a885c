package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/ppv-access-service/internal/domain"
)

// EventRepository is the catalog read model. The catalog collaborator owns
// writes; Upsert exists for config seeding and must keep at most one event live.
type EventRepository interface {
	Get(ctx context.Context, eventID string) (domain.Event, error)
	List(ctx context.Context) ([]domain.Event, error)
	Upsert(ctx context.Context, event domain.Event) error
}

// CompletePurchaseParams is everything written by one fulfillment.
// Token is minted up front and discarded when the intent was already fulfilled.
type CompletePurchaseParams struct {
	Purchase domain.Purchase
	Token    domain.AccessToken
	Outbox   []OutboxEvent
}

// CompletePurchaseResult returns the stored pair; Created is false on replays.
type CompletePurchaseResult struct {
	Purchase domain.Purchase
	Token    domain.AccessToken
	Created  bool
}

// RefundResult reports the refunded pair; Changed is false when the purchase
// was already refunded.
type RefundResult struct {
	Purchase domain.Purchase
	Token    domain.AccessToken
	Changed  bool
}

// PurchaseRepository is the purchase ledger. CompleteOnce and Refund are the
// only writers and each runs as one transaction serialized per payment intent.
type PurchaseRepository interface {
	CompleteOnce(ctx context.Context, params CompletePurchaseParams) (CompletePurchaseResult, error)
	GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (domain.Purchase, error)
	LatestCompletedByOriginIP(ctx context.Context, eventID, originIP string) (domain.Purchase, error)
	Refund(ctx context.Context, paymentIntentID string, refundedAt time.Time, outbox []OutboxEvent) (RefundResult, error)
}

// AccessTokenRepository owns the AccessToken aggregate.
// Mutate holds the per-token lock for the duration of fn and persists the
// aggregate only when fn returns nil.
type AccessTokenRepository interface {
	Get(ctx context.Context, token string) (domain.AccessToken, error)
	GetByPurchaseID(ctx context.Context, purchaseID string) (domain.AccessToken, error)
	ListByEventEmail(ctx context.Context, eventID, email string) ([]domain.AccessToken, error)
	Mutate(ctx context.Context, token string, fn func(*domain.AccessToken) error) (domain.AccessToken, error)
}

// ViolationRepository is the append-only security violation log.
type ViolationRepository interface {
	Append(ctx context.Context, violation domain.SecurityViolation) error
	ListByTokenPrefix(ctx context.Context, tokenPrefix string, limit int) ([]domain.SecurityViolation, error)
}

// OutboxEvent is the write-side event payload prior to storage.
type OutboxEvent struct {
	EventID      uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	OccurredAt   time.Time
}

// OutboxRecord is durable outbox state, including retry/claim metadata.
type OutboxRecord struct {
	OutboxID       uuid.UUID
	EventType      string
	PartitionKey   string
	Payload        []byte
	RetryCount     int
	LastError      *string
	CreatedAt      time.Time
	PublishedAt    *time.Time
	LastErrorAt    *time.Time
	ClaimToken     *string
	ClaimUntil     *time.Time
	DeadLetteredAt *time.Time
}

// OutboxRepository controls the publish-retry workflow for domain events.
type OutboxRepository interface {
	Enqueue(ctx context.Context, event OutboxEvent) error
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
}
