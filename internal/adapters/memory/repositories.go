package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/ppv-access-service/internal/domain"
	"github.com/viralforge/ppv-access-service/internal/ports"
)

// Repositories is the in-process runtime store. Purchases and tokens share
// one ledger so completion and refund stay atomic.
type Repositories struct {
	Events     *EventRepository
	Purchases  *PurchaseRepository
	Tokens     *AccessTokenRepository
	Violations *ViolationRepository
	Outbox     *OutboxRepository
}

func NewRepositories() *Repositories {
	outbox := &OutboxRepository{rows: map[uuid.UUID]ports.OutboxRecord{}}
	l := &ledger{
		purchases:        map[string]domain.Purchase{},
		purchaseByIntent: map[string]string{},
		tokens:           map[string]domain.AccessToken{},
		tokenByPurchase:  map[string]string{},
		tokenLocks:       NewKeyedMutex(),
		outbox:           outbox,
	}
	return &Repositories{
		Events:     &EventRepository{rows: map[string]domain.Event{}},
		Purchases:  &PurchaseRepository{ledger: l},
		Tokens:     &AccessTokenRepository{ledger: l},
		Violations: &ViolationRepository{},
		Outbox:     outbox,
	}
}

type EventRepository struct {
	mu   sync.Mutex
	rows map[string]domain.Event
}

func (r *EventRepository) Get(_ context.Context, eventID string) (domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[strings.TrimSpace(eventID)]
	if !ok {
		return domain.Event{}, domain.ErrNotFound
	}
	return row, nil
}

func (r *EventRepository) List(_ context.Context) ([]domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Event, 0, len(r.rows))
	for _, row := range r.rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out, nil
}

func (r *EventRepository) Upsert(_ context.Context, event domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event.Status == domain.EventStatusLive {
		for id, row := range r.rows {
			if id != event.EventID && row.Status == domain.EventStatusLive {
				return domain.ErrConflict
			}
		}
	}
	r.rows[event.EventID] = event
	return nil
}

type ledger struct {
	mu               sync.Mutex
	purchases        map[string]domain.Purchase
	purchaseByIntent map[string]string
	tokens           map[string]domain.AccessToken
	tokenByPurchase  map[string]string
	tokenLocks       *KeyedMutex
	outbox           *OutboxRepository
}

type PurchaseRepository struct {
	ledger *ledger
}

func (r *PurchaseRepository) CompleteOnce(_ context.Context, params ports.CompletePurchaseParams) (ports.CompletePurchaseResult, error) {
	l := r.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	if id, ok := l.purchaseByIntent[params.Purchase.PaymentIntentID]; ok {
		purchase := l.purchases[id]
		token := l.tokens[l.tokenByPurchase[id]]
		return ports.CompletePurchaseResult{Purchase: purchase, Token: token.Clone(), Created: false}, nil
	}
	if _, ok := l.tokens[params.Token.Token]; ok {
		return ports.CompletePurchaseResult{}, domain.ErrConflict
	}
	if err := l.outbox.enqueueAll(params.Outbox); err != nil {
		return ports.CompletePurchaseResult{}, err
	}
	l.purchases[params.Purchase.PurchaseID] = params.Purchase
	l.purchaseByIntent[params.Purchase.PaymentIntentID] = params.Purchase.PurchaseID
	l.tokens[params.Token.Token] = params.Token.Clone()
	l.tokenByPurchase[params.Purchase.PurchaseID] = params.Token.Token
	return ports.CompletePurchaseResult{Purchase: params.Purchase, Token: params.Token.Clone(), Created: true}, nil
}

func (r *PurchaseRepository) GetByPaymentIntentID(_ context.Context, paymentIntentID string) (domain.Purchase, error) {
	l := r.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.purchaseByIntent[strings.TrimSpace(paymentIntentID)]
	if !ok {
		return domain.Purchase{}, domain.ErrNotFound
	}
	return l.purchases[id], nil
}

func (r *PurchaseRepository) LatestCompletedByOriginIP(_ context.Context, eventID, originIP string) (domain.Purchase, error) {
	l := r.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	var (
		best  domain.Purchase
		found bool
	)
	for _, p := range l.purchases {
		if p.EventID != eventID || p.IPAddress != originIP || !p.Completed() {
			continue
		}
		if !found || p.PurchasedAt.After(best.PurchasedAt) {
			best = p
			found = true
		}
	}
	if !found {
		return domain.Purchase{}, domain.ErrNotFound
	}
	return best, nil
}

func (r *PurchaseRepository) Refund(ctx context.Context, paymentIntentID string, refundedAt time.Time, outbox []ports.OutboxEvent) (ports.RefundResult, error) {
	l := r.ledger
	l.mu.Lock()
	id, ok := l.purchaseByIntent[strings.TrimSpace(paymentIntentID)]
	tokenValue := l.tokenByPurchase[id]
	l.mu.Unlock()
	if !ok {
		return ports.RefundResult{}, domain.ErrNotFound
	}

	unlock, err := l.tokenLocks.Lock(ctx, tokenValue)
	if err != nil {
		return ports.RefundResult{}, err
	}
	defer unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	purchase := l.purchases[id]
	token := l.tokens[tokenValue]
	if purchase.Status == domain.PurchaseStatusRefunded {
		return ports.RefundResult{Purchase: purchase, Token: token.Clone(), Changed: false}, nil
	}
	if err := l.outbox.enqueueAll(outbox); err != nil {
		return ports.RefundResult{}, err
	}
	at := refundedAt
	purchase.Status = domain.PurchaseStatusRefunded
	purchase.RefundedAt = &at
	token.RevokedAt = &at
	token.DeviceSessions = map[string]domain.DeviceSession{}
	l.purchases[id] = purchase
	l.tokens[tokenValue] = token
	return ports.RefundResult{Purchase: purchase, Token: token.Clone(), Changed: true}, nil
}

type AccessTokenRepository struct {
	ledger *ledger
}

func (r *AccessTokenRepository) Get(_ context.Context, token string) (domain.AccessToken, error) {
	l := r.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.tokens[token]
	if !ok {
		return domain.AccessToken{}, domain.ErrTokenNotFound
	}
	return row.Clone(), nil
}

func (r *AccessTokenRepository) GetByPurchaseID(_ context.Context, purchaseID string) (domain.AccessToken, error) {
	l := r.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	tokenValue, ok := l.tokenByPurchase[purchaseID]
	if !ok {
		return domain.AccessToken{}, domain.ErrTokenNotFound
	}
	return l.tokens[tokenValue].Clone(), nil
}

func (r *AccessTokenRepository) ListByEventEmail(_ context.Context, eventID, email string) ([]domain.AccessToken, error) {
	l := r.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []domain.AccessToken{}
	for _, row := range l.tokens {
		if row.EventID == eventID && row.CustomerEmail == email {
			out = append(out, row.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GrantedAt.After(out[j].GrantedAt) })
	return out, nil
}

// Mutate holds the token's keyed lock across read, fn and write-back.
func (r *AccessTokenRepository) Mutate(ctx context.Context, token string, fn func(*domain.AccessToken) error) (domain.AccessToken, error) {
	l := r.ledger
	unlock, err := l.tokenLocks.Lock(ctx, token)
	if err != nil {
		return domain.AccessToken{}, err
	}
	defer unlock()

	l.mu.Lock()
	row, ok := l.tokens[token]
	l.mu.Unlock()
	if !ok {
		return domain.AccessToken{}, domain.ErrTokenNotFound
	}
	working := row.Clone()
	if err := fn(&working); err != nil {
		return domain.AccessToken{}, err
	}

	l.mu.Lock()
	l.tokens[token] = working.Clone()
	l.mu.Unlock()
	return working, nil
}

type ViolationRepository struct {
	mu   sync.Mutex
	rows []domain.SecurityViolation
}

func (r *ViolationRepository) Append(_ context.Context, violation domain.SecurityViolation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, violation)
	return nil
}

func (r *ViolationRepository) ListByTokenPrefix(_ context.Context, tokenPrefix string, limit int) ([]domain.SecurityViolation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.SecurityViolation{}
	for i := len(r.rows) - 1; i >= 0; i-- {
		if r.rows[i].TokenPrefix != tokenPrefix {
			continue
		}
		out = append(out, r.rows[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

type OutboxRepository struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]ports.OutboxRecord
	order []uuid.UUID
}

func (r *OutboxRepository) Enqueue(_ context.Context, event ports.OutboxEvent) error {
	return r.enqueueAll([]ports.OutboxEvent{event})
}

// enqueueAll inserts every event or none.
func (r *OutboxRepository) enqueueAll(events []ports.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[uuid.UUID]struct{}, len(events))
	for _, event := range events {
		if _, ok := r.rows[event.EventID]; ok {
			return fmt.Errorf("%w: outbox event %s already queued", domain.ErrConflict, event.EventID)
		}
		if _, ok := seen[event.EventID]; ok {
			return fmt.Errorf("%w: outbox event %s repeated in batch", domain.ErrConflict, event.EventID)
		}
		seen[event.EventID] = struct{}{}
	}
	for _, event := range events {
		r.rows[event.EventID] = ports.OutboxRecord{
			OutboxID:     event.EventID,
			EventType:    event.EventType,
			PartitionKey: event.PartitionKey,
			Payload:      append([]byte(nil), event.Payload...),
			CreatedAt:    event.OccurredAt,
		}
		r.order = append(r.order, event.EventID)
	}
	return nil
}

func (r *OutboxRepository) ClaimUnpublished(_ context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.OutboxRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	out := []ports.OutboxRecord{}
	for _, id := range r.order {
		if limit > 0 && len(out) >= limit {
			break
		}
		row := r.rows[id]
		if row.PublishedAt != nil || row.DeadLetteredAt != nil {
			continue
		}
		if row.ClaimUntil != nil && row.ClaimUntil.After(now) {
			continue
		}
		token := claimToken
		until := claimUntil
		row.ClaimToken = &token
		row.ClaimUntil = &until
		r.rows[id] = row
		out = append(out, row)
	}
	return out, nil
}

func (r *OutboxRepository) MarkPublished(_ context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error {
	return r.update(outboxID, claimToken, func(row *ports.OutboxRecord) {
		row.PublishedAt = &at
	})
}

func (r *OutboxRepository) MarkFailed(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return r.update(outboxID, claimToken, func(row *ports.OutboxRecord) {
		row.RetryCount++
		row.LastError = &errMsg
		row.LastErrorAt = &at
	})
}

func (r *OutboxRepository) MarkDeadLettered(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return r.update(outboxID, claimToken, func(row *ports.OutboxRecord) {
		row.LastError = &errMsg
		row.LastErrorAt = &at
		row.DeadLetteredAt = &at
	})
}

func (r *OutboxRepository) update(outboxID uuid.UUID, claimToken string, fn func(*ports.OutboxRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[outboxID]
	if !ok {
		return domain.ErrNotFound
	}
	if row.ClaimToken == nil || *row.ClaimToken != claimToken {
		return domain.ErrConflict
	}
	fn(&row)
	row.ClaimToken = nil
	row.ClaimUntil = nil
	r.rows[outboxID] = row
	return nil
}

// Pending returns unpublished rows in insertion order.
func (r *OutboxRepository) Pending() []ports.OutboxRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []ports.OutboxRecord{}
	for _, id := range r.order {
		row := r.rows[id]
		if row.PublishedAt == nil && row.DeadLetteredAt == nil {
			out = append(out, row)
		}
	}
	return out
}
