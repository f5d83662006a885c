package domain

import "time"

const (
	PurchaseStatusPending   = "pending"
	PurchaseStatusCompleted = "completed"
	PurchaseStatusFailed    = "failed"
	PurchaseStatusRefunded  = "refunded"
)

// Purchase is one settled payment. PaymentIntentID is globally unique and is
// the idempotency key for the whole fulfillment pipeline.
type Purchase struct {
	PurchaseID      string
	EventID         string
	CustomerEmail   string
	CustomerName    string
	AmountMinor     int64
	Currency        string
	PaymentIntentID string
	Status          string
	SecurityScore   float64
	PurchasedAt     time.Time
	AccessExpiresAt time.Time
	RefundedAt      *time.Time
	IPAddress       string
}

func (p Purchase) Completed() bool {
	return p.Status == PurchaseStatusCompleted
}
