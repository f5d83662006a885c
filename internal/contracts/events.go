package contracts

import (
	"encoding/json"
	"time"
)

type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	OccurredAt       time.Time       `json:"occurred_at"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    string          `json:"schema_version"`
	Data             json.RawMessage `json:"data"`
}

// AccessGrantedPayload feeds the purchaser notification. AccessURL embeds the
// bearer token, so consumers must treat the payload as a secret.
type AccessGrantedPayload struct {
	PurchaseID      string `json:"purchase_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	EventID         string `json:"event_id"`
	EventTitle      string `json:"event_title"`
	CustomerEmail   string `json:"customer_email"`
	CustomerName    string `json:"customer_name,omitempty"`
	AmountMinor     int64  `json:"amount_minor"`
	Currency        string `json:"currency"`
	AccessURL       string `json:"access_url"`
	ExpiresAt       string `json:"expires_at"`
	GrantedAt       string `json:"granted_at"`
}

type AccessRevokedPayload struct {
	PurchaseID      string `json:"purchase_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	EventID         string `json:"event_id"`
	CustomerEmail   string `json:"customer_email"`
	TokenPrefix     string `json:"token_prefix"`
	Reason          string `json:"reason"`
	RevokedAt       string `json:"revoked_at"`
}

type PurchaseFailedPayload struct {
	PaymentIntentID string `json:"payment_intent_id"`
	EventID         string `json:"event_id,omitempty"`
	CustomerEmail   string `json:"customer_email,omitempty"`
	FailedAt        string `json:"failed_at"`
}
