package ports

import "context"

// SecurityContext is the request metadata handed to the security gate.
type SecurityContext struct {
	Action         string            `json:"action"`
	IPAddress      string            `json:"ip_address"`
	UserAgent      string            `json:"user_agent"`
	Email          string            `json:"email,omitempty"`
	Fingerprint    string            `json:"fingerprint,omitempty"`
	Honeypot       string            `json:"honeypot,omitempty"`
	FormFillMillis int64             `json:"form_fill_ms,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// SecurityDecision is the gate verdict. Score is recorded for audit.
type SecurityDecision struct {
	Allowed bool    `json:"allowed"`
	Score   float64 `json:"score"`
	Reason  string  `json:"reason,omitempty"`
	Code    string  `json:"code,omitempty"`
}

// SecurityGate is the external fraud/bot collaborator.
type SecurityGate interface {
	Evaluate(ctx context.Context, sc SecurityContext) (SecurityDecision, error)
}

const (
	IntentStatusSucceeded             = "succeeded"
	IntentStatusProcessing            = "processing"
	IntentStatusRequiresAction        = "requires_action"
	IntentStatusRequiresPaymentMethod = "requires_payment_method"
	IntentStatusRequiresConfirmation  = "requires_confirmation"
	IntentStatusCanceled              = "canceled"
)

// Metadata keys attached to every intent so webhook deliveries can be fulfilled
// without the initiating request.
const (
	IntentMetaEventID       = "event_id"
	IntentMetaEmail         = "email"
	IntentMetaName          = "name"
	IntentMetaIPAddress     = "ip_address"
	IntentMetaSecurityScore = "security_score"
)

type CreateIntentParams struct {
	AmountMinor      int64
	Currency         string
	PaymentMethodRef string
	Description      string
	ReceiptEmail     string
	IdempotencyKey   string
	Metadata         map[string]string
}

type PaymentIntent struct {
	IntentID     string
	ClientSecret string
	Status       string
	AmountMinor  int64
	Currency     string
	Metadata     map[string]string
}

// PaymentProvider is the payment SDK boundary.
type PaymentProvider interface {
	CreateIntent(ctx context.Context, params CreateIntentParams) (PaymentIntent, error)
	GetIntent(ctx context.Context, intentID string) (PaymentIntent, error)
}

const (
	WebhookPaymentSucceeded = "payment_intent.succeeded"
	WebhookPaymentFailed    = "payment_intent.payment_failed"
	WebhookChargeRefunded   = "charge.refunded"
)

type WebhookEvent struct {
	EventID string
	Type    string
	Intent  PaymentIntent
}

// WebhookVerifier authenticates and decodes provider webhook deliveries.
type WebhookVerifier interface {
	Verify(payload []byte, signatureHeader string) (WebhookEvent, error)
}
