package contracts

import "time"

// Actions accepted on the single access endpoint.
const (
	ActionCreatePayment     = "create_payment"
	ActionCheckPayment      = "check_payment"
	ActionVerifyAccess      = "verify_access"
	ActionLookupAccess      = "lookup_access"
	ActionCheckIPAccess     = "check_ip_access"
	ActionHeartbeat         = "heartbeat"
	ActionEnhancedHeartbeat = "enhanced_heartbeat"
	ActionReportViolation   = "report_violation"
)

// ActionEnvelope is decoded first to route the body to its typed request.
type ActionEnvelope struct {
	Action string `json:"action" validate:"required,oneof=create_payment check_payment verify_access lookup_access check_ip_access heartbeat enhanced_heartbeat report_violation"`
}

type SecurityContext struct {
	Fingerprint string            `json:"fingerprint,omitempty" validate:"omitempty,max=256"`
	Honeypot    string            `json:"honeypot,omitempty" validate:"omitempty,max=256"`
	FormFillMs  int64             `json:"form_fill_ms,omitempty" validate:"gte=0"`
	Extra       map[string]string `json:"extra,omitempty" validate:"omitempty,max=16"`
}

type CreatePaymentRequest struct {
	Action           string          `json:"action"`
	EventID          string          `json:"event_id" validate:"required,max=128"`
	Email            string          `json:"email" validate:"required,email,max=254"`
	Name             string          `json:"name" validate:"omitempty,max=200"`
	PaymentMethodRef string          `json:"payment_method_ref" validate:"omitempty,max=256"`
	SecurityContext  SecurityContext `json:"security_context"`
}

type CreatePaymentResponse struct {
	Outcome         string     `json:"outcome"`
	PaymentIntentID string     `json:"payment_intent_id,omitempty"`
	ClientSecret    string     `json:"client_secret,omitempty"`
	AmountMinor     int64      `json:"amount_minor,omitempty"`
	Currency        string     `json:"currency,omitempty"`
	AccessToken     string     `json:"access_token,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

type CheckPaymentRequest struct {
	Action          string `json:"action"`
	PaymentIntentID string `json:"payment_intent_id" validate:"required,max=255"`
	Email           string `json:"email" validate:"omitempty,email,max=254"`
	Name            string `json:"name" validate:"omitempty,max=200"`
}

type PurchaseResponse struct {
	PurchaseID      string    `json:"purchase_id"`
	EventID         string    `json:"event_id"`
	CustomerEmail   string    `json:"customer_email"`
	AmountMinor     int64     `json:"amount_minor"`
	Currency        string    `json:"currency"`
	PaymentIntentID string    `json:"payment_intent_id"`
	Status          string    `json:"status"`
	PurchasedAt     time.Time `json:"purchased_at"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
}

type CheckPaymentResponse struct {
	AccessToken string           `json:"access_token"`
	ExpiresAt   time.Time        `json:"expires_at"`
	Purchase    PurchaseResponse `json:"purchase"`
}

type VerifyAccessRequest struct {
	Action   string `json:"action"`
	Token    string `json:"token" validate:"required,max=256"`
	DeviceID string `json:"device_id" validate:"required,max=128"`
}

type LookupAccessRequest struct {
	Action          string          `json:"action"`
	Email           string          `json:"email" validate:"required,email,max=254"`
	EventID         string          `json:"event_id" validate:"required,max=128"`
	DeviceID        string          `json:"device_id" validate:"required,max=128"`
	SecurityContext SecurityContext `json:"security_context"`
}

type CheckIPAccessRequest struct {
	Action   string `json:"action"`
	EventID  string `json:"event_id" validate:"required,max=128"`
	DeviceID string `json:"device_id" validate:"omitempty,max=128"`
}

// EventResponse is the public view of an event. StreamURL is only set on
// admitted access responses.
type EventResponse struct {
	EventID             string     `json:"event_id"`
	Title               string     `json:"title"`
	Status              string     `json:"status"`
	PriceMinor          int64      `json:"price_minor"`
	EarlyBirdPriceMinor *int64     `json:"early_bird_price_minor,omitempty"`
	EarlyBirdUntil      *time.Time `json:"early_bird_until,omitempty"`
	Currency            string     `json:"currency"`
	StartsAt            *time.Time `json:"starts_at,omitempty"`
	StreamURL           string     `json:"stream_url,omitempty"`
}

type AccessResponse struct {
	AccessToken       string        `json:"access_token,omitempty"`
	Event             EventResponse `json:"event"`
	Email             string        `json:"email"`
	ExpiresAt         time.Time     `json:"expires_at"`
	ActiveDevices     int           `json:"active_devices"`
	MaxDevices        int           `json:"max_devices"`
	PlaybackToken     string        `json:"playback_token,omitempty"`
	PlaybackExpiresAt *time.Time    `json:"playback_expires_at,omitempty"`
}

type ViolationSignal struct {
	Type    string `json:"type" validate:"required,max=64"`
	Details string `json:"details" validate:"omitempty,max=2000"`
}

type HeartbeatRequest struct {
	Action   string            `json:"action"`
	Token    string            `json:"token" validate:"required,max=256"`
	DeviceID string            `json:"device_id" validate:"required,max=128"`
	Signals  []ViolationSignal `json:"signals,omitempty" validate:"omitempty,max=20,dive"`
}

type HeartbeatResponse struct {
	ActiveDeviceCount int       `json:"active_device_count"`
	MaxDevices        int       `json:"max_devices"`
	NextHeartbeatAt   time.Time `json:"next_heartbeat_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	Action            string    `json:"action,omitempty"`
}

type ReportViolationRequest struct {
	Action    string          `json:"action"`
	Token     string          `json:"token" validate:"required,max=256"`
	DeviceID  string          `json:"device_id" validate:"omitempty,max=128"`
	Violation ViolationSignal `json:"violation"`
}

type ReportViolationResponse struct {
	Action               string `json:"action"`
	CumulativeViolations int    `json:"cumulative_violations"`
}

type WebhookAck struct {
	Received  bool   `json:"received"`
	EventType string `json:"event_type,omitempty"`
	Handled   bool   `json:"handled"`
}

// DeviceDeniedDetails is attached to DEVICE_LIMIT_REACHED and
// SESSION_SUPERSEDED errors.
type DeviceDeniedDetails struct {
	ActiveDevices     int `json:"active_devices"`
	MaxDevices        int `json:"max_devices"`
	ActiveForMinutes  int `json:"active_for_minutes"`
	RetryAfterSeconds int `json:"retry_after_seconds"`
}
