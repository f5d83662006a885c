package application

import (
	"time"

	"github.com/viralforge/ppv-access-service/internal/domain"
	"github.com/viralforge/ppv-access-service/internal/ports"
)

type Config struct {
	ServiceName               string
	AccessValidity            time.Duration
	MaxConcurrentDevices      int
	DeviceInactivityTimeout   time.Duration
	HeartbeatInterval         time.Duration
	MinChargeMinor            int64
	DefaultCurrency           string
	ViolationSuspendThreshold int
	CriticalViolationTypes    []string
	SecurityGateTimeout       time.Duration
	PaymentProviderTimeout    time.Duration
	IntentLockTTL             time.Duration
	PlaybackGrantTTL          time.Duration
	AccessBaseURL             string
}

// DeviceContext identifies the calling device. DeviceID is client generated
// and stable; OriginIP and UserAgent are informational.
type DeviceContext struct {
	DeviceID  string
	OriginIP  string
	UserAgent string
}

type InitiatePurchaseRequest struct {
	EventID          string
	Email            string
	Name             string
	PaymentMethodRef string
	Security         ports.SecurityContext
}

const (
	PurchaseOutcomeRequiresConfirmation = "requires_confirmation"
	PurchaseOutcomeCompleted            = "completed"
	PurchaseOutcomeAlreadyEntitled      = "already_entitled"
)

type InitiatePurchaseResponse struct {
	Outcome         string
	PaymentIntentID string
	ClientSecret    string
	AmountMinor     int64
	Currency        string
	AccessToken     string
	ExpiresAt       *time.Time
}

type CheckPaymentRequest struct {
	PaymentIntentID string
	Email           string
	Name            string
}

type PaymentStatusResponse struct {
	AccessToken string
	ExpiresAt   time.Time
	Purchase    domain.Purchase
}

type WebhookResult struct {
	EventType string
	Handled   bool
}

// AccessGrant is returned on every admitted path. Event carries the stream
// locator only when a device has been admitted.
type AccessGrant struct {
	AccessToken       string
	Event             domain.Event
	Email             string
	ExpiresAt         time.Time
	ActiveDevices     int
	MaxDevices        int
	PlaybackToken     string
	PlaybackExpiresAt *time.Time
}

type VerifyAccessRequest struct {
	Token  string
	Device DeviceContext
}

type LookupAccessRequest struct {
	Email    string
	EventID  string
	Device   DeviceContext
	Security ports.SecurityContext
}

type OriginIPAccessRequest struct {
	EventID  string
	OriginIP string
	Device   DeviceContext
}

type ViolationSignal struct {
	Type    string
	Details string
}

type HeartbeatRequest struct {
	Token   string
	Device  DeviceContext
	Signals []ViolationSignal
}

type HeartbeatResponse struct {
	ActiveDeviceCount int
	MaxDevices        int
	NextHeartbeatAt   time.Time
	ExpiresAt         time.Time
	Action            string
}

type ReportViolationRequest struct {
	Token     string
	DeviceID  string
	Violation ViolationSignal
}

type ReportViolationResponse struct {
	Action               string
	CumulativeViolations int
}
