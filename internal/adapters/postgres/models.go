package postgres

import (
	"time"

	"github.com/google/uuid"
)

type eventModel struct {
	EventID             string     `gorm:"column:event_id;primaryKey"`
	Title               string     `gorm:"column:title"`
	PriceMinor          int64      `gorm:"column:price_minor"`
	EarlyBirdPriceMinor *int64     `gorm:"column:early_bird_price_minor"`
	EarlyBirdUntil      *time.Time `gorm:"column:early_bird_until"`
	Currency            string     `gorm:"column:currency"`
	StreamLocator       string     `gorm:"column:stream_locator"`
	Status              string     `gorm:"column:status"`
	StartsAt            *time.Time `gorm:"column:starts_at"`
	UpdatedAt           time.Time  `gorm:"column:updated_at"`
}

func (eventModel) TableName() string { return "ppv_events" }

type purchaseModel struct {
	PurchaseID      uuid.UUID  `gorm:"column:purchase_id;type:uuid;primaryKey"`
	EventID         string     `gorm:"column:event_id"`
	CustomerEmail   string     `gorm:"column:customer_email"`
	CustomerName    string     `gorm:"column:customer_name"`
	AmountMinor     int64      `gorm:"column:amount_minor"`
	Currency        string     `gorm:"column:currency"`
	PaymentIntentID string     `gorm:"column:payment_intent_id"`
	Status          string     `gorm:"column:status"`
	SecurityScore   float64    `gorm:"column:security_score"`
	PurchasedAt     time.Time  `gorm:"column:purchased_at"`
	AccessExpiresAt time.Time  `gorm:"column:access_expires_at"`
	RefundedAt      *time.Time `gorm:"column:refunded_at"`
	IPAddress       string     `gorm:"column:ip_address"`
}

func (purchaseModel) TableName() string { return "ppv_purchases" }

type accessTokenModel struct {
	Token                string     `gorm:"column:token;primaryKey"`
	PurchaseID           uuid.UUID  `gorm:"column:purchase_id;type:uuid"`
	EventID              string     `gorm:"column:event_id"`
	CustomerEmail        string     `gorm:"column:customer_email"`
	GrantedAt            time.Time  `gorm:"column:granted_at"`
	ExpiresAt            time.Time  `gorm:"column:expires_at"`
	RevokedAt            *time.Time `gorm:"column:revoked_at"`
	MaxConcurrentDevices int        `gorm:"column:max_concurrent_devices"`
	SharingViolations    int        `gorm:"column:sharing_violations"`
	ReportedViolations   int        `gorm:"column:reported_violations"`
	LastAccessedAt       *time.Time `gorm:"column:last_accessed_at"`
	AccessCount          int        `gorm:"column:access_count"`
}

func (accessTokenModel) TableName() string { return "ppv_access_tokens" }

type deviceSessionModel struct {
	Token       string    `gorm:"column:token;primaryKey"`
	DeviceID    string    `gorm:"column:device_id;primaryKey"`
	FirstSeenAt time.Time `gorm:"column:first_seen_at"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	OriginIP    string    `gorm:"column:origin_ip"`
	UserAgent   string    `gorm:"column:user_agent"`
}

func (deviceSessionModel) TableName() string { return "ppv_device_sessions" }

type violationModel struct {
	ViolationID    uuid.UUID `gorm:"column:violation_id;type:uuid;primaryKey"`
	TokenPrefix    string    `gorm:"column:token_prefix"`
	DeviceIDPrefix string    `gorm:"column:device_id_prefix"`
	ViolationType  string    `gorm:"column:violation_type"`
	Details        string    `gorm:"column:details"`
	OccurredAt     time.Time `gorm:"column:occurred_at"`
}

func (violationModel) TableName() string { return "ppv_security_violations" }

type outboxModel struct {
	OutboxID       uuid.UUID  `gorm:"column:outbox_id;type:uuid;primaryKey"`
	EventType      string     `gorm:"column:event_type"`
	PartitionKey   string     `gorm:"column:partition_key"`
	Payload        string     `gorm:"column:payload;type:jsonb"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	PublishedAt    *time.Time `gorm:"column:published_at"`
	RetryCount     int        `gorm:"column:retry_count"`
	LastError      *string    `gorm:"column:last_error"`
	LastErrorAt    *time.Time `gorm:"column:last_error_at"`
	ClaimToken     *string    `gorm:"column:claim_token"`
	ClaimUntil     *time.Time `gorm:"column:claim_until"`
	DeadLetteredAt *time.Time `gorm:"column:dead_lettered_at"`
}

func (outboxModel) TableName() string { return "ppv_outbox" }
