package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	httpadapter "github.com/viralforge/ppv-access-service/internal/adapters/http"
	"github.com/viralforge/ppv-access-service/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	PaymentDriverHTTP = "http"
	PaymentDriverDev  = "dev"

	GateDriverHTTP      = "http"
	GateDriverHeuristic = "heuristic"

	PublisherKafka = "kafka"
	PublisherLog   = "log"
)

// Config is the resolved runtime configuration.
type Config struct {
	ServiceID string

	HTTPPort       int
	GRPCPort       int
	TrustedProxies []string

	StoreDriver string
	DatabaseURL string
	RedisURL    string
	MaxDBConns  int32

	PaymentDriver        string
	PaymentBaseURL       string
	PaymentSecretKey     string
	PaymentWebhookSecret string
	PaymentDevAutoSettle bool

	SecurityGateDriver    string
	SecurityGateURL       string
	SecurityGateAPIKey    string
	SecurityGateThreshold float64

	EventPublisher string
	KafkaBrokers   []string
	KafkaTopics    map[string]string

	PlaybackKeyID             string
	PlaybackIssuer            string
	PlaybackPrivateKeyPEM     string
	PlaybackPublicKeyPEM      string
	AllowEphemeralPlaybackKey bool

	AccessBaseURL             string
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

	RateLimitRequests int
	RateLimitWindow   time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxClaimTTL     time.Duration
	OutboxMaxRetries   int

	Catalog []domain.Event
}

// configFile mirrors configs/default.yaml.
type configFile struct {
	Service struct {
		ID             string   `yaml:"id"`
		HTTPPort       int      `yaml:"http_port"`
		GRPCPort       int      `yaml:"grpc_port"`
		TrustedProxies []string `yaml:"trusted_proxies"`
	} `yaml:"service"`
	Dependencies struct {
		StoreDriver string `yaml:"store_driver"`
		PostgresURL string `yaml:"postgres_url"`
		RedisURL    string `yaml:"redis_url"`
	} `yaml:"dependencies"`
	Payment struct {
		Driver     string `yaml:"driver"`
		BaseURL    string `yaml:"base_url"`
		AutoSettle *bool  `yaml:"auto_settle"`
	} `yaml:"payment"`
	SecurityGate struct {
		Driver    string  `yaml:"driver"`
		BaseURL   string  `yaml:"base_url"`
		Threshold float64 `yaml:"threshold"`
	} `yaml:"security_gate"`
	Events struct {
		Publisher    string            `yaml:"publisher"`
		KafkaBrokers []string          `yaml:"kafka_brokers"`
		Topics       map[string]string `yaml:"topics"`
	} `yaml:"events"`
	Access struct {
		BaseURL                   string   `yaml:"base_url"`
		ValidityDays              int      `yaml:"validity_days"`
		MaxConcurrentDevices      int      `yaml:"max_concurrent_devices"`
		DeviceInactivitySeconds   int      `yaml:"device_inactivity_seconds"`
		HeartbeatIntervalSeconds  int      `yaml:"heartbeat_interval_seconds"`
		MinChargeMinor            int64    `yaml:"min_charge_minor"`
		DefaultCurrency           string   `yaml:"default_currency"`
		ViolationSuspendThreshold int      `yaml:"violation_suspend_threshold"`
		CriticalViolationTypes    []string `yaml:"critical_violation_types"`
	} `yaml:"access"`
	Catalog struct {
		Events []catalogEvent `yaml:"events"`
	} `yaml:"catalog"`
}

type catalogEvent struct {
	ID                  string `yaml:"id"`
	Title               string `yaml:"title"`
	PriceMinor          int64  `yaml:"price_minor"`
	EarlyBirdPriceMinor *int64 `yaml:"early_bird_price_minor"`
	EarlyBirdUntil      string `yaml:"early_bird_until"`
	Currency            string `yaml:"currency"`
	StreamLocator       string `yaml:"stream_locator"`
	Status              string `yaml:"status"`
	StartsAt            string `yaml:"starts_at"`
}

func (c catalogEvent) toDomain() (domain.Event, error) {
	event := domain.Event{
		EventID:             strings.TrimSpace(c.ID),
		Title:               strings.TrimSpace(c.Title),
		PriceMinor:          c.PriceMinor,
		EarlyBirdPriceMinor: c.EarlyBirdPriceMinor,
		Currency:            c.Currency,
		StreamLocator:       strings.TrimSpace(c.StreamLocator),
		Status:              strings.ToLower(strings.TrimSpace(c.Status)),
	}
	var err error
	if event.EarlyBirdUntil, err = parseOptionalTime(c.EarlyBirdUntil); err != nil {
		return domain.Event{}, fmt.Errorf("catalog event %s early_bird_until: %w", c.ID, err)
	}
	if event.StartsAt, err = parseOptionalTime(c.StartsAt); err != nil {
		return domain.Event{}, fmt.Errorf("catalog event %s starts_at: %w", c.ID, err)
	}
	return event, nil
}

func parseOptionalTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:                 "PPV-Access-Service",
		HTTPPort:                  8080,
		GRPCPort:                  9090,
		StoreDriver:               StoreDriverPostgres,
		MaxDBConns:                20,
		PaymentDriver:             PaymentDriverHTTP,
		SecurityGateDriver:        GateDriverHTTP,
		EventPublisher:            PublisherLog,
		PlaybackKeyID:             "ppv-playback-key-1",
		PlaybackIssuer:            "ppv-access-service",
		AllowEphemeralPlaybackKey: true,
		AccessValidity:            30 * 24 * time.Hour,
		MaxConcurrentDevices:      1,
		DeviceInactivityTimeout:   150 * time.Second,
		HeartbeatInterval:         60 * time.Second,
		MinChargeMinor:            50,
		DefaultCurrency:           "eur",
		ViolationSuspendThreshold: 5,
		CriticalViolationTypes:    domain.DefaultCriticalViolationTypes(),
		SecurityGateTimeout:       3 * time.Second,
		PaymentProviderTimeout:    10 * time.Second,
		IntentLockTTL:             30 * time.Second,
		PlaybackGrantTTL:          5 * time.Minute,
		RateLimitRequests:         120,
		RateLimitWindow:           time.Minute,
		OutboxPollInterval:        2 * time.Second,
		OutboxBatchSize:           100,
		OutboxClaimTTL:            30 * time.Second,
		OutboxMaxRetries:          5,
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		if err := applyFile(&cfg, f); err != nil {
			return Config{}, err
		}
	}

	cfg.StoreDriver = strings.ToLower(envOrDefault("STORE_DRIVER", cfg.StoreDriver))
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.TrustedProxies = envCSV("TRUSTED_PROXIES", cfg.TrustedProxies)

	cfg.PaymentDriver = strings.ToLower(envOrDefault("PAYMENT_DRIVER", cfg.PaymentDriver))
	cfg.PaymentBaseURL = envOrDefault("PAYMENT_PROVIDER_URL", cfg.PaymentBaseURL)
	cfg.PaymentSecretKey = envOrDefault("PAYMENT_SECRET_KEY", cfg.PaymentSecretKey)
	cfg.PaymentWebhookSecret = envOrDefault("PAYMENT_WEBHOOK_SECRET", cfg.PaymentWebhookSecret)
	cfg.PaymentDevAutoSettle = envBool("PAYMENT_DEV_AUTO_SETTLE", cfg.PaymentDevAutoSettle)

	cfg.SecurityGateDriver = strings.ToLower(envOrDefault("SECURITY_GATE_DRIVER", cfg.SecurityGateDriver))
	cfg.SecurityGateURL = envOrDefault("SECURITY_GATE_URL", cfg.SecurityGateURL)
	cfg.SecurityGateAPIKey = envOrDefault("SECURITY_GATE_API_KEY", cfg.SecurityGateAPIKey)
	cfg.SecurityGateThreshold = envFloat("SECURITY_GATE_THRESHOLD", cfg.SecurityGateThreshold)

	cfg.EventPublisher = strings.ToLower(envOrDefault("EVENT_PUBLISHER", cfg.EventPublisher))
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)

	cfg.PlaybackKeyID = envOrDefault("PLAYBACK_KEY_ID", cfg.PlaybackKeyID)
	cfg.PlaybackIssuer = envOrDefault("PLAYBACK_ISSUER", cfg.PlaybackIssuer)
	cfg.PlaybackPrivateKeyPEM = envOrDefault("PLAYBACK_PRIVATE_KEY_PEM", cfg.PlaybackPrivateKeyPEM)
	cfg.PlaybackPublicKeyPEM = envOrDefault("PLAYBACK_PUBLIC_KEY_PEM", cfg.PlaybackPublicKeyPEM)
	cfg.AllowEphemeralPlaybackKey = envBool("PLAYBACK_ALLOW_EPHEMERAL", cfg.AllowEphemeralPlaybackKey)

	cfg.AccessBaseURL = envOrDefault("ACCESS_BASE_URL", cfg.AccessBaseURL)
	cfg.AccessValidity = time.Duration(envInt("ACCESS_VALIDITY_DAYS", int(cfg.AccessValidity.Hours()/24))) * 24 * time.Hour
	cfg.MaxConcurrentDevices = envInt("MAX_CONCURRENT_DEVICES", cfg.MaxConcurrentDevices)
	cfg.DeviceInactivityTimeout = envSeconds("DEVICE_INACTIVITY_SECONDS", cfg.DeviceInactivityTimeout)
	cfg.HeartbeatInterval = envSeconds("HEARTBEAT_INTERVAL_SECONDS", cfg.HeartbeatInterval)
	cfg.MinChargeMinor = int64(envInt("MIN_CHARGE_MINOR", int(cfg.MinChargeMinor)))
	cfg.DefaultCurrency = strings.ToLower(envOrDefault("DEFAULT_CURRENCY", cfg.DefaultCurrency))
	cfg.ViolationSuspendThreshold = envInt("VIOLATION_SUSPEND_THRESHOLD", cfg.ViolationSuspendThreshold)
	cfg.CriticalViolationTypes = envCSV("CRITICAL_VIOLATION_TYPES", cfg.CriticalViolationTypes)
	cfg.SecurityGateTimeout = envMillis("SECURITY_GATE_TIMEOUT_MS", cfg.SecurityGateTimeout)
	cfg.PaymentProviderTimeout = envMillis("PAYMENT_PROVIDER_TIMEOUT_MS", cfg.PaymentProviderTimeout)
	cfg.IntentLockTTL = envSeconds("INTENT_LOCK_TTL_SECONDS", cfg.IntentLockTTL)
	cfg.PlaybackGrantTTL = envSeconds("PLAYBACK_GRANT_TTL_SECONDS", cfg.PlaybackGrantTTL)

	cfg.RateLimitRequests = envInt("RATE_LIMIT_REQUESTS", cfg.RateLimitRequests)
	cfg.RateLimitWindow = envSeconds("RATE_LIMIT_WINDOW_SECONDS", cfg.RateLimitWindow)
	cfg.OutboxPollInterval = envSeconds("OUTBOX_POLL_SECONDS", cfg.OutboxPollInterval)
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxClaimTTL = envSeconds("OUTBOX_CLAIM_TTL_SECONDS", cfg.OutboxClaimTTL)
	cfg.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, f configFile) error {
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.GRPCPort > 0 {
		cfg.GRPCPort = f.Service.GRPCPort
	}
	if len(f.Service.TrustedProxies) > 0 {
		cfg.TrustedProxies = f.Service.TrustedProxies
	}
	if f.Dependencies.StoreDriver != "" {
		cfg.StoreDriver = f.Dependencies.StoreDriver
	}
	if f.Dependencies.PostgresURL != "" {
		cfg.DatabaseURL = f.Dependencies.PostgresURL
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}
	if f.Payment.Driver != "" {
		cfg.PaymentDriver = f.Payment.Driver
	}
	if f.Payment.BaseURL != "" {
		cfg.PaymentBaseURL = f.Payment.BaseURL
	}
	if f.Payment.AutoSettle != nil {
		cfg.PaymentDevAutoSettle = *f.Payment.AutoSettle
	}
	if f.SecurityGate.Driver != "" {
		cfg.SecurityGateDriver = f.SecurityGate.Driver
	}
	if f.SecurityGate.BaseURL != "" {
		cfg.SecurityGateURL = f.SecurityGate.BaseURL
	}
	if f.SecurityGate.Threshold > 0 {
		cfg.SecurityGateThreshold = f.SecurityGate.Threshold
	}
	if f.Events.Publisher != "" {
		cfg.EventPublisher = f.Events.Publisher
	}
	if len(f.Events.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = f.Events.KafkaBrokers
	}
	if len(f.Events.Topics) > 0 {
		cfg.KafkaTopics = f.Events.Topics
	}
	a := f.Access
	if a.BaseURL != "" {
		cfg.AccessBaseURL = a.BaseURL
	}
	if a.ValidityDays > 0 {
		cfg.AccessValidity = time.Duration(a.ValidityDays) * 24 * time.Hour
	}
	if a.MaxConcurrentDevices > 0 {
		cfg.MaxConcurrentDevices = a.MaxConcurrentDevices
	}
	if a.DeviceInactivitySeconds > 0 {
		cfg.DeviceInactivityTimeout = time.Duration(a.DeviceInactivitySeconds) * time.Second
	}
	if a.HeartbeatIntervalSeconds > 0 {
		cfg.HeartbeatInterval = time.Duration(a.HeartbeatIntervalSeconds) * time.Second
	}
	if a.MinChargeMinor > 0 {
		cfg.MinChargeMinor = a.MinChargeMinor
	}
	if a.DefaultCurrency != "" {
		cfg.DefaultCurrency = a.DefaultCurrency
	}
	if a.ViolationSuspendThreshold > 0 {
		cfg.ViolationSuspendThreshold = a.ViolationSuspendThreshold
	}
	if len(a.CriticalViolationTypes) > 0 {
		cfg.CriticalViolationTypes = a.CriticalViolationTypes
	}
	for _, ce := range f.Catalog.Events {
		event, err := ce.toDomain()
		if err != nil {
			return err
		}
		cfg.Catalog = append(cfg.Catalog, event)
	}
	return nil
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("missing DB_URL/POSTGRES_URL")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.PaymentDriver {
	case PaymentDriverHTTP:
		if c.PaymentBaseURL == "" || c.PaymentSecretKey == "" {
			return fmt.Errorf("missing PAYMENT_PROVIDER_URL or PAYMENT_SECRET_KEY")
		}
		if c.PaymentWebhookSecret == "" {
			return fmt.Errorf("missing PAYMENT_WEBHOOK_SECRET")
		}
	case PaymentDriverDev:
	default:
		return fmt.Errorf("unknown PAYMENT_DRIVER %q", c.PaymentDriver)
	}
	switch c.SecurityGateDriver {
	case GateDriverHTTP:
		if c.SecurityGateURL == "" {
			return fmt.Errorf("missing SECURITY_GATE_URL")
		}
	case GateDriverHeuristic:
	default:
		return fmt.Errorf("unknown SECURITY_GATE_DRIVER %q", c.SecurityGateDriver)
	}
	switch c.EventPublisher {
	case PublisherKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("missing KAFKA_BROKERS")
		}
	case PublisherLog:
	default:
		return fmt.Errorf("unknown EVENT_PUBLISHER %q", c.EventPublisher)
	}
	if c.MaxConcurrentDevices <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_DEVICES must be positive")
	}
	if c.HeartbeatInterval >= c.DeviceInactivityTimeout {
		return fmt.Errorf("HEARTBEAT_INTERVAL_SECONDS must be shorter than DEVICE_INACTIVITY_SECONDS")
	}
	if (c.PlaybackPrivateKeyPEM == "" || c.PlaybackPublicKeyPEM == "") && !c.AllowEphemeralPlaybackKey {
		return fmt.Errorf("missing PLAYBACK_PRIVATE_KEY_PEM or PLAYBACK_PUBLIC_KEY_PEM")
	}
	if _, err := httpadapter.ParseTrustedProxies(c.TrustedProxies); err != nil {
		return fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}
	return nil
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func envSeconds(name string, fallback time.Duration) time.Duration {
	return time.Duration(envInt(name, int(fallback.Seconds()))) * time.Second
}

func envMillis(name string, fallback time.Duration) time.Duration {
	return time.Duration(envInt(name, int(fallback.Milliseconds()))) * time.Millisecond
}

// envBool parses common boolean env forms while keeping a deterministic fallback.
func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
