package ports

import "time"

// TokenGenerator mints opaque bearer tokens.
type TokenGenerator interface {
	NewToken() (string, error)
}

// PlaybackClaims scope a short-lived playback grant to one device.
type PlaybackClaims struct {
	EventID     string
	TokenPrefix string
	DeviceID    string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	KeyID       string
}

// PlaybackSigner issues grants the delivery edge verifies offline.
type PlaybackSigner interface {
	Sign(claims PlaybackClaims) (string, error)
	ParseAndValidate(token string) (PlaybackClaims, error)
	PublicJWKs() ([]map[string]any, error)
}
