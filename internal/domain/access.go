package domain

import (
	"sort"
	"time"
	"unicode/utf8"
)

const (
	TokenStateActive  = "active"
	TokenStateExpired = "expired"
	TokenStateRevoked = "revoked"
)

// DefaultMaxConcurrentDevices is the device policy applied when a token row
// carries no explicit limit.
const DefaultMaxConcurrentDevices = 1

// DeviceSession is one admitted device slot inside an AccessToken.
type DeviceSession struct {
	DeviceID    string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	OriginIP    string
	UserAgent   string
}

// AccessToken is the bearer credential granted for one completed Purchase.
// The embedded DeviceSessions table is mutated only under the per-token lock.
type AccessToken struct {
	Token                string
	PurchaseID           string
	EventID              string
	CustomerEmail        string
	GrantedAt            time.Time
	ExpiresAt            time.Time
	RevokedAt            *time.Time
	MaxConcurrentDevices int
	DeviceSessions       map[string]DeviceSession
	SharingViolations    int
	ReportedViolations   int
	LastAccessedAt       *time.Time
	AccessCount          int
}

// State resolves the token lifecycle at now. Revoked wins over Expired so a
// refunded buyer is told about the refund, not the expiry.
func (t AccessToken) State(now time.Time) string {
	if t.RevokedAt != nil {
		return TokenStateRevoked
	}
	if !now.Before(t.ExpiresAt) {
		return TokenStateExpired
	}
	return TokenStateActive
}

// CheckUsable maps the terminal states to their distinct errors.
func (t AccessToken) CheckUsable(now time.Time) error {
	switch t.State(now) {
	case TokenStateRevoked:
		return ErrTokenRevoked
	case TokenStateExpired:
		return ErrTokenExpired
	default:
		return nil
	}
}

func (t AccessToken) MaxDevices() int {
	if t.MaxConcurrentDevices <= 0 {
		return DefaultMaxConcurrentDevices
	}
	return t.MaxConcurrentDevices
}

func (t AccessToken) LiveSessions() int {
	return len(t.DeviceSessions)
}

// Clone deep-copies the session table so callers never share map state.
func (t AccessToken) Clone() AccessToken {
	out := t
	out.DeviceSessions = make(map[string]DeviceSession, len(t.DeviceSessions))
	for id, s := range t.DeviceSessions {
		out.DeviceSessions[id] = s
	}
	if t.RevokedAt != nil {
		v := *t.RevokedAt
		out.RevokedAt = &v
	}
	if t.LastAccessedAt != nil {
		v := *t.LastAccessedAt
		out.LastAccessedAt = &v
	}
	return out
}

// SortedSessions returns the live sessions ordered by first admission.
func (t AccessToken) SortedSessions() []DeviceSession {
	out := make([]DeviceSession, 0, len(t.DeviceSessions))
	for _, s := range t.DeviceSessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstSeenAt.Equal(out[j].FirstSeenAt) {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].FirstSeenAt.Before(out[j].FirstSeenAt)
	})
	return out
}

// DevicePolicy holds the session policy constants.
type DevicePolicy struct {
	InactivityTimeout time.Duration
}

// DeviceRequest is one admission attempt from a client device.
type DeviceRequest struct {
	DeviceID  string
	OriginIP  string
	UserAgent string
	At        time.Time
}

// Admission is the outcome of ValidateDevice. A denial is a value, not an
// error, because the violation counter must still be persisted.
type Admission struct {
	Admitted      bool
	NewSession    bool
	Swept         int
	ActiveDevices int
	MaxDevices    int
	Denial        *DeviceDeniedError
}

// SweepInactive removes every session silent for longer than timeout and
// returns how many were reclaimed.
func (t *AccessToken) SweepInactive(now time.Time, timeout time.Duration) int {
	removed := 0
	for id, s := range t.DeviceSessions {
		if now.Sub(s.LastSeenAt) > timeout {
			delete(t.DeviceSessions, id)
			removed++
		}
	}
	return removed
}

// ValidateDevice runs the admission algorithm: sweep, known-device refresh,
// new device below capacity, otherwise deny and count a sharing violation.
// The order matters: a stale slot must be reclaimed before the capacity
// check, and a known device must never compete with itself for a slot.
func (t *AccessToken) ValidateDevice(req DeviceRequest, policy DevicePolicy) Admission {
	if t.DeviceSessions == nil {
		t.DeviceSessions = map[string]DeviceSession{}
	}
	now := req.At
	out := Admission{MaxDevices: t.MaxDevices()}
	out.Swept = t.SweepInactive(now, policy.InactivityTimeout)

	if s, ok := t.DeviceSessions[req.DeviceID]; ok {
		if now.After(s.LastSeenAt) {
			s.LastSeenAt = now
		}
		if req.OriginIP != "" {
			s.OriginIP = req.OriginIP
		}
		if req.UserAgent != "" {
			s.UserAgent = req.UserAgent
		}
		t.DeviceSessions[req.DeviceID] = s
		out.Admitted = true
		out.ActiveDevices = len(t.DeviceSessions)
		return out
	}

	if len(t.DeviceSessions) < out.MaxDevices {
		t.DeviceSessions[req.DeviceID] = DeviceSession{
			DeviceID:    req.DeviceID,
			FirstSeenAt: now,
			LastSeenAt:  now,
			OriginIP:    req.OriginIP,
			UserAgent:   req.UserAgent,
		}
		out.Admitted = true
		out.NewSession = true
		out.ActiveDevices = len(t.DeviceSessions)
		return out
	}

	t.SharingViolations++
	out.ActiveDevices = len(t.DeviceSessions)
	out.Denial = t.denial(now, policy)
	return out
}

func (t AccessToken) denial(now time.Time, policy DevicePolicy) *DeviceDeniedError {
	var oldestFirst, oldestLast time.Time
	for _, s := range t.DeviceSessions {
		if oldestFirst.IsZero() || s.FirstSeenAt.Before(oldestFirst) {
			oldestFirst = s.FirstSeenAt
		}
		if oldestLast.IsZero() || s.LastSeenAt.Before(oldestLast) {
			oldestLast = s.LastSeenAt
		}
	}
	denied := &DeviceDeniedError{
		ActiveDevices: len(t.DeviceSessions),
		MaxDevices:    t.MaxDevices(),
	}
	if !oldestFirst.IsZero() {
		denied.OldestSince = now.Sub(oldestFirst)
	}
	if !oldestLast.IsZero() {
		wait := policy.InactivityTimeout - now.Sub(oldestLast)
		if wait < 0 {
			wait = 0
		}
		denied.RetryAfter = wait
	}
	return denied
}

// RecordAccess bumps the access counters after a successful verification.
func (t *AccessToken) RecordAccess(now time.Time) {
	at := now
	t.LastAccessedAt = &at
	t.AccessCount++
}

// Prefix truncates identifiers before they reach logs or the violation log.
func Prefix(value string, n int) string {
	return Truncate(value, n)
}

// Truncate cuts value to at most n bytes without splitting a UTF-8 sequence.
func Truncate(value string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(value) <= n {
		return value
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
