package domain

import (
	"strings"
	"time"
)

const (
	ViolationActionWarning   = "warning"
	ViolationActionSuspend   = "suspend"
	ViolationActionTerminate = "terminate"
)

const (
	// ViolationTypeDeviceLimit is logged by the server on every capacity denial.
	ViolationTypeDeviceLimit = "concurrent_device_denied"
	ViolationTypeRecording   = "recording_detected"
	ViolationTypeCapture     = "screen_capture"
	ViolationTypeStreamURL   = "stream_url_extraction"
	ViolationTypeDevTools    = "devtools_open"
)

// SecurityViolation is an append-only audit row. Only prefixes of the token
// and device id are kept.
type SecurityViolation struct {
	ViolationID    string
	TokenPrefix    string
	DeviceIDPrefix string
	Type           string
	Details        string
	OccurredAt     time.Time
}

// ViolationPolicy escalates client-reported signals.
type ViolationPolicy struct {
	CriticalTypes    []string
	SuspendThreshold int
}

func DefaultCriticalViolationTypes() []string {
	return []string{ViolationTypeRecording, ViolationTypeCapture, ViolationTypeStreamURL}
}

// Decide returns terminate for critical types, suspend once the cumulative
// count reaches the threshold, warning otherwise.
func (p ViolationPolicy) Decide(violationType string, cumulative int) string {
	vt := strings.ToLower(strings.TrimSpace(violationType))
	for _, critical := range p.CriticalTypes {
		if vt == critical {
			return ViolationActionTerminate
		}
	}
	if p.SuspendThreshold > 0 && cumulative >= p.SuspendThreshold {
		return ViolationActionSuspend
	}
	return ViolationActionWarning
}

// StrongerAction orders actions none < warning < suspend < terminate.
func StrongerAction(a, b string) string {
	rank := func(v string) int {
		switch v {
		case ViolationActionTerminate:
			return 2
		case ViolationActionSuspend:
			return 1
		case ViolationActionWarning:
			return 0
		default:
			return -1
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
