package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidInput covers missing or malformed request fields.
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("conflict")
	// ErrSecurityBlocked is returned when the security gate denies a request.
	// The client-facing message stays vague so abusers cannot tune against it.
	ErrSecurityBlocked  = errors.New("security blocked")
	ErrEventNotFound    = errors.New("event not found")
	ErrEventUnavailable = errors.New("event unavailable")
	ErrEventFinished    = errors.New("event finished")
	ErrNotCompleted     = errors.New("payment not completed")
	ErrTokenNotFound    = errors.New("access token not found")
	ErrTokenExpired     = errors.New("access token expired")
	ErrTokenRevoked     = errors.New("access token revoked")
	// ErrDeviceDenied signals the concurrent device limit was hit.
	ErrDeviceDenied = errors.New("device denied")
	// ErrSessionSuperseded is the heartbeat flavour of ErrDeviceDenied: the
	// client should stop playback right away.
	ErrSessionSuperseded = errors.New("session superseded")
	ErrActiveSession     = errors.New("active session exists")
	ErrInvalidSignature  = errors.New("invalid webhook signature")
	ErrProviderFailure   = errors.New("payment provider failure")
)

// DeviceDeniedError carries the wait guidance returned with a capacity denial.
type DeviceDeniedError struct {
	ActiveDevices int
	MaxDevices    int
	OldestSince   time.Duration
	RetryAfter    time.Duration
	Superseded    bool
}

func (e *DeviceDeniedError) Error() string {
	return fmt.Sprintf("active on another device, started %d minutes ago", int(e.OldestSince.Minutes()))
}

func (e *DeviceDeniedError) Is(target error) bool {
	if target == ErrDeviceDenied {
		return true
	}
	return e.Superseded && target == ErrSessionSuperseded
}

// SecurityBlockedError keeps the gate reason for logs; only Code is surfaced.
type SecurityBlockedError struct {
	Reason string
	Code   string
	Score  float64
}

func (e *SecurityBlockedError) Error() string {
	return "security blocked: " + e.Code
}

func (e *SecurityBlockedError) Is(target error) bool {
	return target == ErrSecurityBlocked
}
