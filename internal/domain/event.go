package domain

import (
	"strings"
	"time"
)

const (
	EventStatusUpcoming = "upcoming"
	EventStatusLive     = "live"
	EventStatusFinished = "finished"
)

// Event is a sellable pay-per-view broadcast. StreamLocator is withheld from
// every response until access has been admitted.
type Event struct {
	EventID             string
	Title               string
	PriceMinor          int64
	EarlyBirdPriceMinor *int64
	EarlyBirdUntil      *time.Time
	Currency            string
	StreamLocator       string
	Status              string
	StartsAt            *time.Time
	UpdatedAt           time.Time
}

func ValidEventStatus(status string) bool {
	switch status {
	case EventStatusUpcoming, EventStatusLive, EventStatusFinished:
		return true
	default:
		return false
	}
}

// Purchasable reports whether new purchases may be taken for the event.
func (e Event) Purchasable() bool {
	return e.Status == EventStatusUpcoming || e.Status == EventStatusLive
}

func (e Event) Finished() bool {
	return e.Status == EventStatusFinished
}

// EffectivePrice returns the amount to charge at now: the early-bird price
// while the window is open, never below minCharge.
func (e Event) EffectivePrice(now time.Time, minCharge int64) int64 {
	price := e.PriceMinor
	if e.EarlyBirdPriceMinor != nil && e.EarlyBirdUntil != nil && now.Before(*e.EarlyBirdUntil) {
		price = *e.EarlyBirdPriceMinor
	}
	if price < minCharge {
		price = minCharge
	}
	return price
}

// Public strips the stream locator.
func (e Event) Public() Event {
	e.StreamLocator = ""
	return e
}

func NormalizeCurrency(currency string) string {
	c := strings.ToLower(strings.TrimSpace(currency))
	if c == "" {
		return "eur"
	}
	return c
}
