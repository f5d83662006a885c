package application

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/viralforge/ppv-access-service/internal/domain"
)

// ListEvents returns the public catalog. Stream locators are stripped.
func (s *Service) ListEvents(ctx context.Context) ([]domain.Event, error) {
	events, err := s.events.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	out := make([]domain.Event, 0, len(events))
	for _, e := range events {
		out = append(out, e.Public())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartsAt == nil || out[j].StartsAt == nil {
			return out[i].StartsAt != nil
		}
		return out[i].StartsAt.Before(*out[j].StartsAt)
	})
	return out, nil
}

func (s *Service) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	id, err := required(eventID, "event_id")
	if err != nil {
		return domain.Event{}, err
	}
	event, err := s.loadEvent(ctx, id)
	if err != nil {
		return domain.Event{}, err
	}
	return event.Public(), nil
}

// SeedCatalog upserts configured events at startup.
func (s *Service) SeedCatalog(ctx context.Context, events []domain.Event) error {
	live := 0
	for i := range events {
		e := &events[i]
		e.EventID = strings.TrimSpace(e.EventID)
		e.Status = strings.ToLower(strings.TrimSpace(e.Status))
		if e.EventID == "" || strings.TrimSpace(e.Title) == "" {
			return fmt.Errorf("%w: catalog event requires id and title", domain.ErrInvalidInput)
		}
		if !domain.ValidEventStatus(e.Status) {
			return fmt.Errorf("%w: event %s has status %q", domain.ErrInvalidInput, e.EventID, e.Status)
		}
		if e.PriceMinor < 0 || (e.EarlyBirdPriceMinor != nil && *e.EarlyBirdPriceMinor < 0) {
			return fmt.Errorf("%w: event %s has a negative price", domain.ErrInvalidInput, e.EventID)
		}
		if e.Status == domain.EventStatusLive {
			live++
		}
		e.Currency = s.currencyFor(*e)
	}
	if live > 1 {
		return fmt.Errorf("%w: at most one event may be live", domain.ErrConflict)
	}
	// Live goes last so a demotion elsewhere in the batch lands first.
	ordered := make([]domain.Event, 0, len(events))
	for _, e := range events {
		if e.Status != domain.EventStatusLive {
			ordered = append(ordered, e)
		}
	}
	for _, e := range events {
		if e.Status == domain.EventStatusLive {
			ordered = append(ordered, e)
		}
	}
	now := s.nowFn()
	for _, e := range ordered {
		e.UpdatedAt = now
		if err := s.events.Upsert(ctx, e); err != nil {
			return fmt.Errorf("seed event %s: %w", e.EventID, err)
		}
	}
	s.logInfo(ctx, "catalog seeded", "seed_catalog", "success", "event_count", len(events))
	return nil
}
