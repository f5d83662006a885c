package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/ppv-access-service/internal/contracts"
	"github.com/viralforge/ppv-access-service/internal/domain"
)

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "ok")
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			logHTTPOperationError(r, "readyz", http.StatusServiceUnavailable, "NOT_READY", "dependency unavailable", err)
			writeError(w, http.StatusServiceUnavailable, "NOT_READY", "dependency unavailable")
			return
		}
	}
	writeMessage(w, http.StatusOK, "ready")
}

func (h *Handler) jwks(w http.ResponseWriter, r *http.Request) {
	keys, err := h.service.PublicJWKs()
	if err != nil {
		writeMappedError(w, r, "jwks", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSONRaw(w, map[string]any{"keys": keys})
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.ListEvents(r.Context())
	if err != nil {
		writeMappedError(w, r, "list_events", err)
		return
	}
	out := make([]contracts.EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, toEventResponse(e))
	}
	writeSuccess(w, http.StatusOK, map[string]any{"events": out})
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.service.GetEvent(r.Context(), chi.URLParam(r, "event_id"))
	if err != nil {
		writeMappedError(w, r, "get_event", err)
		return
	}
	writeSuccess(w, http.StatusOK, toEventResponse(event))
}

func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := readBody(w, r)
	if err != nil {
		writeValidationError(w, r, "payment_webhook", err)
		return
	}
	res, err := h.service.HandleProviderWebhook(r.Context(), payload, r.Header.Get(webhookSignatureHeader))
	if err != nil {
		writeMappedError(w, r, "payment_webhook", err)
		return
	}
	writeSuccess(w, http.StatusOK, contracts.WebhookAck{
		Received:  true,
		EventType: res.EventType,
		Handled:   res.Handled,
	})
}

const webhookSignatureHeader = "Stripe-Signature"

func writeJSONRaw(w http.ResponseWriter, payload any) {
	w.WriteHeader(http.StatusOK)
	_ = jsonEncode(w, payload)
}

// toEventResponse never copies the stream locator; admitted responses add
// it explicitly.
func toEventResponse(e domain.Event) contracts.EventResponse {
	return contracts.EventResponse{
		EventID:             e.EventID,
		Title:               e.Title,
		Status:              e.Status,
		PriceMinor:          e.PriceMinor,
		EarlyBirdPriceMinor: e.EarlyBirdPriceMinor,
		EarlyBirdUntil:      e.EarlyBirdUntil,
		Currency:            e.Currency,
		StartsAt:            e.StartsAt,
	}
}
