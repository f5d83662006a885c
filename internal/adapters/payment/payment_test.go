package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/viralforge/ppv-access-service/internal/domain"
	"github.com/viralforge/ppv-access-service/internal/ports"
)

const succeededPayload = `{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_123","object":"payment_intent","status":"succeeded","amount":1999,"currency":"EUR","metadata":{"event_id":"bif-1","email":"a@x.com"}}}}`

func signedHeader(secret string, ts time.Time, payload string) string {
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), Sign([]byte(secret), ts.Unix(), []byte(payload)))
}

func TestWebhookVerifierAcceptsValidSignature(t *testing.T) {
	t.Parallel()

	v, err := NewWebhookVerifier("whsec_test", 0)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	now := time.Unix(1_760_000_000, 0)
	v.nowFn = func() time.Time { return now }

	evt, err := v.Verify([]byte(succeededPayload), signedHeader("whsec_test", now, succeededPayload))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if evt.Type != ports.WebhookPaymentSucceeded || evt.Intent.IntentID != "pi_123" {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if evt.Intent.Currency != "eur" || evt.Intent.AmountMinor != 1999 {
		t.Fatalf("unexpected intent: %+v", evt.Intent)
	}
	if evt.Intent.Metadata["event_id"] != "bif-1" {
		t.Fatalf("metadata not carried: %+v", evt.Intent.Metadata)
	}
}

func TestWebhookVerifierRejectsTamperingAndReplay(t *testing.T) {
	t.Parallel()

	v, err := NewWebhookVerifier("whsec_test", time.Minute)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	now := time.Unix(1_760_000_000, 0)
	v.nowFn = func() time.Time { return now }

	cases := map[string]struct {
		payload string
		header  string
	}{
		"wrong secret":    {succeededPayload, signedHeader("other", now, succeededPayload)},
		"tampered body":   {strings.Replace(succeededPayload, "1999", "1", 1), signedHeader("whsec_test", now, succeededPayload)},
		"stale timestamp": {succeededPayload, signedHeader("whsec_test", now.Add(-2*time.Minute), succeededPayload)},
		"missing header":  {succeededPayload, ""},
		"no v1 component": {succeededPayload, fmt.Sprintf("t=%d", now.Unix())},
	}
	for name, tc := range cases {
		if _, err := v.Verify([]byte(tc.payload), tc.header); !errors.Is(err, domain.ErrInvalidSignature) {
			t.Fatalf("%s: expected invalid signature, got %v", name, err)
		}
	}
}

func TestWebhookVerifierMapsRefundChargeToIntent(t *testing.T) {
	t.Parallel()

	v, _ := NewWebhookVerifier("whsec_test", 0)
	now := time.Now()
	v.nowFn = func() time.Time { return now }
	payload := `{"id":"evt_2","type":"charge.refunded","data":{"object":{"id":"ch_9","object":"charge","payment_intent":"pi_123","amount":1999,"currency":"eur"}}}`

	evt, err := v.Verify([]byte(payload), signedHeader("whsec_test", now, payload))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if evt.Type != ports.WebhookChargeRefunded || evt.Intent.IntentID != "pi_123" {
		t.Fatalf("expected refund for pi_123, got %+v", evt)
	}
}

func TestHTTPProviderCreateAndGetIntent(t *testing.T) {
	t.Parallel()

	var gotIdempotency, gotAuth, gotMeta string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/payment_intents":
			_ = r.ParseForm()
			gotIdempotency = r.Header.Get("Idempotency-Key")
			gotAuth = r.Header.Get("Authorization")
			gotMeta = r.PostForm.Get("metadata[event_id]")
			_, _ = w.Write([]byte(`{"id":"pi_1","client_secret":"pi_1_secret","status":"requires_payment_method","amount":1999,"currency":"eur"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/payment_intents/pi_1":
			_, _ = w.Write([]byte(`{"id":"pi_1","status":"succeeded","amount":1999,"currency":"eur","metadata":{"event_id":"bif-1"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(HTTPProviderConfig{BaseURL: srv.URL, SecretKey: "sk_test"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	intent, err := p.CreateIntent(context.Background(), ports.CreateIntentParams{
		AmountMinor:    1999,
		Currency:       "EUR",
		IdempotencyKey: "idem-1",
		Metadata:       map[string]string{"event_id": "bif-1"},
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.IntentID != "pi_1" || intent.ClientSecret != "pi_1_secret" {
		t.Fatalf("unexpected intent: %+v", intent)
	}
	if gotIdempotency != "idem-1" || gotAuth != "Bearer sk_test" || gotMeta != "bif-1" {
		t.Fatalf("request not shaped as expected: idem=%q auth=%q meta=%q", gotIdempotency, gotAuth, gotMeta)
	}

	fetched, err := p.GetIntent(context.Background(), "pi_1")
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	if fetched.Status != ports.IntentStatusSucceeded || fetched.Metadata["event_id"] != "bif-1" {
		t.Fatalf("unexpected fetched intent: %+v", fetched)
	}

	if _, err := p.GetIntent(context.Background(), "pi_missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestHTTPProviderSurfacesServerErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p, _ := NewHTTPProvider(HTTPProviderConfig{BaseURL: srv.URL, SecretKey: "sk_test"})
	if _, err := p.GetIntent(context.Background(), "pi_1"); err == nil {
		t.Fatalf("expected error on 502")
	}
}

func TestDevProviderSettlement(t *testing.T) {
	t.Parallel()

	auto := NewDevProvider(true)
	intent, err := auto.CreateIntent(context.Background(), ports.CreateIntentParams{AmountMinor: 500, Currency: "EUR"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if intent.Status != ports.IntentStatusSucceeded {
		t.Fatalf("expected auto settle, got %s", intent.Status)
	}

	manual := NewDevProvider(false)
	intent, _ = manual.CreateIntent(context.Background(), ports.CreateIntentParams{AmountMinor: 500, Currency: "eur"})
	if intent.Status == ports.IntentStatusSucceeded {
		t.Fatalf("manual provider must not settle on create")
	}
	if _, err := manual.Settle(intent.IntentID, ports.IntentStatusSucceeded); err != nil {
		t.Fatalf("settle: %v", err)
	}
	got, err := manual.GetIntent(context.Background(), intent.IntentID)
	if err != nil || got.Status != ports.IntentStatusSucceeded {
		t.Fatalf("expected settled intent, got %+v err=%v", got, err)
	}
}
