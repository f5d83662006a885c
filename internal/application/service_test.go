package application_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/viralforge/ppv-access-service/internal/adapters/memory"
	"github.com/viralforge/ppv-access-service/internal/adapters/payment"
	"github.com/viralforge/ppv-access-service/internal/adapters/security"
	"github.com/viralforge/ppv-access-service/internal/application"
	"github.com/viralforge/ppv-access-service/internal/domain"
	"github.com/viralforge/ppv-access-service/internal/ports"
)

const webhookSecret = "whsec_service_test"

var start = time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubGate struct {
	mu       sync.Mutex
	decision ports.SecurityDecision
	err      error
	calls    int
}

func (g *stubGate) Evaluate(_ context.Context, _ ports.SecurityContext) (ports.SecurityDecision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.decision, g.err
}

type fixture struct {
	service  *application.Service
	repos    *memory.Repositories
	provider *payment.DevProvider
	gate     *stubGate
	clock    *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	repos := memory.NewRepositories()
	provider := payment.NewDevProvider(false)
	verifier, err := payment.NewWebhookVerifier(webhookSecret, 0)
	if err != nil {
		t.Fatalf("webhook verifier: %v", err)
	}
	signer, err := security.NewEphemeralPlaybackSigner("test-key", "ppv-test")
	if err != nil {
		t.Fatalf("playback signer: %v", err)
	}
	gate := &stubGate{decision: ports.SecurityDecision{Allowed: true, Score: 0.1}}
	clk := &clock{now: start}

	svc := application.NewService(application.Dependencies{
		Config: application.Config{
			ServiceName:               "ppv-test",
			MaxConcurrentDevices:      1,
			DeviceInactivityTimeout:   150 * time.Second,
			HeartbeatInterval:         60 * time.Second,
			ViolationSuspendThreshold: 3,
			AccessBaseURL:             "https://watch.example/live",
		},
		Events:       repos.Events,
		Purchases:    repos.Purchases,
		Tokens:       repos.Tokens,
		Violations:   repos.Violations,
		Outbox:       repos.Outbox,
		Locker:       memory.NewLocker(),
		Revocations:  memory.NewRevocationStore(),
		SecurityGate: gate,
		Payments:     provider,
		Webhooks:     verifier,
		TokenGen:     security.NewRandomTokenGenerator(),
		Playback:     signer,
	})
	svc.SetClock(clk.Now)

	err = svc.SeedCatalog(context.Background(), []domain.Event{
		{EventID: "bif-1", Title: "Battle of the Influencers", PriceMinor: 1999, Status: domain.EventStatusLive, StreamLocator: "https://stream.example/bif-1.m3u8"},
		{EventID: "bif-2", Title: "Rematch", PriceMinor: 2499, Status: domain.EventStatusUpcoming, StreamLocator: "https://stream.example/bif-2.m3u8"},
		{EventID: "bif-0", Title: "Warmup", PriceMinor: 500, Status: domain.EventStatusFinished},
	})
	if err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	return &fixture{service: svc, repos: repos, provider: provider, gate: gate, clock: clk}
}

// buy runs create -> provider settlement -> check_payment and returns the token.
func (f *fixture) buy(t *testing.T, eventID, email, ip string) (string, string) {
	t.Helper()
	ctx := context.Background()
	created, err := f.service.InitiatePurchase(ctx, application.InitiatePurchaseRequest{
		EventID:  eventID,
		Email:    email,
		Name:     "Test Buyer",
		Security: ports.SecurityContext{IPAddress: ip, UserAgent: "Mozilla/5.0"},
	})
	if err != nil {
		t.Fatalf("initiate purchase: %v", err)
	}
	if created.Outcome != application.PurchaseOutcomeRequiresConfirmation {
		t.Fatalf("expected pending intent, got %s", created.Outcome)
	}
	if _, err := f.provider.Settle(created.PaymentIntentID, ports.IntentStatusSucceeded); err != nil {
		t.Fatalf("settle: %v", err)
	}
	status, err := f.service.CheckPayment(ctx, application.CheckPaymentRequest{PaymentIntentID: created.PaymentIntentID})
	if err != nil {
		t.Fatalf("check payment: %v", err)
	}
	return status.AccessToken, created.PaymentIntentID
}

func (f *fixture) verify(token, deviceID string) (application.AccessGrant, error) {
	return f.service.VerifyAccess(context.Background(), application.VerifyAccessRequest{
		Token:  token,
		Device: application.DeviceContext{DeviceID: deviceID, UserAgent: "Mozilla/5.0"},
	})
}

func signedWebhook(t *testing.T, body map[string]any) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal webhook: %v", err)
	}
	ts := time.Now().Unix()
	return payload, fmt.Sprintf("t=%d,v1=%s", ts, payment.Sign([]byte(webhookSecret), ts, payload))
}

func succeededWebhook(t *testing.T, intentID, eventID, email string) ([]byte, string) {
	return signedWebhook(t, map[string]any{
		"id":   "evt_" + intentID,
		"type": ports.WebhookPaymentSucceeded,
		"data": map[string]any{"object": map[string]any{
			"id":       intentID,
			"object":   "payment_intent",
			"status":   "succeeded",
			"amount":   1999,
			"currency": "eur",
			"metadata": map[string]string{
				ports.IntentMetaEventID: eventID,
				ports.IntentMetaEmail:   email,
				ports.IntentMetaName:    "Webhook Buyer",
			},
		}},
	})
}

func refundWebhook(t *testing.T, intentID string) ([]byte, string) {
	return signedWebhook(t, map[string]any{
		"id":   "evt_refund_" + intentID,
		"type": ports.WebhookChargeRefunded,
		"data": map[string]any{"object": map[string]any{
			"id":             "ch_" + intentID,
			"object":         "charge",
			"payment_intent": intentID,
		}},
	})
}

func countOutbox(f *fixture, eventType string) int {
	n := 0
	for _, rec := range f.repos.Outbox.Pending() {
		if rec.EventType == eventType {
			n++
		}
	}
	return n
}

func TestSingleDeviceAdmissionAndInactivityReclaim(t *testing.T) {
	f := newFixture(t)
	token, _ := f.buy(t, "bif-1", "a@x.com", "198.51.100.1")

	grant, err := f.verify(token, "dev1")
	if err != nil {
		t.Fatalf("verify dev1: %v", err)
	}
	if grant.Event.StreamLocator == "" || grant.PlaybackToken == "" {
		t.Fatalf("admitted device must receive locator and playback grant: %+v", grant)
	}
	if grant.ActiveDevices != 1 || grant.MaxDevices != 1 {
		t.Fatalf("unexpected device counts: %d/%d", grant.ActiveDevices, grant.MaxDevices)
	}

	f.clock.Advance(30 * time.Second)
	_, err = f.verify(token, "dev2")
	var denied *domain.DeviceDeniedError
	if !errors.As(err, &denied) || !errors.Is(err, domain.ErrDeviceDenied) {
		t.Fatalf("expected device denial, got %v", err)
	}
	if denied.ActiveDevices != 1 || denied.RetryAfter != 120*time.Second {
		t.Fatalf("unexpected denial details: %+v", denied)
	}
	violations, err := f.repos.Violations.ListByTokenPrefix(context.Background(), domain.Prefix(token, 8), 10)
	if err != nil || len(violations) != 1 || violations[0].Type != domain.ViolationTypeDeviceLimit {
		t.Fatalf("expected one device-limit violation, got %v err=%v", violations, err)
	}

	f.clock.Advance(121 * time.Second)
	if _, err := f.verify(token, "dev2"); err != nil {
		t.Fatalf("dev2 should be admitted after dev1 went silent: %v", err)
	}
	if _, err := f.verify(token, "dev1"); !errors.Is(err, domain.ErrDeviceDenied) {
		t.Fatalf("dev1 lost its slot and must now be denied, got %v", err)
	}
}

func TestConcurrentCompletionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.service.InitiatePurchase(ctx, application.InitiatePurchaseRequest{
		EventID:  "bif-1",
		Email:    "b@x.com",
		Security: ports.SecurityContext{UserAgent: "Mozilla/5.0"},
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	intentID := created.PaymentIntentID
	if _, err := f.provider.Settle(intentID, ports.IntentStatusSucceeded); err != nil {
		t.Fatalf("settle: %v", err)
	}

	const workers = 8
	payload, sig := succeededWebhook(t, intentID, "bif-1", "b@x.com")
	tokens := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, errs[i] = f.service.HandleProviderWebhook(ctx, payload, sig)
				return
			}
			resp, err := f.service.ConfirmPurchase(ctx, intentID, "", "")
			tokens[i], errs[i] = resp.AccessToken, err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
	}
	status, err := f.service.CheckPaymentStatus(ctx, intentID)
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	for i, tok := range tokens {
		if tok != "" && tok != status.AccessToken {
			t.Fatalf("worker %d saw token %q, ledger has %q", i, tok, status.AccessToken)
		}
	}
	all, err := f.repos.Tokens.ListByEventEmail(ctx, "bif-1", "b@x.com")
	if err != nil || len(all) != 1 {
		t.Fatalf("expected exactly one token, got %d err=%v", len(all), err)
	}
	if n := countOutbox(f, domain.EventAccessGranted); n != 1 {
		t.Fatalf("expected one access_granted event, got %d", n)
	}
}

func TestConcurrentAdmissionsFromDistinctDevicesAdmitOne(t *testing.T) {
	f := newFixture(t)
	token, _ := f.buy(t, "bif-1", "race@x.com", "198.51.100.3")

	const devices = 32
	errs := make([]error, devices)
	var wg sync.WaitGroup
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.verify(token, fmt.Sprintf("dev-%02d", i))
		}(i)
	}
	wg.Wait()

	admitted := 0
	for i, err := range errs {
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, domain.ErrDeviceDenied):
		default:
			t.Fatalf("device %d: unexpected error %v", i, err)
		}
	}
	if admitted != 1 {
		t.Fatalf("expected exactly one admission, got %d", admitted)
	}
	stored, err := f.repos.Tokens.Get(context.Background(), token)
	if err != nil {
		t.Fatalf("load token: %v", err)
	}
	if stored.LiveSessions() != 1 || stored.SharingViolations != devices-1 {
		t.Fatalf("expected 1 live session and %d violations, got %d and %d",
			devices-1, stored.LiveSessions(), stored.SharingViolations)
	}
}

func TestWebhookOnlyCompletionAndDuplicateDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload, sig := succeededWebhook(t, "pi_123", "bif-1", "Hook@X.com")

	for i := 0; i < 2; i++ {
		res, err := f.service.HandleProviderWebhook(ctx, payload, sig)
		if err != nil || !res.Handled {
			t.Fatalf("delivery %d: handled=%v err=%v", i, res.Handled, err)
		}
	}
	status, err := f.service.CheckPaymentStatus(ctx, "pi_123")
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if status.Purchase.CustomerEmail != "hook@x.com" || status.Purchase.AmountMinor != 1999 {
		t.Fatalf("unexpected purchase: %+v", status.Purchase)
	}
	if _, err := f.service.HandleProviderWebhook(ctx, payload, "t=1,v1=deadbeef"); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestFinishedEventEndsAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token, _ := f.buy(t, "bif-1", "c@x.com", "")
	if _, err := f.verify(token, "dev1"); err != nil {
		t.Fatalf("verify: %v", err)
	}

	err := f.service.SeedCatalog(ctx, []domain.Event{
		{EventID: "bif-1", Title: "Battle of the Influencers", PriceMinor: 1999, Status: domain.EventStatusFinished},
	})
	if err != nil {
		t.Fatalf("finish event: %v", err)
	}
	if _, err := f.verify(token, "dev1"); !errors.Is(err, domain.ErrEventFinished) {
		t.Fatalf("expected event finished, got %v", err)
	}
	_, err = f.service.Heartbeat(ctx, application.HeartbeatRequest{Token: token, Device: application.DeviceContext{DeviceID: "dev1"}})
	if !errors.Is(err, domain.ErrEventFinished) {
		t.Fatalf("heartbeat should end with event finished, got %v", err)
	}
}

func TestOriginIPLookupRespectsLiveSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token, _ := f.buy(t, "bif-1", "d@x.com", "203.0.113.7")
	if _, err := f.verify(token, "dev1"); err != nil {
		t.Fatalf("verify: %v", err)
	}

	req := application.OriginIPAccessRequest{
		EventID:  "bif-1",
		OriginIP: "203.0.113.7",
		Device:   application.DeviceContext{DeviceID: "dev-tv"},
	}
	if _, err := f.service.LookupAccessByOriginIP(ctx, req); !errors.Is(err, domain.ErrActiveSession) {
		t.Fatalf("expected active session refusal, got %v", err)
	}

	unknown := req
	unknown.OriginIP = "192.0.2.99"
	if _, err := f.service.LookupAccessByOriginIP(ctx, unknown); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for unknown origin, got %v", err)
	}

	f.clock.Advance(151 * time.Second)
	grant, err := f.service.LookupAccessByOriginIP(ctx, req)
	if err != nil {
		t.Fatalf("vacant token should admit via origin ip: %v", err)
	}
	if grant.AccessToken != token || grant.Event.StreamLocator == "" {
		t.Fatalf("unexpected grant: %+v", grant)
	}
	if _, err := f.verify(token, "dev1"); !errors.Is(err, domain.ErrDeviceDenied) {
		t.Fatalf("origin-ip device must occupy the slot, got %v", err)
	}
}

func TestRefundRevokesEveryPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token, intentID := f.buy(t, "bif-1", "e@x.com", "203.0.113.8")
	if _, err := f.verify(token, "dev1"); err != nil {
		t.Fatalf("verify: %v", err)
	}

	payload, sig := refundWebhook(t, intentID)
	for i := 0; i < 2; i++ {
		if res, err := f.service.HandleProviderWebhook(ctx, payload, sig); err != nil || !res.Handled {
			t.Fatalf("refund delivery %d: handled=%v err=%v", i, res.Handled, err)
		}
	}

	if _, err := f.verify(token, "dev1"); !errors.Is(err, domain.ErrTokenRevoked) {
		t.Fatalf("verify after refund: %v", err)
	}
	_, err := f.service.LookupAccessByEmail(ctx, application.LookupAccessRequest{
		Email:   "e@x.com",
		EventID: "bif-1",
		Device:  application.DeviceContext{DeviceID: "dev1"},
	})
	if !errors.Is(err, domain.ErrTokenRevoked) {
		t.Fatalf("email lookup after refund: %v", err)
	}
	_, err = f.service.LookupAccessByOriginIP(ctx, application.OriginIPAccessRequest{EventID: "bif-1", OriginIP: "203.0.113.8"})
	if err == nil {
		t.Fatal("origin lookup must not grant a refunded purchase")
	}
	if _, err := f.service.CheckPaymentStatus(ctx, intentID); !errors.Is(err, domain.ErrTokenRevoked) {
		t.Fatalf("check status after refund: %v", err)
	}
	if n := countOutbox(f, domain.EventAccessRevoked); n != 1 {
		t.Fatalf("expected one access_revoked event, got %d", n)
	}

	stray, straySig := refundWebhook(t, "pi_unknown")
	res, err := f.service.HandleProviderWebhook(ctx, stray, straySig)
	if err != nil || res.Handled {
		t.Fatalf("unknown refund should be ignored, handled=%v err=%v", res.Handled, err)
	}
}

func TestExpiryIsTerminalAndAllowsRepurchase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token, _ := f.buy(t, "bif-1", "f@x.com", "")

	again, err := f.service.InitiatePurchase(ctx, application.InitiatePurchaseRequest{
		EventID:  "bif-1",
		Email:    "F@x.com",
		Security: ports.SecurityContext{UserAgent: "Mozilla/5.0"},
	})
	if err != nil {
		t.Fatalf("second initiate: %v", err)
	}
	if again.Outcome != application.PurchaseOutcomeAlreadyEntitled || again.AccessToken != token {
		t.Fatalf("entitled buyer should get the existing token, got %+v", again)
	}

	f.clock.Advance(30*24*time.Hour + time.Second)
	if _, err := f.verify(token, "dev1"); !errors.Is(err, domain.ErrTokenExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	_, err = f.service.Heartbeat(ctx, application.HeartbeatRequest{Token: token, Device: application.DeviceContext{DeviceID: "dev1"}})
	if !errors.Is(err, domain.ErrTokenExpired) {
		t.Fatalf("heartbeat after expiry: %v", err)
	}
	fresh, err := f.service.InitiatePurchase(ctx, application.InitiatePurchaseRequest{
		EventID:  "bif-1",
		Email:    "f@x.com",
		Security: ports.SecurityContext{UserAgent: "Mozilla/5.0"},
	})
	if err != nil || fresh.Outcome != application.PurchaseOutcomeRequiresConfirmation {
		t.Fatalf("expired buyer must be able to repurchase, got %+v err=%v", fresh, err)
	}
}

func TestHeartbeatSupersededAfterSlotTakeover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token, _ := f.buy(t, "bif-1", "g@x.com", "")
	if _, err := f.verify(token, "dev1"); err != nil {
		t.Fatalf("verify dev1: %v", err)
	}

	f.clock.Advance(151 * time.Second)
	if _, err := f.verify(token, "dev2"); err != nil {
		t.Fatalf("verify dev2: %v", err)
	}

	_, err := f.service.Heartbeat(ctx, application.HeartbeatRequest{Token: token, Device: application.DeviceContext{DeviceID: "dev1"}})
	if !errors.Is(err, domain.ErrSessionSuperseded) {
		t.Fatalf("expected superseded heartbeat, got %v", err)
	}

	resp, err := f.service.Heartbeat(ctx, application.HeartbeatRequest{Token: token, Device: application.DeviceContext{DeviceID: "dev2"}})
	if err != nil {
		t.Fatalf("dev2 heartbeat: %v", err)
	}
	if !resp.NextHeartbeatAt.Equal(f.clock.Now().Add(60*time.Second)) || resp.ActiveDeviceCount != 1 {
		t.Fatalf("unexpected heartbeat response: %+v", resp)
	}

	resp, err = f.service.Heartbeat(ctx, application.HeartbeatRequest{
		Token:   token,
		Device:  application.DeviceContext{DeviceID: "dev2"},
		Signals: []application.ViolationSignal{{Type: domain.ViolationTypeDevTools}, {Type: domain.ViolationTypeRecording}},
	})
	if err != nil {
		t.Fatalf("heartbeat with signals: %v", err)
	}
	if resp.Action != domain.ViolationActionTerminate {
		t.Fatalf("expected terminate advice, got %q", resp.Action)
	}
}

func TestHeartbeatUnknownToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Heartbeat(context.Background(), application.HeartbeatRequest{
		Token:  "nope",
		Device: application.DeviceContext{DeviceID: "dev1"},
	})
	if !errors.Is(err, domain.ErrTokenNotFound) {
		t.Fatalf("expected token not found, got %v", err)
	}
}

func TestSecurityGateFailsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := application.InitiatePurchaseRequest{EventID: "bif-1", Email: "h@x.com"}

	f.gate.err = errors.New("gate timeout")
	_, err := f.service.InitiatePurchase(ctx, req)
	var blocked *domain.SecurityBlockedError
	if !errors.As(err, &blocked) || blocked.Code != "GATE_UNAVAILABLE" {
		t.Fatalf("expected fail-closed block, got %v", err)
	}

	f.gate.err = nil
	f.gate.decision = ports.SecurityDecision{Allowed: false, Score: 0.95, Code: "BOT_DETECTED", Reason: "honeypot"}
	_, err = f.service.LookupAccessByEmail(ctx, application.LookupAccessRequest{
		Email:   "h@x.com",
		EventID: "bif-1",
		Device:  application.DeviceContext{DeviceID: "dev1"},
	})
	if !errors.Is(err, domain.ErrSecurityBlocked) {
		t.Fatalf("expected blocked lookup, got %v", err)
	}
}

func TestPurchaseRejectsUnavailableEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := map[string]error{
		"bif-0":   domain.ErrEventUnavailable,
		"missing": domain.ErrEventNotFound,
	}
	for eventID, want := range cases {
		_, err := f.service.InitiatePurchase(ctx, application.InitiatePurchaseRequest{EventID: eventID, Email: "i@x.com"})
		if !errors.Is(err, want) {
			t.Fatalf("%s: expected %v, got %v", eventID, want, err)
		}
	}
	if _, err := f.service.InitiatePurchase(ctx, application.InitiatePurchaseRequest{EventID: "bif-1", Email: "not-an-email"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for bad email, got %v", err)
	}
}

func TestCheckPaymentPendingAndMismatchedEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.service.InitiatePurchase(ctx, application.InitiatePurchaseRequest{EventID: "bif-2", Email: "j@x.com"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if created.AmountMinor != 2499 || created.Currency != "eur" {
		t.Fatalf("unexpected pricing: %d %s", created.AmountMinor, created.Currency)
	}
	if _, err := f.service.CheckPayment(ctx, application.CheckPaymentRequest{PaymentIntentID: created.PaymentIntentID}); !errors.Is(err, domain.ErrNotCompleted) {
		t.Fatalf("expected not completed while pending, got %v", err)
	}
	if _, err := f.provider.Settle(created.PaymentIntentID, ports.IntentStatusSucceeded); err != nil {
		t.Fatalf("settle: %v", err)
	}
	_, err = f.service.CheckPayment(ctx, application.CheckPaymentRequest{PaymentIntentID: created.PaymentIntentID, Email: "other@x.com"})
	if !errors.Is(err, domain.ErrNotCompleted) {
		t.Fatalf("mismatched email must not reveal the token, got %v", err)
	}
	ok, err := f.service.CheckPayment(ctx, application.CheckPaymentRequest{PaymentIntentID: created.PaymentIntentID, Email: "J@x.com"})
	if err != nil || ok.AccessToken == "" {
		t.Fatalf("expected token for matching email, got %+v err=%v", ok, err)
	}
}

func TestReportViolationEscalates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token, _ := f.buy(t, "bif-1", "k@x.com", "")

	want := []string{domain.ViolationActionWarning, domain.ViolationActionWarning, domain.ViolationActionSuspend}
	for i, action := range want {
		resp, err := f.service.ReportViolation(ctx, application.ReportViolationRequest{
			Token:     token,
			DeviceID:  "dev1",
			Violation: application.ViolationSignal{Type: domain.ViolationTypeDevTools},
		})
		if err != nil {
			t.Fatalf("report %d: %v", i, err)
		}
		if resp.Action != action || resp.CumulativeViolations != i+1 {
			t.Fatalf("report %d: got %+v, want %s", i, resp, action)
		}
	}

	resp, err := f.service.ReportViolation(ctx, application.ReportViolationRequest{
		Token:     "unknown-token",
		Violation: application.ViolationSignal{Type: domain.ViolationTypeCapture},
	})
	if err != nil || resp.Action != domain.ViolationActionTerminate {
		t.Fatalf("critical report on unknown token: %+v err=%v", resp, err)
	}
	if _, err := f.service.ReportViolation(ctx, application.ReportViolationRequest{Token: token}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input without type, got %v", err)
	}
}

func TestReportViolationTruncatesDetailsOnRuneBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token, _ := f.buy(t, "bif-1", "utf@x.com", "")

	details := "x" + strings.Repeat("é", 300)
	if _, err := f.service.ReportViolation(ctx, application.ReportViolationRequest{
		Token:     token,
		DeviceID:  "dev1",
		Violation: application.ViolationSignal{Type: domain.ViolationTypeDevTools, Details: details},
	}); err != nil {
		t.Fatalf("report: %v", err)
	}
	stored, err := f.repos.Violations.ListByTokenPrefix(ctx, domain.Prefix(token, 8), 10)
	if err != nil || len(stored) != 1 {
		t.Fatalf("expected one violation, got %d err=%v", len(stored), err)
	}
	got := stored[0].Details
	if !utf8.ValidString(got) {
		t.Fatalf("stored details are not valid UTF-8: %q", got)
	}
	if len(got) != 499 || !strings.HasPrefix(details, got) {
		t.Fatalf("expected a 499 byte prefix of the report, got %d bytes", len(got))
	}
}

func TestPaymentFailedWebhookEmitsEvent(t *testing.T) {
	f := newFixture(t)
	payload, sig := signedWebhook(t, map[string]any{
		"id":   "evt_fail",
		"type": ports.WebhookPaymentFailed,
		"data": map[string]any{"object": map[string]any{
			"id":       "pi_failed",
			"object":   "payment_intent",
			"status":   "requires_payment_method",
			"metadata": map[string]string{ports.IntentMetaEventID: "bif-1", ports.IntentMetaEmail: "l@x.com"},
		}},
	})
	res, err := f.service.HandleProviderWebhook(context.Background(), payload, sig)
	if err != nil || !res.Handled {
		t.Fatalf("failed webhook: handled=%v err=%v", res.Handled, err)
	}
	if n := countOutbox(f, domain.EventPurchaseFailed); n != 1 {
		t.Fatalf("expected one purchase_failed event, got %d", n)
	}
	if _, err := f.service.CheckPaymentStatus(context.Background(), "pi_failed"); !errors.Is(err, domain.ErrNotCompleted) {
		t.Fatalf("failed payment must not complete, got %v", err)
	}
}

func TestCatalogHidesLocatorAndRejectsTwoLiveEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	events, err := f.service.ListEvents(ctx)
	if err != nil || len(events) != 3 {
		t.Fatalf("list events: %d err=%v", len(events), err)
	}
	for _, e := range events {
		if e.StreamLocator != "" {
			t.Fatalf("%s leaked its locator", e.EventID)
		}
	}
	err = f.service.SeedCatalog(ctx, []domain.Event{
		{EventID: "x", Title: "X", Status: domain.EventStatusLive},
		{EventID: "y", Title: "Y", Status: domain.EventStatusLive},
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for two live events, got %v", err)
	}
}
