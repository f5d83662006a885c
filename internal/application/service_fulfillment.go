package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/ppv-access-service/internal/domain"
	"github.com/viralforge/ppv-access-service/internal/metrics"
	"github.com/viralforge/ppv-access-service/internal/ports"
)

const (
	completionSourceSync    = "sync"
	completionSourcePoll    = "poll"
	completionSourceWebhook = "webhook"
)

type completionInput struct {
	intent  ports.PaymentIntent
	eventID string
	email   string
	name    string
	ip      string
	score   float64
	source  string
}

// InitiatePurchase gates, prices and opens a payment intent. Nothing is
// persisted until the provider reports the charge as settled.
func (s *Service) InitiatePurchase(ctx context.Context, req InitiatePurchaseRequest) (InitiatePurchaseResponse, error) {
	eventID, err := required(req.EventID, "event_id")
	if err != nil {
		return InitiatePurchaseResponse{}, err
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return InitiatePurchaseResponse{}, err
	}
	name := strings.TrimSpace(req.Name)

	sc := req.Security
	sc.Action = "create_payment"
	sc.Email = email
	score, err := s.checkSecurity(ctx, sc)
	if err != nil {
		return InitiatePurchaseResponse{}, err
	}

	event, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return InitiatePurchaseResponse{}, err
	}
	if !event.Purchasable() {
		return InitiatePurchaseResponse{}, fmt.Errorf("%w: %s is %s", domain.ErrEventUnavailable, eventID, event.Status)
	}

	now := s.nowFn()
	if existing, ok, err := s.activeTokenFor(ctx, eventID, email, now); err != nil {
		return InitiatePurchaseResponse{}, err
	} else if ok {
		s.logInfo(ctx, "purchase short-circuited for entitled buyer", "initiate_purchase", "already_entitled",
			"event_id", eventID,
			"token_prefix", domain.Prefix(existing.Token, logPrefixLen),
		)
		expiresAt := existing.ExpiresAt
		return InitiatePurchaseResponse{
			Outcome:     PurchaseOutcomeAlreadyEntitled,
			AccessToken: existing.Token,
			ExpiresAt:   &expiresAt,
		}, nil
	}

	amount := event.EffectivePrice(now, s.cfg.MinChargeMinor)
	currency := s.currencyFor(event)
	metadata := map[string]string{
		ports.IntentMetaEventID:       eventID,
		ports.IntentMetaEmail:         email,
		ports.IntentMetaName:          name,
		ports.IntentMetaIPAddress:     strings.TrimSpace(sc.IPAddress),
		ports.IntentMetaSecurityScore: strconv.FormatFloat(score, 'f', -1, 64),
	}

	payCtx, cancel := context.WithTimeout(ctx, s.cfg.PaymentProviderTimeout)
	defer cancel()
	started := time.Now()
	intent, err := s.payments.CreateIntent(payCtx, ports.CreateIntentParams{
		AmountMinor:      amount,
		Currency:         currency,
		PaymentMethodRef: strings.TrimSpace(req.PaymentMethodRef),
		Description:      event.Title,
		ReceiptEmail:     email,
		IdempotencyKey:   uuid.NewString(),
		Metadata:         metadata,
	})
	metrics.RecordExternalCall("payment_provider", "create_intent", err, time.Since(started))
	if err != nil {
		s.logError(ctx, "payment intent creation failed", "initiate_purchase", "failure",
			"event_id", eventID,
			"error", err,
		)
		return InitiatePurchaseResponse{}, fmt.Errorf("%w: create payment intent", domain.ErrProviderFailure)
	}
	if intent.Metadata == nil {
		intent.Metadata = metadata
	}
	if intent.AmountMinor == 0 {
		intent.AmountMinor = amount
	}
	if intent.Currency == "" {
		intent.Currency = currency
	}

	if intent.Status == ports.IntentStatusSucceeded {
		in := completionInput{
			intent:  intent,
			eventID: eventID,
			email:   email,
			name:    name,
			ip:      metadata[ports.IntentMetaIPAddress],
			score:   score,
			source:  completionSourceSync,
		}
		_, token, err := s.completePurchase(ctx, in)
		if err != nil {
			return InitiatePurchaseResponse{}, err
		}
		expiresAt := token.ExpiresAt
		return InitiatePurchaseResponse{
			Outcome:         PurchaseOutcomeCompleted,
			PaymentIntentID: intent.IntentID,
			AmountMinor:     intent.AmountMinor,
			Currency:        intent.Currency,
			AccessToken:     token.Token,
			ExpiresAt:       &expiresAt,
		}, nil
	}

	s.logInfo(ctx, "payment intent created", "initiate_purchase", "pending",
		"event_id", eventID,
		"payment_intent_id", intent.IntentID,
		"amount_minor", amount,
		"currency", currency,
	)
	return InitiatePurchaseResponse{
		Outcome:         PurchaseOutcomeRequiresConfirmation,
		PaymentIntentID: intent.IntentID,
		ClientSecret:    intent.ClientSecret,
		AmountMinor:     amount,
		Currency:        currency,
	}, nil
}

// CheckPaymentStatus is a pure read of the ledger for client polling.
func (s *Service) CheckPaymentStatus(ctx context.Context, paymentIntentID string) (PaymentStatusResponse, error) {
	intentID, err := required(paymentIntentID, "payment_intent_id")
	if err != nil {
		return PaymentStatusResponse{}, err
	}
	purchase, err := s.purchases.GetByPaymentIntentID(ctx, intentID)
	if err != nil {
		if isNotFound(err) {
			return PaymentStatusResponse{}, domain.ErrNotCompleted
		}
		return PaymentStatusResponse{}, fmt.Errorf("load purchase: %w", err)
	}
	switch purchase.Status {
	case domain.PurchaseStatusCompleted:
	case domain.PurchaseStatusRefunded:
		return PaymentStatusResponse{}, domain.ErrTokenRevoked
	default:
		return PaymentStatusResponse{}, domain.ErrNotCompleted
	}
	token, err := s.tokens.GetByPurchaseID(ctx, purchase.PurchaseID)
	if err != nil {
		return PaymentStatusResponse{}, fmt.Errorf("load token for purchase: %w", err)
	}
	return PaymentStatusResponse{AccessToken: token.Token, ExpiresAt: token.ExpiresAt, Purchase: purchase}, nil
}

// ConfirmPurchase asks the provider for the intent and completes it when
// settled. Safe to race with the webhook for the same intent.
func (s *Service) ConfirmPurchase(ctx context.Context, paymentIntentID, fallbackEmail, fallbackName string) (PaymentStatusResponse, error) {
	intentID, err := required(paymentIntentID, "payment_intent_id")
	if err != nil {
		return PaymentStatusResponse{}, err
	}
	payCtx, cancel := context.WithTimeout(ctx, s.cfg.PaymentProviderTimeout)
	defer cancel()
	started := time.Now()
	intent, err := s.payments.GetIntent(payCtx, intentID)
	metrics.RecordExternalCall("payment_provider", "get_intent", err, time.Since(started))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return PaymentStatusResponse{}, domain.ErrNotCompleted
		}
		s.logError(ctx, "payment intent lookup failed", "confirm_purchase", "failure",
			"payment_intent_id", intentID,
			"error", err,
		)
		return PaymentStatusResponse{}, fmt.Errorf("%w: get payment intent", domain.ErrProviderFailure)
	}
	if intent.Status != ports.IntentStatusSucceeded {
		return PaymentStatusResponse{}, domain.ErrNotCompleted
	}
	in, err := s.inputFromIntent(intent, fallbackEmail, fallbackName, completionSourcePoll)
	if err != nil {
		return PaymentStatusResponse{}, err
	}
	purchase, token, err := s.completePurchase(ctx, in)
	if err != nil {
		return PaymentStatusResponse{}, err
	}
	return PaymentStatusResponse{AccessToken: token.Token, ExpiresAt: token.ExpiresAt, Purchase: purchase}, nil
}

// CheckPayment backs the check_payment action: ledger read first, provider
// confirmation as fallback so polling converges without the webhook.
func (s *Service) CheckPayment(ctx context.Context, req CheckPaymentRequest) (PaymentStatusResponse, error) {
	var email string
	if strings.TrimSpace(req.Email) != "" {
		normalized, err := normalizeEmail(req.Email)
		if err != nil {
			return PaymentStatusResponse{}, err
		}
		email = normalized
	}

	resp, err := s.CheckPaymentStatus(ctx, req.PaymentIntentID)
	if errors.Is(err, domain.ErrNotCompleted) {
		resp, err = s.ConfirmPurchase(ctx, req.PaymentIntentID, email, req.Name)
	}
	if err != nil {
		return PaymentStatusResponse{}, err
	}
	if email != "" && resp.Purchase.CustomerEmail != email {
		s.logWarn(ctx, "payment status requested with mismatched email", "check_payment", "rejected",
			"payment_intent_id", resp.Purchase.PaymentIntentID,
		)
		return PaymentStatusResponse{}, domain.ErrNotCompleted
	}
	return resp, nil
}

func (s *Service) inputFromIntent(intent ports.PaymentIntent, fallbackEmail, fallbackName, source string) (completionInput, error) {
	meta := intent.Metadata
	eventID := strings.TrimSpace(meta[ports.IntentMetaEventID])
	if eventID == "" {
		return completionInput{}, fmt.Errorf("%w: payment intent carries no event_id", domain.ErrInvalidInput)
	}
	rawEmail := meta[ports.IntentMetaEmail]
	if strings.TrimSpace(rawEmail) == "" {
		rawEmail = fallbackEmail
	}
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return completionInput{}, err
	}
	name := strings.TrimSpace(meta[ports.IntentMetaName])
	if name == "" {
		name = strings.TrimSpace(fallbackName)
	}
	score, _ := strconv.ParseFloat(meta[ports.IntentMetaSecurityScore], 64)
	return completionInput{
		intent:  intent,
		eventID: eventID,
		email:   email,
		name:    name,
		ip:      strings.TrimSpace(meta[ports.IntentMetaIPAddress]),
		score:   score,
		source:  source,
	}, nil
}

// completePurchase is the idempotent completion step. It runs under the
// per-intent lock; the repository repeats the existence check inside its
// transaction so a lost lock still cannot produce a second purchase.
func (s *Service) completePurchase(ctx context.Context, in completionInput) (domain.Purchase, domain.AccessToken, error) {
	intentID, err := required(in.intent.IntentID, "payment_intent_id")
	if err != nil {
		return domain.Purchase{}, domain.AccessToken{}, err
	}
	release, err := s.acquireIntentLock(ctx, intentID)
	if err != nil {
		return domain.Purchase{}, domain.AccessToken{}, err
	}
	defer release()

	existing, err := s.purchases.GetByPaymentIntentID(ctx, intentID)
	switch {
	case err == nil:
		token, err := s.tokens.GetByPurchaseID(ctx, existing.PurchaseID)
		if err != nil {
			return domain.Purchase{}, domain.AccessToken{}, fmt.Errorf("load token for purchase: %w", err)
		}
		metrics.FulfillmentsTotal.WithLabelValues(in.source, "replayed").Inc()
		return existing, token, nil
	case !isNotFound(err):
		return domain.Purchase{}, domain.AccessToken{}, fmt.Errorf("load purchase: %w", err)
	}

	event, err := s.loadEvent(ctx, in.eventID)
	if err != nil {
		return domain.Purchase{}, domain.AccessToken{}, err
	}

	tokenValue, err := s.tokenGen.NewToken()
	if err != nil {
		return domain.Purchase{}, domain.AccessToken{}, fmt.Errorf("generate access token: %w", err)
	}

	now := s.nowFn()
	amount := in.intent.AmountMinor
	if amount <= 0 {
		amount = event.EffectivePrice(now, s.cfg.MinChargeMinor)
	}
	currency := strings.ToLower(strings.TrimSpace(in.intent.Currency))
	if currency == "" {
		currency = s.currencyFor(event)
	}
	purchase := domain.Purchase{
		PurchaseID:      uuid.NewString(),
		EventID:         event.EventID,
		CustomerEmail:   in.email,
		CustomerName:    in.name,
		AmountMinor:     amount,
		Currency:        currency,
		PaymentIntentID: intentID,
		Status:          domain.PurchaseStatusCompleted,
		SecurityScore:   in.score,
		PurchasedAt:     now,
		AccessExpiresAt: now.Add(s.cfg.AccessValidity),
		IPAddress:       in.ip,
	}
	token := domain.AccessToken{
		Token:                tokenValue,
		PurchaseID:           purchase.PurchaseID,
		EventID:              event.EventID,
		CustomerEmail:        in.email,
		GrantedAt:            now,
		ExpiresAt:            purchase.AccessExpiresAt,
		MaxConcurrentDevices: s.cfg.MaxConcurrentDevices,
		DeviceSessions:       map[string]domain.DeviceSession{},
	}
	granted, err := s.accessGrantedEvent(purchase, token, event, now)
	if err != nil {
		return domain.Purchase{}, domain.AccessToken{}, err
	}

	res, err := s.purchases.CompleteOnce(ctx, ports.CompletePurchaseParams{
		Purchase: purchase,
		Token:    token,
		Outbox:   []ports.OutboxEvent{granted},
	})
	if err != nil {
		s.logError(ctx, "purchase completion failed", "complete_purchase", "failure",
			"payment_intent_id", intentID,
			"source", in.source,
			"error", err,
		)
		return domain.Purchase{}, domain.AccessToken{}, fmt.Errorf("complete purchase: %w", err)
	}

	result := "replayed"
	if res.Created {
		result = "created"
		s.logInfo(ctx, "purchase completed and access granted", "complete_purchase", "success",
			"payment_intent_id", intentID,
			"purchase_id", res.Purchase.PurchaseID,
			"event_id", res.Purchase.EventID,
			"token_prefix", domain.Prefix(res.Token.Token, logPrefixLen),
			"source", in.source,
		)
	}
	metrics.FulfillmentsTotal.WithLabelValues(in.source, result).Inc()
	return res.Purchase, res.Token, nil
}

func (s *Service) acquireIntentLock(ctx context.Context, intentID string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := s.locker.Acquire(ctx, "intent:"+intentID, s.cfg.IntentLockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire intent lock: %w", err)
	}
	return release, nil
}

// activeTokenFor returns the newest usable token for (event, email).
func (s *Service) activeTokenFor(ctx context.Context, eventID, email string, now time.Time) (domain.AccessToken, bool, error) {
	tokens, err := s.tokens.ListByEventEmail(ctx, eventID, email)
	if err != nil {
		return domain.AccessToken{}, false, fmt.Errorf("list tokens: %w", err)
	}
	for _, t := range tokens {
		if t.State(now) != domain.TokenStateActive {
			continue
		}
		if s.isRevokedMarker(ctx, t.Token) {
			continue
		}
		return t, true, nil
	}
	return domain.AccessToken{}, false, nil
}

func (s *Service) currencyFor(event domain.Event) string {
	if strings.TrimSpace(event.Currency) == "" {
		return domain.NormalizeCurrency(s.cfg.DefaultCurrency)
	}
	return domain.NormalizeCurrency(event.Currency)
}
