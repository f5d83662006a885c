package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/viralforge/ppv-access-service/internal/adapters/circuit"
	"github.com/viralforge/ppv-access-service/internal/domain"
	"github.com/viralforge/ppv-access-service/internal/ports"
)

type HTTPProviderConfig struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// HTTPProvider talks to a Stripe-compatible payment intents API behind a
// circuit breaker.
type HTTPProvider struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[ports.PaymentIntent]
}

func NewHTTPProvider(cfg HTTPProviderConfig) (*HTTPProvider, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("payment provider base url is required")
	}
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("payment provider secret key is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPProvider{
		baseURL:    base,
		secretKey:  cfg.SecretKey,
		httpClient: httpClient,
		cb:         circuit.New[ports.PaymentIntent]("payment-provider", cfg.Logger),
	}, nil
}

type intentResponse struct {
	ID           string            `json:"id"`
	Object       string            `json:"object"`
	ClientSecret string            `json:"client_secret"`
	Status       string            `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Metadata     map[string]string `json:"metadata"`
}

func (r intentResponse) toPort() ports.PaymentIntent {
	return ports.PaymentIntent{
		IntentID:     r.ID,
		ClientSecret: r.ClientSecret,
		Status:       r.Status,
		AmountMinor:  r.Amount,
		Currency:     strings.ToLower(r.Currency),
		Metadata:     r.Metadata,
	}
}

func (p *HTTPProvider) CreateIntent(ctx context.Context, params ports.CreateIntentParams) (ports.PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(params.AmountMinor, 10))
	form.Set("currency", strings.ToLower(params.Currency))
	if params.Description != "" {
		form.Set("description", params.Description)
	}
	if params.ReceiptEmail != "" {
		form.Set("receipt_email", params.ReceiptEmail)
	}
	if params.PaymentMethodRef != "" {
		form.Set("payment_method", params.PaymentMethodRef)
		form.Set("confirm", "true")
	}
	form.Set("automatic_payment_methods[enabled]", "true")
	form.Set("automatic_payment_methods[allow_redirects]", "never")
	for k, v := range params.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	return p.cb.Execute(func() (ports.PaymentIntent, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/payment_intents", strings.NewReader(form.Encode()))
		if err != nil {
			return ports.PaymentIntent{}, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if params.IdempotencyKey != "" {
			req.Header.Set("Idempotency-Key", params.IdempotencyKey)
		}
		return p.do(req)
	})
}

func (p *HTTPProvider) GetIntent(ctx context.Context, intentID string) (ports.PaymentIntent, error) {
	id := strings.TrimSpace(intentID)
	if id == "" {
		return ports.PaymentIntent{}, fmt.Errorf("%w: intent id is required", domain.ErrInvalidInput)
	}
	return p.cb.Execute(func() (ports.PaymentIntent, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/payment_intents/"+url.PathEscape(id), nil)
		if err != nil {
			return ports.PaymentIntent{}, err
		}
		return p.do(req)
	})
}

func (p *HTTPProvider) do(req *http.Request) (ports.PaymentIntent, error) {
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return ports.PaymentIntent{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ports.PaymentIntent{}, &circuit.ClientError{Status: resp.StatusCode, Err: domain.ErrNotFound}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("payment provider request failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return ports.PaymentIntent{}, &circuit.ClientError{Status: resp.StatusCode, Err: err}
		}
		return ports.PaymentIntent{}, err
	}

	var out intentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ports.PaymentIntent{}, fmt.Errorf("decode payment intent: %w", err)
	}
	if strings.TrimSpace(out.ID) == "" {
		return ports.PaymentIntent{}, errors.New("payment intent id missing in response")
	}
	return out.toPort(), nil
}
