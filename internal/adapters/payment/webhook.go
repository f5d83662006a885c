package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/viralforge/ppv-access-service/internal/domain"
	"github.com/viralforge/ppv-access-service/internal/ports"
)

const DefaultWebhookTolerance = 5 * time.Minute

// WebhookVerifier checks "t=<unix>,v1=<hex hmac>" signatures computed over
// "<t>.<payload>" with the shared endpoint secret.
type WebhookVerifier struct {
	secret    []byte
	tolerance time.Duration
	nowFn     func() time.Time
}

func NewWebhookVerifier(secret string, tolerance time.Duration) (*WebhookVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("webhook secret is required")
	}
	if tolerance <= 0 {
		tolerance = DefaultWebhookTolerance
	}
	return &WebhookVerifier{secret: []byte(secret), tolerance: tolerance, nowFn: time.Now}, nil
}

type webhookEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object webhookObject `json:"object"`
	} `json:"data"`
}

type webhookObject struct {
	ID            string            `json:"id"`
	Object        string            `json:"object"`
	ClientSecret  string            `json:"client_secret"`
	Status        string            `json:"status"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
	PaymentIntent string            `json:"payment_intent"`
}

func (v *WebhookVerifier) Verify(payload []byte, signatureHeader string) (ports.WebhookEvent, error) {
	ts, signatures, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return ports.WebhookEvent{}, err
	}
	age := v.nowFn().Sub(time.Unix(ts, 0))
	if age > v.tolerance || age < -v.tolerance {
		return ports.WebhookEvent{}, fmt.Errorf("%w: timestamp outside tolerance", domain.ErrInvalidSignature)
	}
	expected := Sign(v.secret, ts, payload)
	matched := false
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			matched = true
			break
		}
	}
	if !matched {
		return ports.WebhookEvent{}, domain.ErrInvalidSignature
	}

	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return ports.WebhookEvent{}, fmt.Errorf("%w: malformed webhook payload", domain.ErrInvalidInput)
	}
	obj := env.Data.Object
	intentID := obj.ID
	if obj.Object == "charge" || obj.PaymentIntent != "" {
		intentID = obj.PaymentIntent
	}
	return ports.WebhookEvent{
		EventID: env.ID,
		Type:    env.Type,
		Intent: ports.PaymentIntent{
			IntentID:     intentID,
			ClientSecret: obj.ClientSecret,
			Status:       obj.Status,
			AmountMinor:  obj.Amount,
			Currency:     strings.ToLower(obj.Currency),
			Metadata:     obj.Metadata,
		},
	}, nil
}

// Sign computes the v1 signature for payload at unix time ts.
func Sign(secret []byte, ts int64, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (int64, []string, error) {
	var (
		ts         int64
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: bad timestamp", domain.ErrInvalidSignature)
			}
			ts = parsed
		case "v1":
			signatures = append(signatures, v)
		}
	}
	if ts == 0 || len(signatures) == 0 {
		return 0, nil, fmt.Errorf("%w: missing signature components", domain.ErrInvalidSignature)
	}
	return ts, signatures, nil
}
