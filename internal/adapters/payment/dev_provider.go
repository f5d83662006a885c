package payment

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/viralforge/ppv-access-service/internal/domain"
	"github.com/viralforge/ppv-access-service/internal/ports"
)

// DevProvider is an in-process provider for local runs. With AutoSettle the
// charge succeeds synchronously, which yields the access token straight from
// create_payment.
type DevProvider struct {
	mu         sync.Mutex
	autoSettle bool
	intents    map[string]ports.PaymentIntent
}

func NewDevProvider(autoSettle bool) *DevProvider {
	return &DevProvider{autoSettle: autoSettle, intents: map[string]ports.PaymentIntent{}}
}

func (p *DevProvider) CreateIntent(_ context.Context, params ports.CreateIntentParams) (ports.PaymentIntent, error) {
	id := "pi_dev_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	status := ports.IntentStatusRequiresConfirmation
	if p.autoSettle {
		status = ports.IntentStatusSucceeded
	}
	meta := make(map[string]string, len(params.Metadata))
	for k, v := range params.Metadata {
		meta[k] = v
	}
	intent := ports.PaymentIntent{
		IntentID:     id,
		ClientSecret: id + "_secret_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		Status:       status,
		AmountMinor:  params.AmountMinor,
		Currency:     strings.ToLower(params.Currency),
		Metadata:     meta,
	}
	p.mu.Lock()
	p.intents[id] = intent
	p.mu.Unlock()
	return intent, nil
}

func (p *DevProvider) GetIntent(_ context.Context, intentID string) (ports.PaymentIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	intent, ok := p.intents[strings.TrimSpace(intentID)]
	if !ok {
		return ports.PaymentIntent{}, domain.ErrNotFound
	}
	return intent, nil
}

// Settle moves an intent to the given status, standing in for the client
// side confirmation step.
func (p *DevProvider) Settle(intentID, status string) (ports.PaymentIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	intent, ok := p.intents[intentID]
	if !ok {
		return ports.PaymentIntent{}, domain.ErrNotFound
	}
	intent.Status = status
	p.intents[intentID] = intent
	return intent, nil
}
