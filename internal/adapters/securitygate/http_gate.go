package securitygate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/viralforge/ppv-access-service/internal/adapters/circuit"
	"github.com/viralforge/ppv-access-service/internal/ports"
)

type HTTPGateConfig struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// HTTPGate calls the external fraud/bot service. Callers fail closed on any
// error it returns, including an open breaker.
type HTTPGate struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[ports.SecurityDecision]
}

func NewHTTPGate(cfg HTTPGateConfig) (*HTTPGate, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("security gate base url is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPGate{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		cb:         circuit.New[ports.SecurityDecision]("security-gate", cfg.Logger),
	}, nil
}

func (g *HTTPGate) Evaluate(ctx context.Context, sc ports.SecurityContext) (ports.SecurityDecision, error) {
	body, err := json.Marshal(sc)
	if err != nil {
		return ports.SecurityDecision{}, err
	}
	return g.cb.Execute(func() (ports.SecurityDecision, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/evaluate", bytes.NewReader(body))
		if err != nil {
			return ports.SecurityDecision{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if g.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+g.apiKey)
		}
		resp, err := g.httpClient.Do(req)
		if err != nil {
			return ports.SecurityDecision{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return ports.SecurityDecision{}, fmt.Errorf("security gate request failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		}
		var decision ports.SecurityDecision
		if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
			return ports.SecurityDecision{}, fmt.Errorf("decode security decision: %w", err)
		}
		return decision, nil
	})
}
