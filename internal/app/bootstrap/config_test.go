package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/viralforge/ppv-access-service/internal/domain"
)

const localConfig = `
service:
  id: PPV-Access-Service
  http_port: 0
  grpc_port: 0
  trusted_proxies:
    - 10.0.0.0/8
dependencies:
  store_driver: memory
payment:
  driver: dev
  auto_settle: true
security_gate:
  driver: heuristic
  threshold: 0.8
access:
  max_concurrent_devices: 2
  device_inactivity_seconds: 120
  heartbeat_interval_seconds: 30
catalog:
  events:
    - id: bif-1
      title: Battle of the Influencers
      price_minor: 1999
      early_bird_price_minor: 1499
      early_bird_until: "2026-11-01T00:00:00Z"
      status: live
      stream_locator: https://stream.example.com/bif-1.m3u8
    - id: bif-0
      title: Warmup Show
      price_minor: 500
      status: finished
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigReadsFile(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, localConfig))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.StoreDriver != StoreDriverMemory || cfg.PaymentDriver != PaymentDriverDev || cfg.SecurityGateDriver != GateDriverHeuristic {
		t.Fatalf("unexpected drivers: %+v", cfg)
	}
	if !cfg.PaymentDevAutoSettle {
		t.Fatal("expected auto settle from file")
	}
	if cfg.MaxConcurrentDevices != 2 || cfg.DeviceInactivityTimeout != 120*time.Second || cfg.HeartbeatInterval != 30*time.Second {
		t.Fatalf("unexpected access policy: devices=%d inactivity=%s heartbeat=%s",
			cfg.MaxConcurrentDevices, cfg.DeviceInactivityTimeout, cfg.HeartbeatInterval)
	}
	if cfg.AccessValidity != 30*24*time.Hour {
		t.Fatalf("expected default validity, got %s", cfg.AccessValidity)
	}
	if len(cfg.TrustedProxies) != 1 || cfg.TrustedProxies[0] != "10.0.0.0/8" {
		t.Fatalf("unexpected trusted proxies: %v", cfg.TrustedProxies)
	}
	if len(cfg.Catalog) != 2 {
		t.Fatalf("expected 2 catalog events, got %d", len(cfg.Catalog))
	}
	live := cfg.Catalog[0]
	if live.EventID != "bif-1" || live.Status != domain.EventStatusLive {
		t.Fatalf("unexpected first event: %+v", live)
	}
	if live.EarlyBirdPriceMinor == nil || *live.EarlyBirdPriceMinor != 1499 {
		t.Fatalf("expected early bird price, got %v", live.EarlyBirdPriceMinor)
	}
	want := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	if live.EarlyBirdUntil == nil || !live.EarlyBirdUntil.Equal(want) {
		t.Fatalf("unexpected early bird cutoff: %v", live.EarlyBirdUntil)
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_DEVICES", "3")
	t.Setenv("DEVICE_INACTIVITY_SECONDS", "300")
	t.Setenv("SECURITY_GATE_TIMEOUT_MS", "1500")
	t.Setenv("CRITICAL_VIOLATION_TYPES", "recording_detected, ,devtools_open")
	t.Setenv("ACCESS_VALIDITY_DAYS", "7")
	t.Setenv("TRUSTED_PROXIES", "127.0.0.1, 172.16.0.0/12")

	cfg, err := LoadConfig(writeConfig(t, localConfig))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.MaxConcurrentDevices != 3 {
		t.Fatalf("expected env device limit, got %d", cfg.MaxConcurrentDevices)
	}
	if cfg.DeviceInactivityTimeout != 300*time.Second {
		t.Fatalf("expected env inactivity, got %s", cfg.DeviceInactivityTimeout)
	}
	if cfg.SecurityGateTimeout != 1500*time.Millisecond {
		t.Fatalf("expected env gate timeout, got %s", cfg.SecurityGateTimeout)
	}
	if cfg.AccessValidity != 7*24*time.Hour {
		t.Fatalf("expected 7 day validity, got %s", cfg.AccessValidity)
	}
	if len(cfg.CriticalViolationTypes) != 2 || cfg.CriticalViolationTypes[1] != "devtools_open" {
		t.Fatalf("unexpected critical types: %v", cfg.CriticalViolationTypes)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[1] != "172.16.0.0/12" {
		t.Fatalf("unexpected trusted proxies: %v", cfg.TrustedProxies)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string]string{
		"postgres without url": `
dependencies:
  store_driver: postgres
payment:
  driver: dev
security_gate:
  driver: heuristic
`,
		"http payment without secret": `
dependencies:
  store_driver: memory
payment:
  driver: http
  base_url: https://payments.example.com
security_gate:
  driver: heuristic
`,
		"heartbeat not shorter than inactivity": `
dependencies:
  store_driver: memory
payment:
  driver: dev
security_gate:
  driver: heuristic
access:
  device_inactivity_seconds: 60
  heartbeat_interval_seconds: 60
`,
		"unparseable trusted proxy": `
service:
  trusted_proxies:
    - lb.internal
dependencies:
  store_driver: memory
payment:
  driver: dev
security_gate:
  driver: heuristic
`,
		"bad catalog timestamp": `
dependencies:
  store_driver: memory
payment:
  driver: dev
security_gate:
  driver: heuristic
catalog:
  events:
    - id: bif-1
      title: Show
      status: live
      starts_at: tomorrow
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, body)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestEnvHelpersFallBackOnGarbage(t *testing.T) {
	t.Setenv("PPV_TEST_INT", "ten")
	t.Setenv("PPV_TEST_BOOL", "maybe")
	if got := envInt("PPV_TEST_INT", 4); got != 4 {
		t.Fatalf("expected fallback int, got %d", got)
	}
	if got := envBool("PPV_TEST_BOOL", true); !got {
		t.Fatal("expected fallback bool")
	}
	if got := envCSV("PPV_TEST_UNSET", []string{"a"}); len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected fallback csv, got %v", got)
	}
}

func TestNewRuntimeWiresMemoryStack(t *testing.T) {
	t.Setenv("GRPC_PORT", "0")
	ctx := context.Background()
	rt, err := NewRuntime(ctx, writeConfig(t, localConfig))
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	t.Cleanup(func() {
		_ = rt.grpcLis.Close()
		rt.cleanupFn(ctx)
	})

	if !rt.inlineOutbox {
		t.Fatal("memory store must relay the outbox in-process")
	}
	events, err := rt.service.ListEvents(ctx)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected seeded catalog, got %d events", len(events))
	}
	for _, e := range events {
		if e.StreamLocator != "" {
			t.Fatalf("catalog leaked locator for %s", e.EventID)
		}
		if e.Currency != "eur" {
			t.Fatalf("expected default currency, got %q", e.Currency)
		}
	}
	if err := rt.RunWorker(ctx); err == nil {
		t.Fatal("standalone worker must refuse the memory store")
	}
}
