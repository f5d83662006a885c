package cache

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRevocationKeyHidesToken(t *testing.T) {
	token := "tok_secret_bearer_value"
	key := revocationKey(token)
	if !strings.HasPrefix(key, "ppv:revoked:") {
		t.Fatalf("unexpected key namespace: %s", key)
	}
	if strings.Contains(key, token) {
		t.Fatal("key must not embed the bearer value")
	}
	if key != revocationKey(token) || key == revocationKey(token+"x") {
		t.Fatal("key must be deterministic and token specific")
	}
}

func TestClientOptionsParsesURLAndAddress(t *testing.T) {
	opt, err := clientOptions("redis://:pw@cache.internal:6380/2")
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if opt.Addr != "cache.internal:6380" || opt.DB != 2 || opt.Password != "pw" {
		t.Fatalf("unexpected options: %+v", opt)
	}
	if opt.ClientName != clientName {
		t.Fatalf("expected client name %q, got %q", clientName, opt.ClientName)
	}

	plain, err := clientOptions(" localhost:6379 ")
	if err != nil {
		t.Fatalf("parse addr: %v", err)
	}
	if plain.Addr != "localhost:6379" || plain.ClientName != clientName {
		t.Fatalf("unexpected plain options: %+v", plain)
	}

	if _, err := clientOptions("redis://%zz"); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := clientOptions(""); err == nil {
		t.Fatal("expected empty address to be rejected")
	}
}

func TestConnectFailsWhenUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := Connect(ctx, "127.0.0.1:1"); err == nil {
		t.Fatal("expected ping failure against a closed port")
	}
}

func TestKeysShareNamespace(t *testing.T) {
	for _, prefix := range []string{lockKeyPrefix, revokedKeyPrefix} {
		if !strings.HasPrefix(prefix, keyNamespace) {
			t.Fatalf("%q escapes the %q namespace", prefix, keyNamespace)
		}
	}
}
