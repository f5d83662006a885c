package security

import (
	"strings"
	"testing"
	"time"

	"github.com/viralforge/ppv-access-service/internal/ports"
)

func TestRandomTokenGeneratorEntropyAndUniqueness(t *testing.T) {
	t.Parallel()

	gen := NewRandomTokenGenerator()
	seen := map[string]struct{}{}
	for i := 0; i < 200; i++ {
		token, err := gen.NewToken()
		if err != nil {
			t.Fatalf("new token: %v", err)
		}
		if len(token) != 43 {
			t.Fatalf("expected 43 base64url chars for 32 bytes, got %d", len(token))
		}
		if strings.ContainsAny(token, "+/=") {
			t.Fatalf("token is not url safe: %s", token)
		}
		if _, dup := seen[token]; dup {
			t.Fatalf("duplicate token generated")
		}
		seen[token] = struct{}{}
	}
}

func TestPlaybackSignerRoundTrip(t *testing.T) {
	t.Parallel()

	signer, err := NewEphemeralPlaybackSigner("kid-test", "ppv-access")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	raw, err := signer.Sign(ports.PlaybackClaims{
		EventID:     "bif-1",
		TokenPrefix: "abcd1234",
		DeviceID:    "dev1",
		IssuedAt:    now,
		ExpiresAt:   now.Add(5 * time.Minute),
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := signer.ParseAndValidate(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.EventID != "bif-1" || claims.DeviceID != "dev1" || claims.TokenPrefix != "abcd1234" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.KeyID != "kid-test" {
		t.Fatalf("expected kid-test, got %s", claims.KeyID)
	}
	if !claims.ExpiresAt.Equal(now.Add(5 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", claims.ExpiresAt)
	}
}

func TestPlaybackSignerRejectsExpiredAndForeignKeys(t *testing.T) {
	t.Parallel()

	signer, err := NewEphemeralPlaybackSigner("kid-a", "ppv-access")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	other, err := NewEphemeralPlaybackSigner("kid-b", "ppv-access")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	past := time.Now().UTC().Add(-2 * time.Hour)
	expired, err := signer.Sign(ports.PlaybackClaims{EventID: "bif-1", IssuedAt: past, ExpiresAt: past.Add(time.Minute)})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := signer.ParseAndValidate(expired); err == nil {
		t.Fatalf("expected expired grant to be rejected")
	}

	now := time.Now().UTC()
	foreign, err := other.Sign(ports.PlaybackClaims{EventID: "bif-1", IssuedAt: now, ExpiresAt: now.Add(time.Minute)})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := signer.ParseAndValidate(foreign); err == nil {
		t.Fatalf("expected grant from a different key to be rejected")
	}
}

func TestPlaybackSignerPublishesJWKS(t *testing.T) {
	t.Parallel()

	signer, err := NewEphemeralPlaybackSigner("", "")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	keys, err := signer.PublicJWKs()
	if err != nil {
		t.Fatalf("jwks: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected one key, got %d", len(keys))
	}
	if keys[0]["kid"] != "playback-ephemeral-1" || keys[0]["alg"] != "RS256" {
		t.Fatalf("unexpected jwk: %+v", keys[0])
	}
	if keys[0]["e"] != "AQAB" {
		t.Fatalf("unexpected exponent %v", keys[0]["e"])
	}
}
