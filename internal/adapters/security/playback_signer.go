package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/viralforge/ppv-access-service/internal/ports"
)

const playbackAudience = "stream-delivery"

// PlaybackSigner issues RS256 playback grants the delivery edge checks
// against the published JWKS.
type PlaybackSigner struct {
	kid        string
	issuer     string
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
}

// NewPlaybackSigner builds a signer from configured PEM keys.
func NewPlaybackSigner(kid, issuer, privateKeyPEM, publicKeyPEM string) (*PlaybackSigner, error) {
	if kid == "" {
		return nil, errors.New("playback key id (kid) is required")
	}
	if privateKeyPEM == "" || publicKeyPEM == "" {
		return nil, errors.New("playback private/public keys are required")
	}
	priv, err := parseRSAPrivate(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	pub, err := parseRSAPublic(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &PlaybackSigner{kid: kid, issuer: issuer, privateKey: priv, publicKey: pub}, nil
}

// NewEphemeralPlaybackSigner creates an in-memory keypair for local runs.
func NewEphemeralPlaybackSigner(kid, issuer string) (*PlaybackSigner, error) {
	if kid == "" {
		kid = "playback-ephemeral-1"
	}
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return &PlaybackSigner{kid: kid, issuer: issuer, privateKey: privateKey, publicKey: &privateKey.PublicKey}, nil
}

type playbackClaims struct {
	EventID     string `json:"event_id"`
	TokenPrefix string `json:"tkp"`
	DeviceID    string `json:"device_id"`
	jwt.RegisteredClaims
}

func (s *PlaybackSigner) Sign(claims ports.PlaybackClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, playbackClaims{
		EventID:     claims.EventID,
		TokenPrefix: claims.TokenPrefix,
		DeviceID:    claims.DeviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   claims.EventID,
			Audience:  jwt.ClaimStrings{playbackAudience},
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			NotBefore: jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	})
	token.Header["kid"] = s.kid
	return token.SignedString(s.privateKey)
}

func (s *PlaybackSigner) ParseAndValidate(raw string) (ports.PlaybackClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(playbackAudience),
		jwt.WithLeeway(30 * time.Second),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	parsed, err := jwt.ParseWithClaims(raw, &playbackClaims{}, func(token *jwt.Token) (any, error) {
		return s.publicKey, nil
	}, opts...)
	if err != nil {
		return ports.PlaybackClaims{}, err
	}
	claims, ok := parsed.Claims.(*playbackClaims)
	if !ok || !parsed.Valid {
		return ports.PlaybackClaims{}, errors.New("invalid playback claims")
	}
	kid, _ := parsed.Header["kid"].(string)
	out := ports.PlaybackClaims{
		EventID:     claims.EventID,
		TokenPrefix: claims.TokenPrefix,
		DeviceID:    claims.DeviceID,
		KeyID:       kid,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return out, nil
}

func (s *PlaybackSigner) PublicJWKs() ([]map[string]any, error) {
	e := big.NewInt(int64(s.publicKey.E)).Bytes()
	n := s.publicKey.N.Bytes()
	return []map[string]any{
		{
			"kid": s.kid,
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(n),
			"e":   base64.RawURLEncoding.EncodeToString(e),
		},
	}, nil
}

func parseRSAPrivate(raw string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("invalid private PEM")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	keyAny, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := keyAny.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

func parseRSAPublic(raw string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("invalid public PEM")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	keyAny, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := keyAny.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}
