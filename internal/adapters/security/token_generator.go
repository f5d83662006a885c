package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// accessTokenBytes gives 256 bits of entropy per token.
const accessTokenBytes = 32

type RandomTokenGenerator struct{}

func NewRandomTokenGenerator() RandomTokenGenerator {
	return RandomTokenGenerator{}
}

// NewToken returns a URL-safe bearer token.
func (RandomTokenGenerator) NewToken() (string, error) {
	buf := make([]byte, accessTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
