package social

import (
	"crypto/rand"
	"encoding/hex"

	"golang.org/x/oauth2"
)

// Exchange holds the request-scoped PKCE material for one acquisition
// flow. Discarded after a single use.
type Exchange struct {
	Verifier  string // 32 random bytes, base64url without padding
	Challenge string // base64url(SHA-256(verifier)), no padding
	State     string // CSRF nonce, independent of the verifier
}

// NewExchange generates a fresh PKCE pair plus CSRF state.
func NewExchange() Exchange {
	verifier := oauth2.GenerateVerifier()

	b := make([]byte, 16)
	rand.Read(b)

	return Exchange{
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
		State:     hex.EncodeToString(b),
	}
}
