// Package signing implements a minimal HMAC helper used to seal persisted
// state. A blob is only accepted back when its signature matches the key it
// was stored under and every byte of its payload.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign returns the hex signature of payload stored under key.
func (s *Signer) Sign(key string, payload []byte) string {
	// hmac.New accepts a hash constructor (sha256.New) plus the secret key.
	mac := hmac.New(sha256.New, s.secret)
	// The key and a separator go first so a payload cannot be replayed under
	// another key.
	mac.Write([]byte(key))
	mac.Write([]byte{0})
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate compares the provided signature with the expected one.
func (s *Signer) Validate(key string, payload []byte, signature string) bool {
	expected := s.Sign(key, payload)
	// hmac.Equal performs constant-time comparison to avoid timing attacks.
	return hmac.Equal([]byte(expected), []byte(signature))
}
