// Package signature authenticates gateway webhooks.
//
// The gateway signs the raw request body with HMAC-SHA512 keyed by the merchant
// secret and sends the hex digest in the X-Paystack-Signature header. The body
// must be verified byte for byte as received, before any JSON decoding.
package signature

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/nkiryanov/depositledger/internal/apperrors"
)

const HeaderName = "X-Paystack-Signature"

type Verifier struct {
	secret []byte
}

// Empty secret is a configuration error, not an invalid signature
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret must not be empty: %w", apperrors.ErrConfiguration)
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Hex encoded HMAC-SHA512 of body
func (v *Verifier) Sign(body []byte) string {
	return hex.EncodeToString(v.mac(body))
}

// Report whether signature is a valid hex digest of body.
// Missing or malformed signature is just invalid
func (v *Verifier) Verify(body []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	return hmac.Equal(provided, v.mac(body))
}

func (v *Verifier) mac(body []byte) []byte {
	h := hmac.New(sha512.New, v.secret)
	h.Write(body) // nolint:errcheck
	return h.Sum(nil)
}

// Verify with one-off verifier
func Verify(body []byte, signature string, secret string) (bool, error) {
	v, err := NewVerifier(secret)
	if err != nil {
		return false, err
	}
	return v.Verify(body, signature), nil
}
