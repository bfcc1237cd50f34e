// Package signing seals validation results with HMAC-SHA256 so a
// stored or transmitted result can later be checked for tampering.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/mvdveen/bouwdepot/internal/validation"
)

// ErrNoSecret is returned when signing is attempted without a key.
var ErrNoSecret = errors.New("signing secret not configured")

// Signer signs validation results with HMAC-SHA256.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a new HMAC signer. An empty secret yields a nil
// signer; methods on a nil signer fail closed.
func NewSigner(secret string) *Signer {
	if secret == "" {
		return nil
	}
	return &Signer{
		secret: []byte(secret),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Sign seals the result in place: the signature is computed over the
// canonical JSON of the result with its signature fields cleared, so
// verification can reproduce the exact signed bytes.
func (s *Signer) Sign(result *validation.Result) error {
	if s == nil {
		return ErrNoSecret
	}

	// The signing timestamp is set first so it is covered by the MAC.
	now := s.now()
	result.SignedAt = &now

	sig, err := s.compute(result)
	if err != nil {
		result.SignedAt = nil
		return err
	}
	result.Signature = sig
	return nil
}

// Verify recomputes the signature over the result with its signature
// fields cleared and compares in constant time.
func (s *Signer) Verify(result *validation.Result) bool {
	if s == nil || result == nil || result.Signature == "" {
		return false
	}
	expected, err := s.compute(result)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(result.Signature))
}

func (s *Signer) compute(result *validation.Result) (string, error) {
	unsigned := result.Clone()
	unsigned.Signature = ""

	data, err := json.Marshal(unsigned)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}
