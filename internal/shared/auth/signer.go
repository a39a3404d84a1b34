package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var ErrTokenInvalid = errors.New("token invalid")

// Signer verifies value:signature tokens minted by the API with a shared salt and
// secret. Key derivation and encoding match Django's signing module.
type Signer struct {
	key []byte
}

// NewSigner derives the HMAC key as SHA1(salt + "signer" + secret).
func NewSigner(salt, secret string) *Signer {
	sum := sha1.Sum([]byte(salt + "signer" + secret))
	return &Signer{key: sum[:]}
}

// Signature returns the unpadded URL-safe base64 HMAC-SHA1 of value.
func (s *Signer) Signature(value []byte) []byte {
	mac := hmac.New(sha1.New, s.key)
	mac.Write(value)
	digest := mac.Sum(nil)
	out := make([]byte, base64.RawURLEncoding.EncodedLen(len(digest)))
	base64.RawURLEncoding.Encode(out, digest)
	return out
}

// Sign returns a token for value that Verify accepts under the same salt and secret.
func (s *Signer) Sign(value string) string {
	return value + ":" + string(s.Signature([]byte(value)))
}

// Verify splits token at its last colon; everything before it is the signed value.
func (s *Signer) Verify(token string) error {
	idx := strings.LastIndex(token, ":")
	if idx < 0 {
		return fmt.Errorf("%w: missing signature", ErrTokenInvalid)
	}
	value, sig := token[:idx], token[idx+1:]
	if !hmac.Equal([]byte(sig), s.Signature([]byte(value))) {
		return fmt.Errorf("%w: signature mismatch", ErrTokenInvalid)
	}
	return nil
}
