// Package cvv verifies card security codes against stored digests.
//
// The clear CVV never touches disk or logs: cards store an HMAC-SHA256 of
// the code keyed with a server-side pepper, and verification re-computes the
// digest and compares in constant time.
package cvv

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Verifier computes and checks peppered CVV digests. The pepper is
// configuration, not ambient state, so the verifier is testable in
// isolation.
type Verifier struct {
	pepper []byte
}

func NewVerifier(pepper string) *Verifier {
	return &Verifier{pepper: []byte(pepper)}
}

// Digest returns the hex HMAC-SHA256 of the security code.
func (v *Verifier) Digest(code string) string {
	mac := hmac.New(sha256.New, v.pepper)
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether the submitted code matches the stored hex digest.
// Malformed input is a mismatch, never an error.
func (v *Verifier) Verify(storedHex, submitted string) bool {
	if storedHex == "" || submitted == "" {
		return false
	}
	stored, err := hex.DecodeString(storedHex)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, v.pepper)
	mac.Write([]byte(submitted))
	return hmac.Equal(stored, mac.Sum(nil))
}
