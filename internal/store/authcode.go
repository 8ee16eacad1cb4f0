package store

import (
	"fmt"
	"math/rand"
)

// newAuthCode returns a 6-digit issuer authorization code. "000000" is
// reserved as the denial sentinel, so codes start at 000001.
func newAuthCode() string {
	return fmt.Sprintf("%06d", rand.Intn(999999)+1)
}
