// Package sessionid mints the random identifiers that park a
// console-redirect session while its rendezvous is outstanding.
package sessionid

import (
	"crypto/rand"
	"encoding/hex"
)

// Length is the number of hex characters in a minted id (64 random
// bits, two hex digits per byte).
const Length = 16

// New returns a fresh 16-character lowercase-hex session id.
func New() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
