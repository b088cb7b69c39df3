package game

import (
	"crypto/rand"
	"strings"
)

// IDAlphabet leaves out 0/O and 1/I.
const IDAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const IDLength = 4

// NewSessionID draws IDLength symbols from IDAlphabet.
func NewSessionID() (string, error) {
	b := make([]byte, IDLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	// 256 is a multiple of len(IDAlphabet), so the modulo is unbiased.
	for i := range b {
		b[i] = IDAlphabet[int(b[i])%len(IDAlphabet)]
	}
	return string(b), nil
}

// NormalizeSessionID upper-cases and trims id, returning false when the
// result is not a well-formed session id.
func NormalizeSessionID(id string) (string, bool) {
	id = strings.ToUpper(strings.TrimSpace(id))
	if len(id) != IDLength {
		return "", false
	}
	for i := 0; i < len(id); i++ {
		if strings.IndexByte(IDAlphabet, id[i]) < 0 {
			return "", false
		}
	}
	return id, true
}
