package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashPassword returns the stored form of a plaintext password: the SHA-256
// digest as 64 uppercase hex characters.
func HashPassword(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
