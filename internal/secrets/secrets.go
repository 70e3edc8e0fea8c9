// Package secrets generates and digests the opaque secrets used as
// grant codes, client secrets, and bearer tokens. Raw secrets exist
// only in the issuing response; everything persisted is a digest.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"math/big"
)

// alphabet is the 62-symbol set secrets are drawn from. 20 symbols
// give log2(62^20) ~= 119 bits of entropy.
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// DefaultLength is the length of generated grant codes, client
// secrets, and access tokens.
const DefaultLength = 20

var alphabetLen = big.NewInt(int64(len(alphabet)))

// Generate returns a random alphanumeric string of the given length,
// drawn uniformly from a cryptographically secure source.
func Generate(length int) string {
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}

		b[i] = alphabet[n.Int64()]
	}

	return string(b)
}

// Hash returns the SHA-256 hex digest of a secret. All persisted
// comparisons of grant codes, tokens, and client secrets go through
// this digest.
func Hash(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}

// Equal compares a provided secret against a stored digest in
// constant time.
func Equal(providedSecret, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(Hash(providedSecret)), []byte(storedHash)) == 1
}
