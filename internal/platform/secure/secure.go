// Package secure generates and hashes the opaque values handed to users:
// session token fingerprints, reset tokens, numeric codes and public ids.
package secure

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const publicIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// HashToken returns the hex SHA-256 of raw. Only the hash is persisted.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// RandomHex returns n random bytes encoded as hex.
func RandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NumericCode returns a zero-padded random code of the given number of digits.
func NumericCode(digits int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

// PublicID returns prefix-XXXXXXXX with n characters drawn from A-Z0-9.
func PublicID(prefix string, n int) (string, error) {
	var sb strings.Builder
	sb.WriteString(prefix)
	sb.WriteByte('-')
	max := big.NewInt(int64(len(publicIDAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate public id: %w", err)
		}
		sb.WriteByte(publicIDAlphabet[idx.Int64()])
	}
	return sb.String(), nil
}
