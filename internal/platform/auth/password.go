package auth

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	bcryptCost        = 10
	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes.
	maxPasswordLength = 72
	passwordSpecials  = `!@#$%^&*()_+-=[]{};':"\|,.<>/?`
)

var ErrWeakPassword = errors.New("password does not meet policy")

// HashPassword returns the bcrypt hash of plain.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether plain matches hash.
func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// ValidatePassword enforces the password policy. The returned error wraps
// ErrWeakPassword and lists every unmet rule.
func ValidatePassword(pw string) error {
	var problems []string
	if len(pw) < minPasswordLength {
		problems = append(problems, fmt.Sprintf("at least %d characters", minPasswordLength))
	}
	if len(pw) > maxPasswordLength {
		problems = append(problems, fmt.Sprintf("at most %d bytes", maxPasswordLength))
	}

	var upper, lower, digit, special bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		}
	}
	if !upper {
		problems = append(problems, "an uppercase letter")
	}
	if !lower {
		problems = append(problems, "a lowercase letter")
	}
	if !digit {
		problems = append(problems, "a number")
	}
	if !special {
		problems = append(problems, "a special character")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: password must contain %s", ErrWeakPassword, strings.Join(problems, ", "))
	}
	return nil
}
