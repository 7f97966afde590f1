package verification

import (
	"time"

	"github.com/google/uuid"
)

type Purpose string

const (
	PurposeEmailVerification Purpose = "EMAIL_VERIFICATION"
	PurposePasswordReset     Purpose = "PASSWORD_RESET"
)

func (p Purpose) Valid() bool {
	return p == PurposeEmailVerification || p == PurposePasswordReset
}

const otpDigits = 6

// resetTokenBytes is the entropy of a reset token before hex encoding.
const resetTokenBytes = 32

type OTPCode struct {
	ID         uuid.UUID  `json:"id"`
	Email      string     `json:"email"`
	Code       string     `json:"-"`
	Purpose    Purpose    `json:"purpose"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Verified   bool       `json:"verified"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type ResetToken struct {
	ID        uuid.UUID  `json:"id"`
	TokenHash string     `json:"-"`
	Email     string     `json:"email"`
	ExpiresAt time.Time  `json:"expires_at"`
	Used      bool       `json:"used"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// VerifyResult is the outcome of a reset token lookup. Unknown, expired and
// used tokens are indistinguishable to the caller.
type VerifyResult struct {
	Valid bool
	Email string
}
