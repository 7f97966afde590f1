package verification

import (
	"context"
	"time"
)

type OTPRepository interface {
	// InvalidateOutstanding marks every unverified code for (email, purpose)
	// as consumed.
	InvalidateOutstanding(ctx context.Context, email string, purpose Purpose) error
	Create(ctx context.Context, code *OTPCode) error
	// Consume marks a matching unverified, unexpired code as verified and
	// reports whether one existed.
	Consume(ctx context.Context, email, code string, purpose Purpose, now time.Time) (bool, error)
	HasVerified(ctx context.Context, email string, purpose Purpose) (bool, error)
}

type ResetTokenRepository interface {
	// ExpireOutstanding moves every unused token for email to the epoch.
	ExpireOutstanding(ctx context.Context, email string) error
	Create(ctx context.Context, t *ResetToken) error
	GetByHash(ctx context.Context, tokenHash string) (*ResetToken, error)
	MarkUsed(ctx context.Context, tokenHash string, now time.Time) error
	// Consume marks an unused, unexpired token as used and returns its email.
	// It returns pgx.ErrNoRows when no such token exists, so of two concurrent
	// callers exactly one succeeds.
	Consume(ctx context.Context, tokenHash string, now time.Time) (string, error)
}
