package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/curafile/curafile/internal/platform/notification"
	"github.com/curafile/curafile/internal/platform/secure"
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// OTPService issues and checks 6-digit codes sent by email.
type OTPService struct {
	repo   OTPRepository
	sender notification.Sender
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

func NewOTPService(repo OTPRepository, sender notification.Sender, ttl time.Duration, logger zerolog.Logger) *OTPService {
	return &OTPService{repo: repo, sender: sender, ttl: ttl, now: time.Now, logger: logger}
}

// Issue replaces any outstanding code for (email, purpose) and emails a new
// one. If delivery fails the new code is invalidated and the error returned,
// so the caller can simply retry.
func (s *OTPService) Issue(ctx context.Context, email string, purpose Purpose) error {
	if !purpose.Valid() {
		return fmt.Errorf("issue otp: unknown purpose %q", purpose)
	}
	email = normalizeEmail(email)

	if err := s.repo.InvalidateOutstanding(ctx, email, purpose); err != nil {
		return fmt.Errorf("invalidate outstanding otp: %w", err)
	}

	code, err := secure.NumericCode(otpDigits)
	if err != nil {
		return err
	}
	now := s.now()
	rec := &OTPCode{
		ID:        uuid.New(),
		Email:     email,
		Code:      code,
		Purpose:   purpose,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return fmt.Errorf("create otp: %w", err)
	}

	if err := s.sender.Send(ctx, notification.OTPEmail(email, code, s.ttl)); err != nil {
		if ierr := s.repo.InvalidateOutstanding(ctx, email, purpose); ierr != nil {
			s.logger.Error().Err(ierr).Str("purpose", string(purpose)).Msg("failed to invalidate undelivered otp")
		}
		return fmt.Errorf("send otp: %w", err)
	}
	return nil
}

// Verify consumes a matching code. A wrong, expired or already used code
// returns false with a nil error.
func (s *OTPService) Verify(ctx context.Context, email, code string, purpose Purpose) (bool, error) {
	if len(code) != otpDigits {
		return false, nil
	}
	ok, err := s.repo.Consume(ctx, normalizeEmail(email), code, purpose, s.now())
	if err != nil {
		return false, fmt.Errorf("verify otp: %w", err)
	}
	return ok, nil
}

// HasVerifiedEmail reports whether a code for (email, purpose) was ever
// successfully verified.
func (s *OTPService) HasVerifiedEmail(ctx context.Context, email string, purpose Purpose) (bool, error) {
	ok, err := s.repo.HasVerified(ctx, normalizeEmail(email), purpose)
	if err != nil {
		return false, fmt.Errorf("check verified email: %w", err)
	}
	return ok, nil
}

// ResetTokenService manages single-use password reset tokens. Only the
// SHA-256 of a token is stored.
type ResetTokenService struct {
	repo ResetTokenRepository
	ttl  time.Duration
	now  func() time.Time
}

func NewResetTokenService(repo ResetTokenRepository, ttl time.Duration) *ResetTokenService {
	return &ResetTokenService{repo: repo, ttl: ttl, now: time.Now}
}

// TTL is the lifetime of newly created tokens.
func (s *ResetTokenService) TTL() time.Duration { return s.ttl }

// Create expires every earlier unused token for email and returns a new raw
// token.
func (s *ResetTokenService) Create(ctx context.Context, email string) (string, error) {
	email = normalizeEmail(email)
	if err := s.repo.ExpireOutstanding(ctx, email); err != nil {
		return "", fmt.Errorf("expire outstanding reset tokens: %w", err)
	}

	raw, err := secure.RandomHex(resetTokenBytes)
	if err != nil {
		return "", err
	}
	now := s.now()
	err = s.repo.Create(ctx, &ResetToken{
		ID:        uuid.New(),
		TokenHash: secure.HashToken(raw),
		Email:     email,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	})
	if err != nil {
		return "", fmt.Errorf("create reset token: %w", err)
	}
	return raw, nil
}

func (s *ResetTokenService) Verify(ctx context.Context, raw string) (VerifyResult, error) {
	if raw == "" {
		return VerifyResult{}, nil
	}
	t, err := s.repo.GetByHash(ctx, secure.HashToken(raw))
	if errors.Is(err, pgx.ErrNoRows) {
		return VerifyResult{}, nil
	}
	if err != nil {
		return VerifyResult{}, fmt.Errorf("load reset token: %w", err)
	}
	if t.Used || !t.ExpiresAt.After(s.now()) {
		return VerifyResult{}, nil
	}
	return VerifyResult{Valid: true, Email: t.Email}, nil
}

// Consume validates and uses up the token in one step. Expired, used and
// unknown tokens all come back as Valid=false.
func (s *ResetTokenService) Consume(ctx context.Context, raw string) (VerifyResult, error) {
	if raw == "" {
		return VerifyResult{}, nil
	}
	email, err := s.repo.Consume(ctx, secure.HashToken(raw), s.now())
	if errors.Is(err, pgx.ErrNoRows) {
		return VerifyResult{}, nil
	}
	if err != nil {
		return VerifyResult{}, fmt.Errorf("consume reset token: %w", err)
	}
	return VerifyResult{Valid: true, Email: email}, nil
}

// MarkUsed consumes the token. Marking an already used token is a no-op.
func (s *ResetTokenService) MarkUsed(ctx context.Context, raw string) error {
	if err := s.repo.MarkUsed(ctx, secure.HashToken(raw), s.now()); err != nil {
		return fmt.Errorf("mark reset token used: %w", err)
	}
	return nil
}
