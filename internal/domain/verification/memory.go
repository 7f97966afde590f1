package verification

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// MemoryOTPRepo is an in-memory OTPRepository for tests and local runs.
type MemoryOTPRepo struct {
	mu    sync.Mutex
	codes []*OTPCode
}

func NewMemoryOTPRepo() *MemoryOTPRepo {
	return &MemoryOTPRepo{}
}

func (r *MemoryOTPRepo) InvalidateOutstanding(_ context.Context, email string, purpose Purpose) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.codes {
		if c.Email == email && c.Purpose == purpose && !c.Verified {
			c.Verified = true
		}
	}
	return nil
}

func (r *MemoryOTPRepo) Create(_ context.Context, c *OTPCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.codes = append(r.codes, &cp)
	return nil
}

func (r *MemoryOTPRepo) Consume(_ context.Context, email, code string, purpose Purpose, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.codes {
		if c.Email == email && c.Code == code && c.Purpose == purpose && !c.Verified && !c.ExpiresAt.Before(now) {
			c.Verified = true
			at := now
			c.VerifiedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryOTPRepo) HasVerified(_ context.Context, email string, purpose Purpose) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.codes {
		if c.Email == email && c.Purpose == purpose && c.VerifiedAt != nil {
			return true, nil
		}
	}
	return false, nil
}

// Latest returns the most recently created code for (email, purpose).
func (r *MemoryOTPRepo) Latest(email string, purpose Purpose) (OTPCode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.codes) - 1; i >= 0; i-- {
		if c := r.codes[i]; c.Email == email && c.Purpose == purpose {
			return *c, true
		}
	}
	return OTPCode{}, false
}

// Outstanding counts unverified codes for (email, purpose).
func (r *MemoryOTPRepo) Outstanding(email string, purpose Purpose) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.codes {
		if c.Email == email && c.Purpose == purpose && !c.Verified {
			n++
		}
	}
	return n
}

// MemoryResetTokenRepo is an in-memory ResetTokenRepository.
type MemoryResetTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*ResetToken
}

func NewMemoryResetTokenRepo() *MemoryResetTokenRepo {
	return &MemoryResetTokenRepo{tokens: make(map[string]*ResetToken)}
}

func (r *MemoryResetTokenRepo) ExpireOutstanding(_ context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.Email == email && !t.Used {
			t.ExpiresAt = time.Unix(0, 0).UTC()
		}
	}
	return nil
}

func (r *MemoryResetTokenRepo) Create(_ context.Context, t *ResetToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tokens[t.TokenHash] = &cp
	return nil
}

func (r *MemoryResetTokenRepo) GetByHash(_ context.Context, tokenHash string) (*ResetToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[tokenHash]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (r *MemoryResetTokenRepo) Consume(_ context.Context, tokenHash string, now time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[tokenHash]
	if !ok || t.Used || !t.ExpiresAt.After(now) {
		return "", pgx.ErrNoRows
	}
	t.Used = true
	at := now
	t.UsedAt = &at
	return t.Email, nil
}

func (r *MemoryResetTokenRepo) MarkUsed(_ context.Context, tokenHash string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tokens[tokenHash]; ok && !t.Used {
		t.Used = true
		at := now
		t.UsedAt = &at
	}
	return nil
}
