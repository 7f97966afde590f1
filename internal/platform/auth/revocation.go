package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/curafile/curafile/internal/platform/secure"
)

// RevocationReason records why a ledger entry was written.
type RevocationReason string

const (
	ReasonLogout             RevocationReason = "LOGOUT"
	ReasonLogoutAllDevices   RevocationReason = "LOGOUT_ALL_DEVICES"
	ReasonPasswordChanged    RevocationReason = "PASSWORD_CHANGED"
	ReasonAccountDeactivated RevocationReason = "ACCOUNT_DEACTIVATED"
	ReasonSecurity           RevocationReason = "SECURITY"
)

// RevocationEntry is one ledger row. TokenHash is set for single-token
// entries and empty for identity-wide entries.
type RevocationEntry struct {
	ID         uuid.UUID        `json:"id"`
	IdentityID uuid.UUID        `json:"identity_id"`
	TokenHash  string           `json:"-"`
	Reason     RevocationReason `json:"reason"`
	CreatedAt  time.Time        `json:"created_at"`
	ExpiresAt  time.Time        `json:"expires_at"`
}

// RevocationStore persists ledger entries.
type RevocationStore interface {
	Insert(ctx context.Context, e *RevocationEntry) error
	// Revoked reports whether an entry matches tokenHash exactly, or an
	// identity-wide entry for identityID was created at or after issuedAt.
	Revoked(ctx context.Context, tokenHash string, identityID uuid.UUID, issuedAt time.Time) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Ledger answers whether an otherwise valid session token has been revoked.
type Ledger struct {
	store     RevocationStore
	retention time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

// NewLedger creates a Ledger. retention is the lifetime of identity-wide
// entries and must be at least the session token TTL.
func NewLedger(store RevocationStore, retention time.Duration, logger zerolog.Logger) *Ledger {
	return &Ledger{store: store, retention: retention, now: time.Now, logger: logger}
}

// RecordSingleLogout revokes exactly one token. The entry lives until the
// token's own expiry.
func (l *Ledger) RecordSingleLogout(ctx context.Context, identityID uuid.UUID, token string) error {
	now := l.now()
	expiresAt := now.Add(l.retention)
	if claims, err := DecodeUnverified(token); err == nil && claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	return l.insert(ctx, &RevocationEntry{
		IdentityID: identityID,
		TokenHash:  secure.HashToken(token),
		Reason:     ReasonLogout,
		CreatedAt:  now,
		ExpiresAt:  expiresAt,
	})
}

// RecordAllDevicesLogout revokes every token issued to identityID up to now.
func (l *Ledger) RecordAllDevicesLogout(ctx context.Context, identityID uuid.UUID) error {
	return l.recordIdentityWide(ctx, identityID, ReasonLogoutAllDevices)
}

// RecordSecurityInvalidation revokes every token issued to identityID up to
// now for a security event.
func (l *Ledger) RecordSecurityInvalidation(ctx context.Context, identityID uuid.UUID, reason RevocationReason) error {
	switch reason {
	case ReasonPasswordChanged, ReasonAccountDeactivated, ReasonSecurity:
	default:
		return fmt.Errorf("record security invalidation: unsupported reason %q", reason)
	}
	return l.recordIdentityWide(ctx, identityID, reason)
}

func (l *Ledger) recordIdentityWide(ctx context.Context, identityID uuid.UUID, reason RevocationReason) error {
	now := l.now()
	return l.insert(ctx, &RevocationEntry{
		IdentityID: identityID,
		Reason:     reason,
		CreatedAt:  now,
		ExpiresAt:  now.Add(l.retention),
	})
}

func (l *Ledger) insert(ctx context.Context, e *RevocationEntry) error {
	e.ID = uuid.New()
	if err := l.store.Insert(ctx, e); err != nil {
		return fmt.Errorf("insert revocation entry: %w", err)
	}
	l.logger.Info().
		Str("identity_id", e.IdentityID.String()).
		Str("reason", string(e.Reason)).
		Time("expires_at", e.ExpiresAt).
		Msg("session revocation recorded")
	return nil
}

// IsRevoked reports whether token has been revoked. The signature is not
// checked here. Undecodable tokens and store failures count as revoked.
func (l *Ledger) IsRevoked(ctx context.Context, token string) bool {
	claims, err := DecodeUnverified(token)
	if err != nil {
		return true
	}
	identityID, err := claims.IdentityID()
	if err != nil {
		return true
	}

	revoked, err := l.store.Revoked(ctx, secure.HashToken(token), identityID, claims.IssuedAt.Time)
	if err != nil {
		l.logger.Error().Err(err).Str("identity_id", identityID.String()).Msg("revocation check failed")
		return true
	}
	return revoked
}

// Sweep deletes entries past their expiry and returns how many were removed.
func (l *Ledger) Sweep(ctx context.Context) (int64, error) {
	n, err := l.store.DeleteExpired(ctx, l.now())
	if err != nil {
		return 0, fmt.Errorf("sweep revocation ledger: %w", err)
	}
	return n, nil
}

// MemoryRevocationStore keeps ledger entries in process memory. Safe for
// concurrent use.
type MemoryRevocationStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]RevocationEntry
	byHash  map[string]uuid.UUID
}

func NewMemoryRevocationStore() *MemoryRevocationStore {
	return &MemoryRevocationStore{
		entries: make(map[uuid.UUID]RevocationEntry),
		byHash:  make(map[string]uuid.UUID),
	}
}

func (s *MemoryRevocationStore) Insert(_ context.Context, e *RevocationEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.TokenHash != "" {
		if _, exists := s.byHash[e.TokenHash]; exists {
			// Logging out twice with the same token is a no-op.
			return nil
		}
		s.byHash[e.TokenHash] = e.ID
	}
	s.entries[e.ID] = *e
	return nil
}

func (s *MemoryRevocationStore) Revoked(_ context.Context, tokenHash string, identityID uuid.UUID, issuedAt time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.byHash[tokenHash]; ok {
		return true, nil
	}
	for _, e := range s.entries {
		if e.TokenHash == "" && e.IdentityID == identityID && !e.CreatedAt.Before(issuedAt) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryRevocationStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, e := range s.entries {
		if e.ExpiresAt.Before(now) {
			delete(s.entries, id)
			if e.TokenHash != "" {
				delete(s.byHash, e.TokenHash)
			}
			n++
		}
	}
	return n, nil
}

// Count returns the number of entries currently held.
func (s *MemoryRevocationStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
