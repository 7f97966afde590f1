package sharing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository stores sharing permissions. Get returns pgx.ErrNoRows for an
// unknown id.
type Repository interface {
	// RetireExpired sets revoked_at = expires_at on the owner's grants that
	// expired at or before now.
	RetireExpired(ctx context.Context, ownerID uuid.UUID, now time.Time) error
	HasActive(ctx context.Context, ownerID uuid.UUID, rt RecipientType, recipientID uuid.UUID, recordType RecordType, now time.Time) (bool, error)
	Create(ctx context.Context, p *Permission) error
	Get(ctx context.Context, id uuid.UUID) (*Permission, error)
	Revoke(ctx context.Context, id uuid.UUID, now time.Time) error

	// ActiveFor returns the active grants from owner to the recipient whose
	// record type is one of recordTypes.
	ActiveFor(ctx context.Context, ownerID uuid.UUID, rt RecipientType, recipientID uuid.UUID, recordTypes []RecordType, now time.Time) ([]*Permission, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, includeInactive bool, now time.Time) ([]*Permission, error)
	ListByRecipient(ctx context.Context, rt RecipientType, recipientID uuid.UUID, now time.Time) ([]*Permission, error)
}

// Directory resolves public ids and callers to internal profile ids. Lookups
// that find nothing return pgx.ErrNoRows.
type Directory interface {
	PatientProfileID(ctx context.Context, identityID uuid.UUID) (uuid.UUID, error)
	DoctorProfileID(ctx context.Context, identityID uuid.UUID) (uuid.UUID, error)
	ClinicIDByOwner(ctx context.Context, identityID uuid.UUID) (uuid.UUID, error)

	PatientIDByPublicID(ctx context.Context, publicID string) (uuid.UUID, error)
	DoctorIDByPublicID(ctx context.Context, publicID string) (uuid.UUID, error)
	ClinicIDByPublicID(ctx context.Context, publicID string) (uuid.UUID, error)
}
