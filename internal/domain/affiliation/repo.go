package affiliation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository stores affiliations and clinic slot counters. Single-row
// lookups that find nothing return pgx.ErrNoRows.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*Affiliation, error)
	// FindPair returns the non-deleted row for clinic and doctor.
	FindPair(ctx context.Context, clinicID, doctorID uuid.UUID) (*Affiliation, error)
	Create(ctx context.Context, a *Affiliation) error
	MarkAccepted(ctx context.Context, id uuid.UUID, now time.Time) error
	MarkRejected(ctx context.Context, id uuid.UUID, now time.Time) error
	// SoftDelete removes the row only while it still has status, so a caller
	// acting on a stale read gets pgx.ErrNoRows.
	SoftDelete(ctx context.Context, id uuid.UUID, status Status, now time.Time) error
	UpdateTerms(ctx context.Context, id uuid.UUID, t Terms) error
	ListForClinic(ctx context.Context, clinicID uuid.UUID, status Status) ([]*Affiliation, error)
	ListForDoctor(ctx context.Context, doctorID uuid.UUID, status Status) ([]*Affiliation, error)

	GetSubscription(ctx context.Context, clinicID uuid.UUID) (*Subscription, error)
	// IncrementSlots takes one slot and reports false when none is free.
	IncrementSlots(ctx context.Context, clinicID uuid.UUID) (bool, error)
	// DecrementSlots releases one slot, never going below zero.
	DecrementSlots(ctx context.Context, clinicID uuid.UUID) error

	ClinicName(ctx context.Context, clinicID uuid.UUID) (string, error)
	DoctorEmail(ctx context.Context, doctorID uuid.UUID) (string, error)
}

// Directory resolves callers and doctor references to profile ids.
type Directory interface {
	DoctorProfileID(ctx context.Context, identityID uuid.UUID) (uuid.UUID, error)
	ClinicIDByOwner(ctx context.Context, identityID uuid.UUID) (uuid.UUID, error)
	DoctorIDByPublicID(ctx context.Context, publicID string) (uuid.UUID, error)
	DoctorIDByEmail(ctx context.Context, email string) (uuid.UUID, error)
}
