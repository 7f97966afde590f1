package identity

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/curafile/curafile/internal/platform/auth"
)

// Repository is the credential store. Lookups that find nothing return
// pgx.ErrNoRows.
type Repository interface {
	CreateIdentity(ctx context.Context, i *Identity) error
	GetIdentityByID(ctx context.Context, id uuid.UUID) (*Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (*Identity, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string, now time.Time) error
	SetEmailVerified(ctx context.Context, id uuid.UUID, now time.Time) error
	SetActive(ctx context.Context, id uuid.UUID, active bool, now time.Time) error
	TouchLastLogin(ctx context.Context, id uuid.UUID, now time.Time) error
	IsIdentityActive(ctx context.Context, id uuid.UUID) (bool, error)
	UpdatePhone(ctx context.Context, id uuid.UUID, phone *string, now time.Time) error

	GrantRole(ctx context.Context, id uuid.UUID, role auth.Role) error
	Roles(ctx context.Context, id uuid.UUID) ([]auth.Role, error)

	PublicIDTaken(ctx context.Context, publicID string) (bool, error)

	CreatePatientProfile(ctx context.Context, p *PatientProfile) error
	GetPatientByIdentity(ctx context.Context, identityID uuid.UUID) (*PatientProfile, error)
	// AcceptTerms records acceptance and reports false if terms were
	// already accepted.
	AcceptTerms(ctx context.Context, profileID uuid.UUID, now time.Time) (bool, error)
	// UpdatePatientProfile writes every editable column of p.
	UpdatePatientProfile(ctx context.Context, p *PatientProfile) error

	CreateDoctorProfile(ctx context.Context, d *DoctorProfile) error
	GetDoctorByIdentity(ctx context.Context, identityID uuid.UUID) (*DoctorProfile, error)
	GetDoctorByPublicID(ctx context.Context, publicID string) (*DoctorProfile, error)
	UpdateDoctorProfile(ctx context.Context, d *DoctorProfile) error

	CreateClinic(ctx context.Context, c *Clinic) error
	CreateSubscription(ctx context.Context, s *Subscription) error
	GetClinicByOwner(ctx context.Context, identityID uuid.UUID) (*Clinic, error)
	GetClinicByPublicID(ctx context.Context, publicID string) (*Clinic, error)
	UpdateClinic(ctx context.Context, c *Clinic) error
	GetSubscription(ctx context.Context, clinicID uuid.UUID) (*Subscription, error)

	Directory
}

// Directory resolves public identifiers and caller identities to internal
// profile ids. Other domains depend on it through narrower interfaces.
type Directory interface {
	PatientProfileID(ctx context.Context, identityID uuid.UUID) (uuid.UUID, error)
	DoctorProfileID(ctx context.Context, identityID uuid.UUID) (uuid.UUID, error)
	ClinicIDByOwner(ctx context.Context, identityID uuid.UUID) (uuid.UUID, error)

	PatientIDByPublicID(ctx context.Context, publicID string) (uuid.UUID, error)
	DoctorIDByPublicID(ctx context.Context, publicID string) (uuid.UUID, error)
	ClinicIDByPublicID(ctx context.Context, publicID string) (uuid.UUID, error)
	DoctorIDByEmail(ctx context.Context, email string) (uuid.UUID, error)
}
