package vaccinations

import (
	"context"

	"github.com/google/uuid"

	"github.com/curafile/curafile/internal/domain/sharing"
)

// Repository stores vaccination records. Every lookup is scoped to the
// owning patient and returns pgx.ErrNoRows when the record is not theirs.
type Repository interface {
	Create(ctx context.Context, r *Record) error
	Get(ctx context.Context, patientID, id uuid.UUID) (*Record, error)
	// List returns the patient's records, most recently administered first.
	List(ctx context.Context, patientID uuid.UUID) ([]*Record, error)
	Update(ctx context.Context, r *Record) error
	Delete(ctx context.Context, patientID, id uuid.UUID) error
}

// AccessChecker gates cross-party reads on the owner's sharing grants.
type AccessChecker interface {
	CheckAccess(ctx context.Context, ownerID uuid.UUID, req sharing.Requester, recordType sharing.RecordType) (*sharing.Permission, error)
}
