package family

import (
	"context"

	"github.com/google/uuid"
)

// Repository stores family relations. Lookups are scoped to the primary
// patient and return pgx.ErrNoRows for anything else.
type Repository interface {
	Create(ctx context.Context, r *Relation) error
	Get(ctx context.Context, primaryID, id uuid.UUID) (*Relation, error)
	List(ctx context.Context, primaryID uuid.UUID) ([]*Relation, error)
	UpdatePermissions(ctx context.Context, r *Relation) error
	Delete(ctx context.Context, primaryID, id uuid.UUID) error
}

// Directory resolves a patient's public id to the profile id.
type Directory interface {
	PatientIDByPublicID(ctx context.Context, publicID string) (uuid.UUID, error)
}
