package records

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/curafile/curafile/internal/domain/sharing"
)

// Repository stores document metadata. Get returns pgx.ErrNoRows for unknown
// or deleted documents.
type Repository interface {
	Create(ctx context.Context, d *Document) error
	Get(ctx context.Context, id uuid.UUID) (*Document, error)
	// ListByOwner returns the owner's documents, newest first. An empty
	// types slice means every type.
	ListByOwner(ctx context.Context, ownerID uuid.UUID, types []sharing.RecordType) ([]*Document, error)
	SoftDelete(ctx context.Context, id uuid.UUID, now time.Time) error
}

// AccessChecker gates cross-party reads on the owner's sharing grants.
type AccessChecker interface {
	CheckAccess(ctx context.Context, ownerID uuid.UUID, req sharing.Requester, recordType sharing.RecordType) (*sharing.Permission, error)
	CheckDownload(ctx context.Context, ownerID uuid.UUID, req sharing.Requester, recordType sharing.RecordType) (*sharing.Permission, error)
}
