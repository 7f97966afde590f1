package records

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/curafile/curafile/internal/domain/sharing"
	"github.com/curafile/curafile/internal/platform/db"
)

type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const docCols = `id, owner_patient_id, record_type, title, file_name, content_type,
	size_bytes, sha256, object_key, uploaded_by, created_at`

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.OwnerPatientID, &d.RecordType, &d.Title, &d.FileName, &d.ContentType,
		&d.SizeBytes, &d.SHA256, &d.ObjectKey, &d.UploadedBy, &d.CreatedAt)
	return &d, err
}

func (r *repoPG) Create(ctx context.Context, d *Document) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medical_documents (`+docCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.ID, d.OwnerPatientID, d.RecordType, d.Title, d.FileName, d.ContentType,
		d.SizeBytes, d.SHA256, d.ObjectKey, d.UploadedBy, d.CreatedAt)
	return err
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Document, error) {
	d, err := scanDocument(r.conn(ctx).QueryRow(ctx,
		`SELECT `+docCols+` FROM medical_documents WHERE id = $1 AND deleted_at IS NULL`, id))
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *repoPG) ListByOwner(ctx context.Context, ownerID uuid.UUID, types []sharing.RecordType) ([]*Document, error) {
	filter := make([]string, 0, len(types))
	for _, t := range types {
		filter = append(filter, string(t))
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+docCols+` FROM medical_documents
		WHERE owner_patient_id = $1 AND deleted_at IS NULL
		  AND (cardinality($2::text[]) = 0 OR record_type = ANY($2))
		ORDER BY created_at DESC`, ownerID, filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *repoPG) SoftDelete(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE medical_documents SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
