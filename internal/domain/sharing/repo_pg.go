package sharing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

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

const permCols = `sp.id, sp.owner_patient_id, sp.recipient_type, sp.recipient_id, sp.record_type,
	sp.can_view, sp.can_download, sp.expires_at, sp.created_at, sp.revoked_at`

// listQuery joins display names for owner and recipient.
const listQuery = `SELECT ` + permCols + `,
	owner.public_id, owner.full_name,
	COALESCE(d.public_id, c.public_id, fp.public_id, ''),
	COALESCE(d.full_name, c.name, fp.full_name, '')
	FROM sharing_permissions sp
	JOIN patient_profiles owner ON owner.id = sp.owner_patient_id
	LEFT JOIN doctor_profiles d ON sp.recipient_type = 'DOCTOR' AND d.id = sp.recipient_id
	LEFT JOIN clinics c ON sp.recipient_type = 'CLINIC' AND c.id = sp.recipient_id
	LEFT JOIN patient_profiles fp ON sp.recipient_type = 'FAMILY_MEMBER' AND fp.id = sp.recipient_id`

func scanPermission(row pgx.Row, extra ...interface{}) (*Permission, error) {
	var p Permission
	dest := []interface{}{&p.ID, &p.OwnerPatientID, &p.RecipientType, &p.RecipientID, &p.RecordType,
		&p.CanView, &p.CanDownload, &p.ExpiresAt, &p.CreatedAt, &p.RevokedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &p, nil
}

func collect(rows pgx.Rows, now time.Time) ([]*Permission, error) {
	defer rows.Close()
	var out []*Permission
	for rows.Next() {
		var ownerPub, ownerName, recipPub, recipName string
		p, err := scanPermission(rows, &ownerPub, &ownerName, &recipPub, &recipName)
		if err != nil {
			return nil, err
		}
		p.OwnerPublicID, p.OwnerName = ownerPub, ownerName
		p.RecipientPublicID, p.RecipientName = recipPub, recipName
		p.IsActive = p.Active(now)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repoPG) RetireExpired(ctx context.Context, ownerID uuid.UUID, now time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE sharing_permissions SET revoked_at = expires_at
		WHERE owner_patient_id = $1 AND revoked_at IS NULL
		  AND expires_at IS NOT NULL AND expires_at <= $2`, ownerID, now)
	return err
}

func (r *repoPG) HasActive(ctx context.Context, ownerID uuid.UUID, rt RecipientType, recipientID uuid.UUID, recordType RecordType, now time.Time) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sharing_permissions sp
			WHERE sp.owner_patient_id = $1 AND sp.recipient_type = $2
			  AND sp.recipient_id = $3 AND sp.record_type = $4
			  AND sp.revoked_at IS NULL AND (sp.expires_at IS NULL OR sp.expires_at > $5)
		)`, ownerID, rt, recipientID, recordType, now).Scan(&exists)
	return exists, err
}

func (r *repoPG) Create(ctx context.Context, p *Permission) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO sharing_permissions
			(id, owner_patient_id, recipient_type, recipient_id, record_type, can_view, can_download, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.OwnerPatientID, p.RecipientType, p.RecipientID, p.RecordType,
		p.CanView, p.CanDownload, p.ExpiresAt, p.CreatedAt)
	return err
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Permission, error) {
	return scanPermission(r.conn(ctx).QueryRow(ctx,
		`SELECT `+permCols+` FROM sharing_permissions sp WHERE sp.id = $1`, id))
}

func (r *repoPG) Revoke(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE sharing_permissions SET revoked_at = $2
		WHERE id = $1 AND revoked_at IS NULL`, id, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) ActiveFor(ctx context.Context, ownerID uuid.UUID, rt RecipientType, recipientID uuid.UUID, recordTypes []RecordType, now time.Time) ([]*Permission, error) {
	types := make([]string, len(recordTypes))
	for i, t := range recordTypes {
		types[i] = string(t)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+permCols+` FROM sharing_permissions sp
		WHERE sp.owner_patient_id = $1 AND sp.recipient_type = $2 AND sp.recipient_id = $3
		  AND sp.record_type = ANY($4)
		  AND sp.revoked_at IS NULL AND (sp.expires_at IS NULL OR sp.expires_at > $5)`,
		ownerID, rt, recipientID, types, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		p.IsActive = true
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repoPG) ListByOwner(ctx context.Context, ownerID uuid.UUID, includeInactive bool, now time.Time) ([]*Permission, error) {
	q := listQuery + ` WHERE sp.owner_patient_id = $1`
	args := []interface{}{ownerID}
	if !includeInactive {
		q += ` AND sp.revoked_at IS NULL AND (sp.expires_at IS NULL OR sp.expires_at > $2)`
		args = append(args, now)
	}
	rows, err := r.conn(ctx).Query(ctx, q+` ORDER BY sp.created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, now)
}

func (r *repoPG) ListByRecipient(ctx context.Context, rt RecipientType, recipientID uuid.UUID, now time.Time) ([]*Permission, error) {
	rows, err := r.conn(ctx).Query(ctx, listQuery+`
		WHERE sp.recipient_type = $1 AND sp.recipient_id = $2
		  AND sp.revoked_at IS NULL AND (sp.expires_at IS NULL OR sp.expires_at > $3)
		ORDER BY sp.created_at DESC`, rt, recipientID, now)
	if err != nil {
		return nil, err
	}
	return collect(rows, now)
}
