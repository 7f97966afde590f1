package family

import (
	"context"

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

const relationSelect = `
	SELECT f.id, f.primary_patient_id, f.family_member_id, p.public_id, f.relationship,
		f.can_view_medical_records, f.can_book_appointments, f.created_at, f.updated_at,
		p.full_name, i.email, i.phone
	FROM patient_family f
	JOIN patient_profiles p ON p.id = f.family_member_id
	JOIN identities i ON i.id = p.identity_id`

func scanRelation(row pgx.Row) (*Relation, error) {
	var (
		r Relation
		m MemberDetails
	)
	err := row.Scan(&r.ID, &r.PrimaryPatientID, &r.FamilyMemberID, &r.FamilyMemberPatientID, &r.Relationship,
		&r.CanViewMedicalRecords, &r.CanBookAppointments, &r.CreatedAt, &r.UpdatedAt,
		&m.FullName, &m.Email, &m.Phone)
	if err != nil {
		return nil, err
	}
	m.PatientID = r.FamilyMemberPatientID
	r.Member = &m
	return &r, nil
}

func (r *repoPG) Create(ctx context.Context, rel *Relation) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_family (id, primary_patient_id, family_member_id, relationship,
			can_view_medical_records, can_book_appointments, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		rel.ID, rel.PrimaryPatientID, rel.FamilyMemberID, rel.Relationship,
		rel.CanViewMedicalRecords, rel.CanBookAppointments, rel.CreatedAt)
	return err
}

func (r *repoPG) Get(ctx context.Context, primaryID, id uuid.UUID) (*Relation, error) {
	return scanRelation(r.conn(ctx).QueryRow(ctx,
		relationSelect+` WHERE f.id = $1 AND f.primary_patient_id = $2`, id, primaryID))
}

func (r *repoPG) List(ctx context.Context, primaryID uuid.UUID) ([]*Relation, error) {
	rows, err := r.conn(ctx).Query(ctx,
		relationSelect+` WHERE f.primary_patient_id = $1 ORDER BY f.created_at`, primaryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Relation
	for rows.Next() {
		rel, err := scanRelation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

func (r *repoPG) UpdatePermissions(ctx context.Context, rel *Relation) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_family SET can_view_medical_records = $3, can_book_appointments = $4, updated_at = $5
		WHERE id = $1 AND primary_patient_id = $2`,
		rel.ID, rel.PrimaryPatientID, rel.CanViewMedicalRecords, rel.CanBookAppointments, rel.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, primaryID, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM patient_family WHERE id = $1 AND primary_patient_id = $2`, id, primaryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
