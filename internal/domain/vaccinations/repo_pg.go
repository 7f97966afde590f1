package vaccinations

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

const recordCols = `id, patient_id, vaccine_name, vaccine_code, dosage_number, administered_by,
	administered_date, next_dose_date, batch_number, expiry_date, side_effects, certificate_url,
	created_at, updated_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var v Record
	err := row.Scan(&v.ID, &v.PatientID, &v.VaccineName, &v.VaccineCode, &v.DosageNumber, &v.AdministeredBy,
		&v.AdministeredDate, &v.NextDoseDate, &v.BatchNumber, &v.ExpiryDate, &v.SideEffects, &v.CertificateURL,
		&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *repoPG) Create(ctx context.Context, v *Record) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO vaccination_records (`+recordCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`,
		v.ID, v.PatientID, v.VaccineName, v.VaccineCode, v.DosageNumber, v.AdministeredBy,
		v.AdministeredDate, v.NextDoseDate, v.BatchNumber, v.ExpiryDate, v.SideEffects, v.CertificateURL,
		v.CreatedAt)
	return err
}

func (r *repoPG) Get(ctx context.Context, patientID, id uuid.UUID) (*Record, error) {
	return scanRecord(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordCols+` FROM vaccination_records WHERE id = $1 AND patient_id = $2`, id, patientID))
}

func (r *repoPG) List(ctx context.Context, patientID uuid.UUID) ([]*Record, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+recordCols+` FROM vaccination_records
		WHERE patient_id = $1
		ORDER BY administered_date DESC NULLS LAST, created_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		v, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *repoPG) Update(ctx context.Context, v *Record) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE vaccination_records SET vaccine_name = $3, vaccine_code = $4, dosage_number = $5,
			administered_by = $6, administered_date = $7, next_dose_date = $8, batch_number = $9,
			expiry_date = $10, side_effects = $11, certificate_url = $12, updated_at = $13
		WHERE id = $1 AND patient_id = $2`,
		v.ID, v.PatientID, v.VaccineName, v.VaccineCode, v.DosageNumber,
		v.AdministeredBy, v.AdministeredDate, v.NextDoseDate, v.BatchNumber,
		v.ExpiryDate, v.SideEffects, v.CertificateURL, v.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, patientID, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM vaccination_records WHERE id = $1 AND patient_id = $2`, id, patientID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
