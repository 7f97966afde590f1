package affiliation

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

const selectAffiliation = `SELECT cd.id, cd.clinic_id, cd.doctor_id, cd.status, cd.invited_at, cd.responded_at,
	cd.added_at, cd.expires_at, cd.is_active, cd.is_deleted, cd.deleted_at,
	cd.consultation_fee::float8, cd.slot_duration_minutes, cd.schedule, cd.notes,
	c.public_id, c.name, d.public_id, d.full_name, i.email
	FROM clinic_doctors cd
	JOIN clinics c ON c.id = cd.clinic_id
	JOIN doctor_profiles d ON d.id = cd.doctor_id
	JOIN identities i ON i.id = d.identity_id`

func scanAffiliation(row pgx.Row) (*Affiliation, error) {
	var a Affiliation
	err := row.Scan(&a.ID, &a.ClinicID, &a.DoctorID, &a.Status, &a.InvitedAt, &a.RespondedAt,
		&a.AddedAt, &a.ExpiresAt, &a.IsActive, &a.IsDeleted, &a.DeletedAt,
		&a.ConsultationFee, &a.SlotDurationMinutes, &a.Schedule, &a.Notes,
		&a.ClinicPublicID, &a.ClinicName, &a.DoctorPublicID, &a.DoctorName, &a.DoctorEmail)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repoPG) list(ctx context.Context, where string, args ...interface{}) ([]*Affiliation, error) {
	rows, err := r.conn(ctx).Query(ctx, selectAffiliation+` WHERE `+where+` ORDER BY cd.invited_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Affiliation
	for rows.Next() {
		a, err := scanAffiliation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Affiliation, error) {
	return scanAffiliation(r.conn(ctx).QueryRow(ctx, selectAffiliation+` WHERE cd.id = $1`, id))
}

func (r *repoPG) FindPair(ctx context.Context, clinicID, doctorID uuid.UUID) (*Affiliation, error) {
	return scanAffiliation(r.conn(ctx).QueryRow(ctx,
		selectAffiliation+` WHERE cd.clinic_id = $1 AND cd.doctor_id = $2 AND NOT cd.is_deleted`,
		clinicID, doctorID))
}

func (r *repoPG) Create(ctx context.Context, a *Affiliation) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO clinic_doctors
			(id, clinic_id, doctor_id, status, invited_at, expires_at, is_active,
			 consultation_fee, slot_duration_minutes, schedule, notes)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $8, $9, $10)`,
		a.ID, a.ClinicID, a.DoctorID, a.Status, a.InvitedAt, a.ExpiresAt,
		a.ConsultationFee, a.SlotDurationMinutes, a.schedule(), a.Notes)
	return err
}

func (r *repoPG) exec(ctx context.Context, sql string, args ...interface{}) error {
	tag, err := r.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) MarkAccepted(ctx context.Context, id uuid.UUID, now time.Time) error {
	return r.exec(ctx, `
		UPDATE clinic_doctors
		SET status = 'ACCEPTED', responded_at = $2, added_at = $2, is_active = TRUE
		WHERE id = $1 AND status = 'PENDING' AND NOT is_deleted`, id, now)
}

func (r *repoPG) MarkRejected(ctx context.Context, id uuid.UUID, now time.Time) error {
	return r.exec(ctx, `
		UPDATE clinic_doctors SET status = 'REJECTED', responded_at = $2
		WHERE id = $1 AND status = 'PENDING' AND NOT is_deleted`, id, now)
}

func (r *repoPG) SoftDelete(ctx context.Context, id uuid.UUID, status Status, now time.Time) error {
	return r.exec(ctx, `
		UPDATE clinic_doctors SET is_deleted = TRUE, is_active = FALSE, deleted_at = $3
		WHERE id = $1 AND status = $2 AND NOT is_deleted`, id, status, now)
}

func (r *repoPG) UpdateTerms(ctx context.Context, id uuid.UUID, t Terms) error {
	return r.exec(ctx, `
		UPDATE clinic_doctors
		SET consultation_fee = COALESCE($2, consultation_fee),
		    slot_duration_minutes = COALESCE($3, slot_duration_minutes),
		    schedule = COALESCE($4, schedule),
		    notes = COALESCE($5, notes)
		WHERE id = $1 AND NOT is_deleted`,
		id, t.ConsultationFee, t.SlotDurationMinutes, nullableJSON(t.Schedule), t.Notes)
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (r *repoPG) ListForClinic(ctx context.Context, clinicID uuid.UUID, status Status) ([]*Affiliation, error) {
	if status == "" {
		return r.list(ctx, `cd.clinic_id = $1 AND NOT cd.is_deleted`, clinicID)
	}
	return r.list(ctx, `cd.clinic_id = $1 AND NOT cd.is_deleted AND cd.status = $2`, clinicID, status)
}

func (r *repoPG) ListForDoctor(ctx context.Context, doctorID uuid.UUID, status Status) ([]*Affiliation, error) {
	if status == "" {
		return r.list(ctx, `cd.doctor_id = $1 AND NOT cd.is_deleted`, doctorID)
	}
	return r.list(ctx, `cd.doctor_id = $1 AND NOT cd.is_deleted AND cd.status = $2`, doctorID, status)
}

// -- Slots --

func (r *repoPG) GetSubscription(ctx context.Context, clinicID uuid.UUID) (*Subscription, error) {
	var s Subscription
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT clinic_id, plan, doctor_slots, used_slots
		FROM clinic_subscriptions WHERE clinic_id = $1`, clinicID).
		Scan(&s.ClinicID, &s.Plan, &s.DoctorSlots, &s.UsedSlots)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repoPG) IncrementSlots(ctx context.Context, clinicID uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE clinic_subscriptions
		SET used_slots = used_slots + 1, updated_at = NOW()
		WHERE clinic_id = $1 AND used_slots < doctor_slots`, clinicID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) DecrementSlots(ctx context.Context, clinicID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE clinic_subscriptions
		SET used_slots = GREATEST(used_slots - 1, 0), updated_at = NOW()
		WHERE clinic_id = $1`, clinicID)
	return err
}

func (r *repoPG) ClinicName(ctx context.Context, clinicID uuid.UUID) (string, error) {
	var name string
	err := r.conn(ctx).QueryRow(ctx, `SELECT name FROM clinics WHERE id = $1`, clinicID).Scan(&name)
	return name, err
}

func (r *repoPG) DoctorEmail(ctx context.Context, doctorID uuid.UUID) (string, error) {
	var email string
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT i.email FROM doctor_profiles d
		JOIN identities i ON i.id = d.identity_id
		WHERE d.id = $1`, doctorID).Scan(&email)
	return email, err
}
