package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/curafile/curafile/internal/platform/auth"
	"github.com/curafile/curafile/internal/platform/db"
)

// queryable abstracts pgxpool.Pool and pgx.Tx.
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

// -- Identities --

const identityColumns = `id, email, password_hash, phone, email_verified, is_active,
	is_deleted, deleted_at, last_login_at, created_at, updated_at`

func (r *repoPG) scanIdentity(row pgx.Row) (*Identity, error) {
	var i Identity
	err := row.Scan(&i.ID, &i.Email, &i.PasswordHash, &i.Phone, &i.EmailVerified, &i.IsActive,
		&i.IsDeleted, &i.DeletedAt, &i.LastLoginAt, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func (r *repoPG) CreateIdentity(ctx context.Context, i *Identity) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO identities (id, email, password_hash, phone, email_verified, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		i.ID, i.Email, i.PasswordHash, i.Phone, i.EmailVerified, i.IsActive, i.CreatedAt)
	return err
}

func (r *repoPG) GetIdentityByID(ctx context.Context, id uuid.UUID) (*Identity, error) {
	return r.scanIdentity(r.conn(ctx).QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = $1`, id))
}

func (r *repoPG) GetIdentityByEmail(ctx context.Context, email string) (*Identity, error) {
	return r.scanIdentity(r.conn(ctx).QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE lower(email) = lower($1)`, email))
}

func (r *repoPG) UpdatePassword(ctx context.Context, id uuid.UUID, hash string, now time.Time) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE identities SET password_hash = $2, updated_at = $3 WHERE id = $1`, id, hash, now)
	return err
}

func (r *repoPG) SetEmailVerified(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE identities SET email_verified = TRUE, updated_at = $2 WHERE id = $1`, id, now)
	return err
}

func (r *repoPG) SetActive(ctx context.Context, id uuid.UUID, active bool, now time.Time) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE identities SET is_active = $2, updated_at = $3 WHERE id = $1`, id, active, now)
	return err
}

func (r *repoPG) TouchLastLogin(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE identities SET last_login_at = $2 WHERE id = $1`, id, now)
	return err
}

func (r *repoPG) IsIdentityActive(ctx context.Context, id uuid.UUID) (bool, error) {
	var active bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM identities WHERE id = $1 AND is_active AND NOT is_deleted
		)`, id).Scan(&active)
	return active, err
}

func (r *repoPG) UpdatePhone(ctx context.Context, id uuid.UUID, phone *string, now time.Time) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE identities SET phone = $2, updated_at = $3 WHERE id = $1`, id, phone, now)
	return err
}

// -- Roles --

func (r *repoPG) GrantRole(ctx context.Context, id uuid.UUID, role auth.Role) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO identity_roles (identity_id, role, is_active)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (identity_id, role) DO UPDATE SET is_active = TRUE`,
		id, role)
	return err
}

func (r *repoPG) Roles(ctx context.Context, id uuid.UUID) ([]auth.Role, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT role FROM identity_roles
		WHERE identity_id = $1 AND is_active
		ORDER BY created_at`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []auth.Role
	for rows.Next() {
		var role auth.Role
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (r *repoPG) PublicIDTaken(ctx context.Context, publicID string) (bool, error) {
	var taken bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM patient_profiles WHERE public_id = $1)
		    OR EXISTS (SELECT 1 FROM doctor_profiles WHERE public_id = $1)
		    OR EXISTS (SELECT 1 FROM clinics WHERE public_id = $1)`, publicID).Scan(&taken)
	return taken, err
}

// -- Patient profiles --

const patientColumns = `id, identity_id, public_id, full_name, date_of_birth, gender, blood_group,
	address, city, zip_code, country, nationality, emergency_contact, emergency_phone,
	allergies, chronic_conditions, terms_accepted, terms_accepted_at, created_at, updated_at`

func (r *repoPG) CreatePatientProfile(ctx context.Context, p *PatientProfile) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_profiles (id, identity_id, public_id, full_name, date_of_birth, gender,
			blood_group, terms_accepted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8, $8)`,
		p.ID, p.IdentityID, p.PublicID, p.FullName, p.DateOfBirth, p.Gender, p.BloodGroup, p.CreatedAt)
	return err
}

func (r *repoPG) GetPatientByIdentity(ctx context.Context, identityID uuid.UUID) (*PatientProfile, error) {
	var p PatientProfile
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientColumns+` FROM patient_profiles WHERE identity_id = $1`, identityID).
		Scan(&p.ID, &p.IdentityID, &p.PublicID, &p.FullName, &p.DateOfBirth, &p.Gender, &p.BloodGroup,
			&p.Address, &p.City, &p.ZipCode, &p.Country, &p.Nationality, &p.EmergencyContact, &p.EmergencyPhone,
			&p.Allergies, &p.ChronicConditions, &p.TermsAccepted, &p.TermsAcceptedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) AcceptTerms(ctx context.Context, profileID uuid.UUID, now time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_profiles SET terms_accepted = TRUE, terms_accepted_at = $2, updated_at = $2
		WHERE id = $1 AND NOT terms_accepted`, profileID, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) UpdatePatientProfile(ctx context.Context, p *PatientProfile) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_profiles SET full_name = $2, date_of_birth = $3, gender = $4, blood_group = $5,
			address = $6, city = $7, zip_code = $8, country = $9, nationality = $10,
			emergency_contact = $11, emergency_phone = $12, allergies = $13, chronic_conditions = $14,
			updated_at = $15
		WHERE id = $1`,
		p.ID, p.FullName, p.DateOfBirth, p.Gender, p.BloodGroup,
		p.Address, p.City, p.ZipCode, p.Country, p.Nationality,
		p.EmergencyContact, p.EmergencyPhone, p.Allergies, p.ChronicConditions, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// -- Doctor profiles --

const doctorColumns = `d.id, d.identity_id, d.public_id, d.full_name, d.specialization, d.registration_number,
	d.biography, d.years_of_experience, d.languages, d.created_at, d.updated_at`

func scanDoctor(row pgx.Row) (*DoctorProfile, error) {
	var d DoctorProfile
	err := row.Scan(&d.ID, &d.IdentityID, &d.PublicID, &d.FullName, &d.Specialization, &d.RegistrationNumber,
		&d.Biography, &d.YearsOfExperience, &d.Languages, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *repoPG) CreateDoctorProfile(ctx context.Context, d *DoctorProfile) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO doctor_profiles (id, identity_id, public_id, full_name, specialization,
			registration_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		d.ID, d.IdentityID, d.PublicID, d.FullName, d.Specialization, d.RegistrationNumber, d.CreatedAt)
	return err
}

func (r *repoPG) GetDoctorByIdentity(ctx context.Context, identityID uuid.UUID) (*DoctorProfile, error) {
	return scanDoctor(r.conn(ctx).QueryRow(ctx,
		`SELECT `+doctorColumns+` FROM doctor_profiles d WHERE d.identity_id = $1`, identityID))
}

func (r *repoPG) GetDoctorByPublicID(ctx context.Context, publicID string) (*DoctorProfile, error) {
	return scanDoctor(r.conn(ctx).QueryRow(ctx, `
		SELECT `+doctorColumns+` FROM doctor_profiles d
		JOIN identities i ON i.id = d.identity_id
		WHERE d.public_id = $1 AND i.is_active AND NOT i.is_deleted`, publicID))
}

func (r *repoPG) UpdateDoctorProfile(ctx context.Context, d *DoctorProfile) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE doctor_profiles SET full_name = $2, specialization = $3, registration_number = $4,
			biography = $5, years_of_experience = $6, languages = $7, updated_at = $8
		WHERE id = $1`,
		d.ID, d.FullName, d.Specialization, d.RegistrationNumber,
		d.Biography, d.YearsOfExperience, d.Languages, d.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// -- Clinics --

const clinicColumns = `c.id, c.owner_identity_id, c.public_id, c.name, c.address, c.city, c.country,
	c.description, c.created_at, c.updated_at`

func scanClinic(row pgx.Row) (*Clinic, error) {
	var c Clinic
	err := row.Scan(&c.ID, &c.OwnerIdentityID, &c.PublicID, &c.Name, &c.Address, &c.City, &c.Country,
		&c.Description, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repoPG) CreateClinic(ctx context.Context, c *Clinic) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO clinics (id, owner_identity_id, public_id, name, address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		c.ID, c.OwnerIdentityID, c.PublicID, c.Name, c.Address, c.CreatedAt)
	return err
}

func (r *repoPG) CreateSubscription(ctx context.Context, s *Subscription) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO clinic_subscriptions (clinic_id, plan, doctor_slots, used_slots, updated_at)
		VALUES ($1, $2, $3, 0, $4)`,
		s.ClinicID, s.Plan, s.DoctorSlots, s.UpdatedAt)
	return err
}

func (r *repoPG) GetSubscription(ctx context.Context, clinicID uuid.UUID) (*Subscription, error) {
	var s Subscription
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT clinic_id, plan, doctor_slots, used_slots, updated_at
		FROM clinic_subscriptions WHERE clinic_id = $1`, clinicID).
		Scan(&s.ClinicID, &s.Plan, &s.DoctorSlots, &s.UsedSlots, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repoPG) GetClinicByOwner(ctx context.Context, identityID uuid.UUID) (*Clinic, error) {
	return scanClinic(r.conn(ctx).QueryRow(ctx,
		`SELECT `+clinicColumns+` FROM clinics c WHERE c.owner_identity_id = $1`, identityID))
}

func (r *repoPG) GetClinicByPublicID(ctx context.Context, publicID string) (*Clinic, error) {
	return scanClinic(r.conn(ctx).QueryRow(ctx, `
		SELECT `+clinicColumns+` FROM clinics c
		JOIN identities i ON i.id = c.owner_identity_id
		WHERE c.public_id = $1 AND i.is_active AND NOT i.is_deleted`, publicID))
}

func (r *repoPG) UpdateClinic(ctx context.Context, c *Clinic) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE clinics SET name = $2, address = $3, city = $4, country = $5, description = $6, updated_at = $7
		WHERE id = $1`,
		c.ID, c.Name, c.Address, c.City, c.Country, c.Description, c.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// -- Directory --

func (r *repoPG) scanID(ctx context.Context, sql string, arg interface{}) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, sql, arg).Scan(&id)
	return id, err
}

func (r *repoPG) PatientProfileID(ctx context.Context, identityID uuid.UUID) (uuid.UUID, error) {
	return r.scanID(ctx, `SELECT id FROM patient_profiles WHERE identity_id = $1`, identityID)
}

func (r *repoPG) DoctorProfileID(ctx context.Context, identityID uuid.UUID) (uuid.UUID, error) {
	return r.scanID(ctx, `SELECT id FROM doctor_profiles WHERE identity_id = $1`, identityID)
}

func (r *repoPG) ClinicIDByOwner(ctx context.Context, identityID uuid.UUID) (uuid.UUID, error) {
	return r.scanID(ctx, `SELECT id FROM clinics WHERE owner_identity_id = $1`, identityID)
}

func (r *repoPG) PatientIDByPublicID(ctx context.Context, publicID string) (uuid.UUID, error) {
	return r.scanID(ctx, `
		SELECT p.id FROM patient_profiles p
		JOIN identities i ON i.id = p.identity_id
		WHERE p.public_id = $1 AND NOT i.is_deleted`, publicID)
}

func (r *repoPG) DoctorIDByPublicID(ctx context.Context, publicID string) (uuid.UUID, error) {
	return r.scanID(ctx, `
		SELECT d.id FROM doctor_profiles d
		JOIN identities i ON i.id = d.identity_id
		WHERE d.public_id = $1 AND NOT i.is_deleted`, publicID)
}

func (r *repoPG) ClinicIDByPublicID(ctx context.Context, publicID string) (uuid.UUID, error) {
	return r.scanID(ctx, `SELECT id FROM clinics WHERE public_id = $1`, publicID)
}

func (r *repoPG) DoctorIDByEmail(ctx context.Context, email string) (uuid.UUID, error) {
	return r.scanID(ctx, `
		SELECT d.id FROM doctor_profiles d
		JOIN identities i ON i.id = d.identity_id
		WHERE lower(i.email) = lower($1) AND NOT i.is_deleted`, email)
}
