package identity

import (
	"time"

	"github.com/google/uuid"

	"github.com/curafile/curafile/internal/platform/auth"
)

const (
	PatientIDPrefix = "PAT"
	DoctorIDPrefix  = "DOC"
	ClinicIDPrefix  = "CLN"

	publicIDLength   = 8
	publicIDAttempts = 5
)

// Identity is one login. It may hold several roles, each with its profile.
type Identity struct {
	ID            uuid.UUID  `json:"id"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"-"`
	Phone         *string    `json:"phone,omitempty"`
	EmailVerified bool       `json:"email_verified"`
	IsActive      bool       `json:"is_active"`
	IsDeleted     bool       `json:"-"`
	DeletedAt     *time.Time `json:"-"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// CanSignIn reports whether the identity exists for authentication purposes.
// Deactivated identities can still sign in; doing so reactivates them.
func (i *Identity) CanSignIn() bool {
	return i != nil && !i.IsDeleted
}

type RoleGrant struct {
	IdentityID uuid.UUID `json:"identity_id"`
	Role       auth.Role `json:"role"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

type PatientProfile struct {
	ID                uuid.UUID  `json:"id"`
	IdentityID        uuid.UUID  `json:"-"`
	PublicID          string     `json:"patient_id"`
	FullName          string     `json:"full_name"`
	DateOfBirth       *time.Time `json:"date_of_birth,omitempty"`
	Gender            *string    `json:"gender,omitempty"`
	BloodGroup        *string    `json:"blood_group,omitempty"`
	Address           *string    `json:"address,omitempty"`
	City              *string    `json:"city,omitempty"`
	ZipCode           *string    `json:"zip_code,omitempty"`
	Country           *string    `json:"country,omitempty"`
	Nationality       *string    `json:"nationality,omitempty"`
	EmergencyContact  *string    `json:"emergency_contact,omitempty"`
	EmergencyPhone    *string    `json:"emergency_phone,omitempty"`
	Allergies         *string    `json:"allergies,omitempty"`
	ChronicConditions *string    `json:"chronic_conditions,omitempty"`

	TermsAccepted   bool       `json:"terms_accepted"`
	TermsAcceptedAt *time.Time `json:"terms_accepted_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type DoctorProfile struct {
	ID                 uuid.UUID `json:"id"`
	IdentityID         uuid.UUID `json:"-"`
	PublicID           string    `json:"doctor_id"`
	FullName           string    `json:"full_name"`
	Specialization     *string   `json:"specialization,omitempty"`
	RegistrationNumber *string   `json:"registration_number,omitempty"`
	Biography          *string   `json:"biography,omitempty"`
	YearsOfExperience  *int      `json:"years_of_experience,omitempty"`
	Languages          []string  `json:"languages"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type Clinic struct {
	ID              uuid.UUID `json:"id"`
	OwnerIdentityID uuid.UUID `json:"-"`
	PublicID        string    `json:"clinic_id"`
	Name            string    `json:"name"`
	Address         *string   `json:"address,omitempty"`
	City            *string   `json:"city,omitempty"`
	Country         *string   `json:"country,omitempty"`
	Description     *string   `json:"description,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Subscription struct {
	ClinicID    uuid.UUID `json:"clinic_id"`
	Plan        string    `json:"plan"`
	DoctorSlots int       `json:"doctor_slots"`
	UsedSlots   int       `json:"used_slots"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Account bundles an identity with whichever profiles it holds.
type Account struct {
	Identity *Identity       `json:"user"`
	Roles    []auth.Role     `json:"roles"`
	Patient  *PatientProfile `json:"patient,omitempty"`
	Doctor   *DoctorProfile  `json:"doctor,omitempty"`
	Clinic   *Clinic         `json:"clinic,omitempty"`
}

// LoginResult is returned by every successful sign-in.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Role      auth.Role `json:"role"`
	Account
}

type RegisterPatientInput struct {
	Email       string     `json:"email"`
	Password    string     `json:"password"`
	FullName    string     `json:"full_name"`
	Phone       *string    `json:"phone,omitempty"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Gender      *string    `json:"gender,omitempty"`
	BloodGroup  *string    `json:"blood_group,omitempty"`
}

type RegisterDoctorInput struct {
	Email              string  `json:"email"`
	Password           string  `json:"password"`
	FullName           string  `json:"full_name"`
	Phone              *string `json:"phone,omitempty"`
	Specialization     *string `json:"specialization,omitempty"`
	RegistrationNumber *string `json:"registration_number,omitempty"`
}

type RegisterClinicInput struct {
	Email      string  `json:"email"`
	Password   string  `json:"password"`
	ClinicName string  `json:"clinic_name"`
	Phone      *string `json:"phone,omitempty"`
	Address    *string `json:"address,omitempty"`
}

// PatientProfileView is the patient's own profile with its login details.
type PatientProfileView struct {
	*PatientProfile
	Email         string  `json:"email"`
	Phone         *string `json:"phone,omitempty"`
	EmailVerified bool    `json:"email_verified"`
	IsActive      bool    `json:"is_active"`
}

type DoctorProfileView struct {
	*DoctorProfile
	Email         string  `json:"email"`
	Phone         *string `json:"phone,omitempty"`
	EmailVerified bool    `json:"email_verified"`
}

type ClinicView struct {
	*Clinic
	Email        string        `json:"email"`
	Phone        *string       `json:"phone,omitempty"`
	Subscription *Subscription `json:"subscription,omitempty"`
}

// PublicDoctor is what anyone may see of a doctor.
type PublicDoctor struct {
	DoctorID          string   `json:"doctor_id"`
	FullName          string   `json:"full_name"`
	Specialization    *string  `json:"specialization,omitempty"`
	Biography         *string  `json:"biography,omitempty"`
	YearsOfExperience *int     `json:"years_of_experience,omitempty"`
	Languages         []string `json:"languages"`
}

// PublicClinic is what anyone may see of a clinic.
type PublicClinic struct {
	ClinicID    string  `json:"clinic_id"`
	Name        string  `json:"name"`
	Address     *string `json:"address,omitempty"`
	City        *string `json:"city,omitempty"`
	Country     *string `json:"country,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Update inputs are partial: nil fields are left unchanged.

type UpdatePatientProfileInput struct {
	FullName          *string    `json:"full_name,omitempty"`
	Phone             *string    `json:"phone,omitempty"`
	DateOfBirth       *time.Time `json:"date_of_birth,omitempty"`
	Gender            *string    `json:"gender,omitempty"`
	BloodGroup        *string    `json:"blood_group,omitempty"`
	Address           *string    `json:"address,omitempty"`
	City              *string    `json:"city,omitempty"`
	ZipCode           *string    `json:"zip_code,omitempty"`
	Country           *string    `json:"country,omitempty"`
	Nationality       *string    `json:"nationality,omitempty"`
	EmergencyContact  *string    `json:"emergency_contact,omitempty"`
	EmergencyPhone    *string    `json:"emergency_phone,omitempty"`
	Allergies         *string    `json:"allergies,omitempty"`
	ChronicConditions *string    `json:"chronic_conditions,omitempty"`
}

type UpdateDoctorProfileInput struct {
	FullName           *string  `json:"full_name,omitempty"`
	Phone              *string  `json:"phone,omitempty"`
	Specialization     *string  `json:"specialization,omitempty"`
	RegistrationNumber *string  `json:"registration_number,omitempty"`
	Biography          *string  `json:"biography,omitempty"`
	YearsOfExperience  *int     `json:"years_of_experience,omitempty"`
	Languages          []string `json:"languages,omitempty"`
}

type UpdateClinicInput struct {
	Name        *string `json:"name,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	Address     *string `json:"address,omitempty"`
	City        *string `json:"city,omitempty"`
	Country     *string `json:"country,omitempty"`
	Description *string `json:"description,omitempty"`
}
