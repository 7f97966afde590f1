package vaccinations

import (
	"time"

	"github.com/google/uuid"
)

// Record is one dose in a patient's immunization history.
type Record struct {
	ID               uuid.UUID  `json:"id"`
	PatientID        uuid.UUID  `json:"-"`
	VaccineName      string     `json:"vaccine_name"`
	VaccineCode      *string    `json:"vaccine_code,omitempty"`
	DosageNumber     *int       `json:"dosage_number,omitempty"`
	AdministeredBy   *string    `json:"administered_by,omitempty"`
	AdministeredDate *time.Time `json:"administered_date,omitempty"`
	NextDoseDate     *time.Time `json:"next_dose_date,omitempty"`
	BatchNumber      *string    `json:"batch_number,omitempty"`
	ExpiryDate       *string    `json:"expiry_date,omitempty"`
	SideEffects      *string    `json:"side_effects,omitempty"`
	CertificateURL   *string    `json:"certificate_url,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Input creates a record or, on update, patches its non-nil fields.
type Input struct {
	VaccineName      *string    `json:"vaccine_name,omitempty"`
	VaccineCode      *string    `json:"vaccine_code,omitempty"`
	DosageNumber     *int       `json:"dosage_number,omitempty"`
	AdministeredBy   *string    `json:"administered_by,omitempty"`
	AdministeredDate *time.Time `json:"administered_date,omitempty"`
	NextDoseDate     *time.Time `json:"next_dose_date,omitempty"`
	BatchNumber      *string    `json:"batch_number,omitempty"`
	ExpiryDate       *string    `json:"expiry_date,omitempty"`
	SideEffects      *string    `json:"side_effects,omitempty"`
	CertificateURL   *string    `json:"certificate_url,omitempty"`
}
