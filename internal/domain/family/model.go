package family

import (
	"time"

	"github.com/google/uuid"
)

// Relation links a primary patient to another patient account they manage
// or follow. Permissions are the primary's declared intent; record access
// itself is still decided by sharing grants.
type Relation struct {
	ID                    uuid.UUID      `json:"id"`
	PrimaryPatientID      uuid.UUID      `json:"-"`
	FamilyMemberID        uuid.UUID      `json:"-"`
	FamilyMemberPatientID string         `json:"family_member_patient_id"`
	Relationship          string         `json:"relationship"`
	CanViewMedicalRecords bool           `json:"can_view_medical_records"`
	CanBookAppointments   bool           `json:"can_book_appointments"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
	Member                *MemberDetails `json:"family_member_details,omitempty"`
}

// MemberDetails is the contact card of the linked patient.
type MemberDetails struct {
	PatientID string  `json:"patient_id"`
	FullName  string  `json:"full_name"`
	Email     string  `json:"email"`
	Phone     *string `json:"phone,omitempty"`
}

type AddInput struct {
	FamilyMemberPatientID string `json:"family_member_patient_id"`
	Relationship          string `json:"relationship"`
	CanViewMedicalRecords bool   `json:"can_view_medical_records"`
	CanBookAppointments   bool   `json:"can_book_appointments"`
}

type PermissionsInput struct {
	CanViewMedicalRecords *bool `json:"can_view_medical_records,omitempty"`
	CanBookAppointments   *bool `json:"can_book_appointments,omitempty"`
}
