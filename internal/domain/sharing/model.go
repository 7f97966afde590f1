package sharing

import (
	"time"

	"github.com/google/uuid"
)

type RecipientType string

const (
	RecipientDoctor       RecipientType = "DOCTOR"
	RecipientClinic       RecipientType = "CLINIC"
	RecipientFamilyMember RecipientType = "FAMILY_MEMBER"
)

func (t RecipientType) Valid() bool {
	switch t {
	case RecipientDoctor, RecipientClinic, RecipientFamilyMember:
		return true
	}
	return false
}

// publicPrefix is the public id prefix a recipient of type t must use.
func (t RecipientType) publicPrefix() string {
	switch t {
	case RecipientDoctor:
		return "DOC-"
	case RecipientClinic:
		return "CLN-"
	default:
		return "PAT-"
	}
}

// RecordType scopes a grant. ALL covers every other type.
type RecordType string

const (
	RecordAll              RecordType = "ALL"
	RecordConsultations    RecordType = "CONSULTATIONS"
	RecordPrescriptions    RecordType = "PRESCRIPTIONS"
	RecordLabResults       RecordType = "LAB_RESULTS"
	RecordMedicalDocuments RecordType = "MEDICAL_DOCUMENTS"
	RecordVaccinations     RecordType = "VACCINATIONS"
)

func (t RecordType) Valid() bool {
	switch t {
	case RecordAll, RecordConsultations, RecordPrescriptions, RecordLabResults, RecordMedicalDocuments,
		RecordVaccinations:
		return true
	}
	return false
}

// Permission is one patient's grant to one recipient.
type Permission struct {
	ID             uuid.UUID     `json:"id"`
	OwnerPatientID uuid.UUID     `json:"-"`
	RecipientType  RecipientType `json:"recipient_type"`
	RecipientID    *uuid.UUID    `json:"-"`
	RecordType     RecordType    `json:"record_type"`
	CanView        bool          `json:"can_view"`
	CanDownload    bool          `json:"can_download"`
	ExpiresAt      *time.Time    `json:"expires_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	RevokedAt      *time.Time    `json:"revoked_at,omitempty"`

	// Filled by list queries for display.
	OwnerPublicID     string `json:"patient_id,omitempty"`
	OwnerName         string `json:"patient_name,omitempty"`
	RecipientPublicID string `json:"recipient_id,omitempty"`
	RecipientName     string `json:"recipient_name,omitempty"`
	IsActive          bool   `json:"is_active"`
}

// Active reports whether the grant is unrevoked and unexpired at now.
func (p *Permission) Active(now time.Time) bool {
	return p.RevokedAt == nil && (p.ExpiresAt == nil || p.ExpiresAt.After(now))
}

type GrantInput struct {
	RecipientType     RecipientType `json:"recipient_type"`
	RecipientPublicID string        `json:"recipient_id"`
	RecordType        RecordType    `json:"record_type"`
	CanView           *bool         `json:"can_view,omitempty"`
	CanDownload       *bool         `json:"can_download,omitempty"`
	ExpiresAt         *time.Time    `json:"expires_at,omitempty"`
}

// Requester is the party asking to read a patient's records.
type Requester struct {
	Type      RecipientType
	ProfileID uuid.UUID
}
