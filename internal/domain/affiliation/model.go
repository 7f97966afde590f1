package affiliation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// invitationTTL is how long a doctor has to answer an invitation.
const invitationTTL = 7 * 24 * time.Hour

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

type Decision string

const (
	DecisionAccept Decision = "ACCEPT"
	DecisionReject Decision = "REJECT"
)

// Terms are the clinic's working arrangement with an affiliated doctor.
type Terms struct {
	ConsultationFee     *float64        `json:"consultation_fee,omitempty"`
	SlotDurationMinutes *int            `json:"slot_duration_minutes,omitempty"`
	Schedule            json.RawMessage `json:"schedule,omitempty"`
	Notes               *string         `json:"notes,omitempty"`
}

func (t Terms) schedule() json.RawMessage {
	if len(t.Schedule) == 0 {
		return json.RawMessage(`{}`)
	}
	return t.Schedule
}

// Affiliation links a clinic and a doctor. At most one non-deleted row
// exists per pair.
type Affiliation struct {
	ID          uuid.UUID  `json:"id"`
	ClinicID    uuid.UUID  `json:"-"`
	DoctorID    uuid.UUID  `json:"-"`
	Status      Status     `json:"status"`
	InvitedAt   time.Time  `json:"invited_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
	AddedAt     *time.Time `json:"added_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
	IsActive    bool       `json:"is_active"`
	IsDeleted   bool       `json:"-"`
	DeletedAt   *time.Time `json:"-"`
	Terms

	ClinicPublicID string `json:"clinic_id,omitempty"`
	ClinicName     string `json:"clinic_name,omitempty"`
	DoctorPublicID string `json:"doctor_id,omitempty"`
	DoctorName     string `json:"doctor_name,omitempty"`
	DoctorEmail    string `json:"doctor_email,omitempty"`
}

func (a *Affiliation) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

// Subscription is the clinic's doctor slot allowance.
type Subscription struct {
	ClinicID    uuid.UUID `json:"-"`
	Plan        string    `json:"plan"`
	DoctorSlots int       `json:"doctor_slots"`
	UsedSlots   int       `json:"used_slots"`
}

type Capacity struct {
	Plan        string `json:"plan"`
	DoctorSlots int    `json:"doctor_slots"`
	UsedSlots   int    `json:"used_slots"`
	Available   int    `json:"available_slots"`
}

type InviteInput struct {
	// Doctor is the doctor's email or DOC- public id.
	Doctor string `json:"doctor"`
	Terms
}
