package affiliation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/curafile/curafile/internal/platform/apperr"
	"github.com/curafile/curafile/internal/platform/db"
	"github.com/curafile/curafile/internal/platform/events"
	"github.com/curafile/curafile/internal/platform/notification"
)

const (
	msgSubscriptionFull = "Subscription limit reached. You have %d/%d slots used. Please upgrade your plan."
	msgClinicFull       = "Clinic has reached maximum doctor capacity. Please contact the clinic."
	msgNotYours         = "This invitation is not for you"
	msgNotFound         = "Affiliation not found"
	msgNotAffiliated    = "You are not affiliated with this clinic"
	msgOnlyPending      = "Only pending invitations can be cancelled"
)

// Service manages clinic invitations and the slot counter they consume.
type Service struct {
	repo   Repository
	dir    Directory
	tx     db.TxRunner
	sender notification.Sender
	events events.Publisher
	now    func() time.Time
	logger zerolog.Logger
}

func NewService(repo Repository, dir Directory, tx db.TxRunner, sender notification.Sender, publisher events.Publisher, logger zerolog.Logger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{repo: repo, dir: dir, tx: tx, sender: sender, events: publisher, now: time.Now, logger: logger}
}

func (s *Service) resolveDoctor(ctx context.Context, ref string) (uuid.UUID, error) {
	ref = strings.TrimSpace(ref)
	var (
		id  uuid.UUID
		err = pgx.ErrNoRows
	)
	switch {
	case strings.Contains(ref, "@"):
		id, err = s.dir.DoctorIDByEmail(ctx, strings.ToLower(ref))
	case strings.HasPrefix(strings.ToUpper(ref), "DOC-"):
		id, err = s.dir.DoctorIDByPublicID(ctx, strings.ToUpper(ref))
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, apperr.NotFound("Doctor not found")
	}
	if err != nil {
		return uuid.Nil, apperr.Wrap(err, "resolve doctor")
	}
	return id, nil
}

func (s *Service) subscription(ctx context.Context, clinicID uuid.UUID) (*Subscription, error) {
	sub, err := s.repo.GetSubscription(ctx, clinicID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Clinic subscription not found")
	}
	if err != nil {
		return nil, apperr.Wrap(err, "load subscription")
	}
	return sub, nil
}

// Invite creates a PENDING invitation from clinicID to the doctor named by
// in.Doctor.
func (s *Service) Invite(ctx context.Context, clinicID uuid.UUID, in InviteInput) (*Affiliation, error) {
	if err := validateTerms(in.Terms); err != nil {
		return nil, err
	}
	doctorID, err := s.resolveDoctor(ctx, in.Doctor)
	if err != nil {
		return nil, err
	}

	sub, err := s.subscription(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	if sub.UsedSlots >= sub.DoctorSlots {
		return nil, apperr.Forbidden(msgSubscriptionFull, sub.UsedSlots, sub.DoctorSlots)
	}

	existing, err := s.repo.FindPair(ctx, clinicID, doctorID)
	switch {
	case err == nil:
		return nil, pairConflict(existing.Status)
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, apperr.Wrap(err, "check existing affiliation")
	}

	now := s.now()
	a := &Affiliation{
		ID:        uuid.New(),
		ClinicID:  clinicID,
		DoctorID:  doctorID,
		Status:    StatusPending,
		InvitedAt: now,
		ExpiresAt: now.Add(invitationTTL),
		Terms:     in.Terms,
	}
	err = s.repo.Create(ctx, a)
	if db.IsUniqueViolation(err) {
		return nil, apperr.Conflict("Invitation already sent. Waiting for doctor's response.")
	}
	if err != nil {
		return nil, apperr.Wrap(err, "create invitation")
	}

	s.notifyInvite(ctx, a)
	s.logger.Info().Str("affiliation_id", a.ID.String()).Str("clinic_id", clinicID.String()).Msg("doctor invited")
	s.emit(ctx, events.AffiliationInvited, a)
	return a, nil
}

func pairConflict(status Status) error {
	switch status {
	case StatusAccepted:
		return apperr.Conflict("Doctor is already affiliated with this clinic")
	case StatusPending:
		return apperr.Conflict("Invitation already sent. Waiting for doctor's response.")
	default:
		return apperr.Conflict("Doctor previously rejected invitation. Please contact them directly.")
	}
}

func validateTerms(t Terms) error {
	if t.ConsultationFee != nil && *t.ConsultationFee < 0 {
		return apperr.BadRequest("consultation_fee must not be negative")
	}
	if t.SlotDurationMinutes != nil && *t.SlotDurationMinutes <= 0 {
		return apperr.BadRequest("slot_duration_minutes must be positive")
	}
	if len(t.Schedule) > 0 && !jsonObject(t.Schedule) {
		return apperr.BadRequest("schedule must be a JSON object")
	}
	return nil
}

func jsonObject(raw []byte) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")
}

// notifyInvite emails the doctor. Delivery failures do not undo the invite.
func (s *Service) notifyInvite(ctx context.Context, a *Affiliation) {
	email, err := s.repo.DoctorEmail(ctx, a.DoctorID)
	if err != nil {
		s.logger.Warn().Err(err).Str("affiliation_id", a.ID.String()).Msg("invitation email skipped")
		return
	}
	clinicName, err := s.repo.ClinicName(ctx, a.ClinicID)
	if err != nil {
		s.logger.Warn().Err(err).Str("affiliation_id", a.ID.String()).Msg("invitation email skipped")
		return
	}
	if err := s.sender.Send(ctx, notification.InvitationEmail(email, clinicName, a.ExpiresAt)); err != nil {
		s.logger.Warn().Err(err).Str("affiliation_id", a.ID.String()).Msg("invitation email failed")
	}
}

func (s *Service) emit(ctx context.Context, eventType string, a *Affiliation) {
	events.Emit(ctx, s.events, s.logger, events.New(eventType, a.ClinicID.String(), map[string]string{
		"affiliation_id": a.ID.String(),
		"clinic_id":      a.ClinicID.String(),
		"doctor_id":      a.DoctorID.String(),
	}))
}

func (s *Service) load(ctx context.Context, id uuid.UUID, notFound string) (*Affiliation, error) {
	a, err := s.repo.Get(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && a.IsDeleted) {
		return nil, apperr.NotFound(notFound)
	}
	if err != nil {
		return nil, apperr.Wrap(err, "load affiliation")
	}
	return a, nil
}

// Respond records the doctor's answer. Accepting takes a clinic slot in the
// same transaction; the slot update is conditional so concurrent accepts
// cannot exceed the allowance.
func (s *Service) Respond(ctx context.Context, doctorID, affiliationID uuid.UUID, decision Decision) (*Affiliation, error) {
	decision = Decision(strings.ToUpper(strings.TrimSpace(string(decision))))
	if decision != DecisionAccept && decision != DecisionReject {
		return nil, apperr.BadRequest("decision must be ACCEPT or REJECT")
	}
	a, err := s.load(ctx, affiliationID, "Invitation not found")
	if err != nil {
		return nil, err
	}
	if a.DoctorID != doctorID {
		return nil, apperr.Forbidden(msgNotYours)
	}
	if a.Status != StatusPending {
		return nil, apperr.BadRequest("Invitation already %s", strings.ToLower(string(a.Status)))
	}
	now := s.now()
	if a.Expired(now) {
		return nil, apperr.BadRequest("Invitation has expired")
	}

	if decision == DecisionReject {
		if err := s.repo.MarkRejected(ctx, a.ID, now); err != nil {
			return nil, s.raced(err)
		}
		a.Status = StatusRejected
		a.RespondedAt = &now
		s.emit(ctx, events.AffiliationRejected, a)
		return a, nil
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		ok, err := s.repo.IncrementSlots(ctx, a.ClinicID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Forbidden(msgClinicFull)
		}
		return s.repo.MarkAccepted(ctx, a.ID, now)
	})
	if err != nil {
		return nil, s.raced(err)
	}

	a.Status = StatusAccepted
	a.RespondedAt = &now
	a.AddedAt = &now
	a.IsActive = true
	s.logger.Info().Str("affiliation_id", a.ID.String()).Msg("invitation accepted")
	s.emit(ctx, events.AffiliationAccepted, a)
	return a, nil
}

// raced maps a lost conditional update to the answer a sequential caller
// would have seen.
func (s *Service) raced(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.BadRequest("Invitation is no longer pending")
	}
	return apperr.Wrap(err, "respond to invitation")
}

// detach soft-deletes a and releases its slot when it held one. The delete
// only matches the status that was read; if the row moved on in between,
// changed is returned and nothing is written.
func (s *Service) detach(ctx context.Context, a *Affiliation, changed error) error {
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.SoftDelete(ctx, a.ID, a.Status, s.now()); err != nil {
			return err
		}
		if a.Status == StatusAccepted {
			return s.repo.DecrementSlots(ctx, a.ClinicID)
		}
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return changed
	}
	if err != nil {
		return apperr.Wrap(err, "remove affiliation")
	}
	return nil
}

// Remove detaches a doctor from the clinic. Pending invitations are
// cancelled with Cancel instead.
func (s *Service) Remove(ctx context.Context, clinicID, affiliationID uuid.UUID) error {
	a, err := s.load(ctx, affiliationID, msgNotFound)
	if err != nil {
		return err
	}
	if a.ClinicID != clinicID {
		return apperr.NotFound(msgNotFound)
	}
	if a.Status == StatusPending {
		return apperr.BadRequest("Invitation is still pending. Cancel it instead.")
	}
	if err := s.detach(ctx, a, apperr.NotFound(msgNotFound)); err != nil {
		return err
	}
	s.logger.Info().Str("affiliation_id", a.ID.String()).Msg("doctor removed from clinic")
	s.emit(ctx, events.AffiliationRemoved, a)
	return nil
}

// Leave is Remove initiated by the doctor.
func (s *Service) Leave(ctx context.Context, doctorID, affiliationID uuid.UUID) error {
	a, err := s.load(ctx, affiliationID, msgNotFound)
	if err != nil {
		return err
	}
	if a.DoctorID != doctorID {
		return apperr.NotFound(msgNotFound)
	}
	if a.Status != StatusAccepted {
		return apperr.BadRequest(msgNotAffiliated)
	}
	if err := s.detach(ctx, a, apperr.BadRequest(msgNotAffiliated)); err != nil {
		return err
	}
	s.logger.Info().Str("affiliation_id", a.ID.String()).Msg("doctor left clinic")
	s.emit(ctx, events.AffiliationRemoved, a)
	return nil
}

// Cancel withdraws a pending invitation.
func (s *Service) Cancel(ctx context.Context, clinicID, affiliationID uuid.UUID) error {
	a, err := s.load(ctx, affiliationID, "Invitation not found")
	if err != nil {
		return err
	}
	if a.ClinicID != clinicID {
		return apperr.NotFound("Invitation not found")
	}
	if a.Status != StatusPending {
		return apperr.BadRequest(msgOnlyPending)
	}
	if err := s.detach(ctx, a, apperr.BadRequest(msgOnlyPending)); err != nil {
		return err
	}
	s.emit(ctx, events.AffiliationCancelled, a)
	return nil
}

// UpdateTerms changes the working terms of an accepted affiliation. Nil
// fields are left unchanged.
func (s *Service) UpdateTerms(ctx context.Context, clinicID, affiliationID uuid.UUID, t Terms) (*Affiliation, error) {
	if err := validateTerms(t); err != nil {
		return nil, err
	}
	a, err := s.load(ctx, affiliationID, msgNotFound)
	if err != nil {
		return nil, err
	}
	if a.ClinicID != clinicID {
		return nil, apperr.NotFound(msgNotFound)
	}
	if a.Status != StatusAccepted {
		return nil, apperr.BadRequest("Terms can only be updated for accepted affiliations")
	}
	if err := s.repo.UpdateTerms(ctx, a.ID, t); err != nil {
		return nil, apperr.Wrap(err, "update terms")
	}
	return s.load(ctx, a.ID, msgNotFound)
}

func parseStatus(raw string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if st != "" && !st.Valid() {
		return "", apperr.BadRequest("status must be PENDING, ACCEPTED or REJECTED")
	}
	return st, nil
}

// ListForClinic lists the clinic's affiliations, optionally by status.
func (s *Service) ListForClinic(ctx context.Context, clinicID uuid.UUID, status string) ([]*Affiliation, error) {
	st, err := parseStatus(status)
	if err != nil {
		return nil, err
	}
	out, err := s.repo.ListForClinic(ctx, clinicID, st)
	if err != nil {
		return nil, apperr.Wrap(err, "list clinic doctors")
	}
	return out, nil
}

func (s *Service) ListForDoctor(ctx context.Context, doctorID uuid.UUID, status string) ([]*Affiliation, error) {
	st, err := parseStatus(status)
	if err != nil {
		return nil, err
	}
	out, err := s.repo.ListForDoctor(ctx, doctorID, st)
	if err != nil {
		return nil, apperr.Wrap(err, "list doctor clinics")
	}
	return out, nil
}

func (s *Service) Capacity(ctx context.Context, clinicID uuid.UUID) (*Capacity, error) {
	sub, err := s.subscription(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	available := sub.DoctorSlots - sub.UsedSlots
	if available < 0 {
		available = 0
	}
	return &Capacity{
		Plan:        sub.Plan,
		DoctorSlots: sub.DoctorSlots,
		UsedSlots:   sub.UsedSlots,
		Available:   available,
	}, nil
}
