package vaccinations

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/curafile/curafile/internal/domain/sharing"
	"github.com/curafile/curafile/internal/platform/apperr"
	"github.com/curafile/curafile/internal/platform/events"
)

const (
	msgNotFound     = "Vaccination record not found"
	maxVaccineName  = 255
	minVaccineName  = 2
	maxShortFieldSz = 64
)

// Service keeps a patient's vaccination history and serves it to the owner
// and to recipients holding a VACCINATIONS (or ALL) grant.
type Service struct {
	repo   Repository
	access AccessChecker
	events events.Publisher
	now    func() time.Time
	logger zerolog.Logger
}

func NewService(repo Repository, access AccessChecker, publisher events.Publisher, logger zerolog.Logger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{repo: repo, access: access, events: publisher, now: time.Now, logger: logger}
}

func clean(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}

func validCertificateURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// apply validates in and copies its non-nil fields onto r.
func apply(r *Record, in Input) error {
	if in.VaccineName != nil {
		name := strings.TrimSpace(*in.VaccineName)
		if n := utf8.RuneCountInString(name); n < minVaccineName || n > maxVaccineName {
			return apperr.BadRequest("Vaccine name is required")
		}
		r.VaccineName = name
	}
	if in.DosageNumber != nil {
		if *in.DosageNumber <= 0 {
			return apperr.BadRequest("Dosage number must be positive")
		}
		r.DosageNumber = in.DosageNumber
	}
	if in.CertificateURL != nil {
		u := clean(in.CertificateURL)
		if u != nil && !validCertificateURL(*u) {
			return apperr.BadRequest("certificate_url must be a valid URL")
		}
		r.CertificateURL = u
	}
	for _, f := range []struct {
		dst **string
		src *string
		key string
	}{
		{&r.VaccineCode, in.VaccineCode, "vaccine_code"},
		{&r.BatchNumber, in.BatchNumber, "batch_number"},
		{&r.ExpiryDate, in.ExpiryDate, "expiry_date"},
	} {
		if f.src == nil {
			continue
		}
		if len(*f.src) > maxShortFieldSz {
			return apperr.BadRequest("%s must be at most %d characters", f.key, maxShortFieldSz)
		}
		*f.dst = clean(f.src)
	}
	if in.AdministeredBy != nil {
		r.AdministeredBy = clean(in.AdministeredBy)
	}
	if in.SideEffects != nil {
		r.SideEffects = clean(in.SideEffects)
	}
	if in.AdministeredDate != nil {
		r.AdministeredDate = in.AdministeredDate
	}
	if in.NextDoseDate != nil {
		r.NextDoseDate = in.NextDoseDate
	}
	if r.AdministeredDate != nil && r.NextDoseDate != nil && r.NextDoseDate.Before(*r.AdministeredDate) {
		return apperr.BadRequest("next_dose_date cannot be before administered_date")
	}
	return nil
}

// Create adds a record to patientID's history.
func (s *Service) Create(ctx context.Context, patientID uuid.UUID, in Input) (*Record, error) {
	if in.VaccineName == nil {
		return nil, apperr.BadRequest("Vaccine name is required")
	}
	now := s.now().UTC()
	r := &Record{ID: uuid.New(), PatientID: patientID, CreatedAt: now, UpdatedAt: now}
	if err := apply(r, in); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, apperr.Wrap(err, "save vaccination record")
	}

	s.logger.Info().Str("record_id", r.ID.String()).Str("patient_id", patientID.String()).Msg("vaccination recorded")
	events.Emit(ctx, s.events, s.logger, events.New(events.VaccinationRecorded, patientID.String(), map[string]string{
		"record_id":    r.ID.String(),
		"vaccine_name": r.VaccineName,
	}))
	return r, nil
}

// List returns patientID's own history.
func (s *Service) List(ctx context.Context, patientID uuid.UUID) ([]*Record, error) {
	recs, err := s.repo.List(ctx, patientID)
	if err != nil {
		return nil, apperr.Wrap(err, "list vaccination records")
	}
	return recs, nil
}

// ListShared returns ownerID's history when req holds a viewing grant.
func (s *Service) ListShared(ctx context.Context, ownerID uuid.UUID, req sharing.Requester) ([]*Record, error) {
	if _, err := s.access.CheckAccess(ctx, ownerID, req, sharing.RecordVaccinations); err != nil {
		return nil, err
	}
	return s.List(ctx, ownerID)
}

func (s *Service) load(ctx context.Context, patientID, id uuid.UUID) (*Record, error) {
	r, err := s.repo.Get(ctx, patientID, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(msgNotFound)
	}
	if err != nil {
		return nil, apperr.Wrap(err, "load vaccination record")
	}
	return r, nil
}

// Update patches one of patientID's records.
func (s *Service) Update(ctx context.Context, patientID, id uuid.UUID, in Input) (*Record, error) {
	r, err := s.load(ctx, patientID, id)
	if err != nil {
		return nil, err
	}
	if err := apply(r, in); err != nil {
		return nil, err
	}
	r.UpdatedAt = s.now().UTC()
	err = s.repo.Update(ctx, r)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(msgNotFound)
	}
	if err != nil {
		return nil, apperr.Wrap(err, "update vaccination record")
	}
	s.logger.Info().Str("record_id", id.String()).Msg("vaccination record updated")
	return r, nil
}

// Delete removes one of patientID's records.
func (s *Service) Delete(ctx context.Context, patientID, id uuid.UUID) error {
	err := s.repo.Delete(ctx, patientID, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(msgNotFound)
	}
	if err != nil {
		return apperr.Wrap(err, "delete vaccination record")
	}
	s.logger.Info().Str("record_id", id.String()).Msg("vaccination record deleted")
	events.Emit(ctx, s.events, s.logger, events.New(events.VaccinationDeleted, patientID.String(), map[string]string{
		"record_id": id.String(),
	}))
	return nil
}
