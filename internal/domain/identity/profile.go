package identity

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/curafile/curafile/internal/platform/apperr"
	"github.com/curafile/curafile/internal/platform/auth"
	"github.com/curafile/curafile/internal/platform/events"
)

const (
	maxBiography   = 1000
	minPhoneLength = 10
)

// trimmed returns a trimmed copy of v, or nil when v is nil. An empty string
// clears the field.
func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}

func setOptional(dst **string, v *string) {
	if v != nil {
		*dst = trimmed(v)
	}
}

func requireName(v *string, field string) (string, error) {
	name := strings.TrimSpace(*v)
	if utf8.RuneCountInString(name) < 2 {
		return "", apperr.BadRequest("%s must be at least 2 characters", field)
	}
	return name, nil
}

func validPhone(v *string) error {
	if v != nil && strings.TrimSpace(*v) != "" && len(strings.TrimSpace(*v)) < minPhoneLength {
		return apperr.BadRequest("phone must be at least %d characters", minPhoneLength)
	}
	return nil
}

func (s *Service) identityFor(ctx context.Context, identityID uuid.UUID) (*Identity, error) {
	ident, err := s.repo.GetIdentityByID(ctx, identityID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Account not found")
	}
	if err != nil {
		return nil, apperr.Wrap(err, "load identity")
	}
	return ident, nil
}

func (s *Service) updatePhone(ctx context.Context, ident *Identity, phone *string) error {
	if phone == nil {
		return nil
	}
	ident.Phone = trimmed(phone)
	return s.repo.UpdatePhone(ctx, ident.ID, ident.Phone, s.now())
}

func (s *Service) profileUpdated(ctx context.Context, identityID uuid.UUID, role auth.Role) {
	s.logger.Info().Str("identity_id", identityID.String()).Str("role", string(role)).Msg("profile updated")
	events.Emit(ctx, s.events, s.logger, events.New(events.ProfileUpdated, identityID.String(), map[string]string{
		"role": string(role),
	}))
}

// -- Patients --

func (s *Service) patientProfile(ctx context.Context, identityID uuid.UUID) (*PatientProfile, error) {
	p, err := s.repo.GetPatientByIdentity(ctx, identityID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Patient not found")
	}
	if err != nil {
		return nil, apperr.Wrap(err, "load patient")
	}
	return p, nil
}

// PatientProfile returns the caller's patient profile with login details.
func (s *Service) PatientProfile(ctx context.Context, identityID uuid.UUID) (*PatientProfileView, error) {
	ident, err := s.identityFor(ctx, identityID)
	if err != nil {
		return nil, err
	}
	p, err := s.patientProfile(ctx, identityID)
	if err != nil {
		return nil, err
	}
	return &PatientProfileView{PatientProfile: p, Email: ident.Email, Phone: ident.Phone,
		EmailVerified: ident.EmailVerified, IsActive: ident.IsActive}, nil
}

// UpdatePatientProfile applies the non-nil fields of in.
func (s *Service) UpdatePatientProfile(ctx context.Context, identityID uuid.UUID, in UpdatePatientProfileInput) (*PatientProfileView, error) {
	if err := validPhone(in.Phone); err != nil {
		return nil, err
	}
	ident, err := s.identityFor(ctx, identityID)
	if err != nil {
		return nil, err
	}
	p, err := s.patientProfile(ctx, identityID)
	if err != nil {
		return nil, err
	}

	if in.FullName != nil {
		if p.FullName, err = requireName(in.FullName, "full_name"); err != nil {
			return nil, err
		}
	}
	if in.Gender != nil {
		g := strings.ToUpper(strings.TrimSpace(*in.Gender))
		if g != "MALE" && g != "FEMALE" {
			return nil, apperr.BadRequest("gender must be MALE or FEMALE")
		}
		p.Gender = &g
	}
	if in.DateOfBirth != nil {
		if in.DateOfBirth.After(s.now()) {
			return nil, apperr.BadRequest("date_of_birth cannot be in the future")
		}
		p.DateOfBirth = in.DateOfBirth
	}
	setOptional(&p.BloodGroup, in.BloodGroup)
	setOptional(&p.Address, in.Address)
	setOptional(&p.City, in.City)
	setOptional(&p.ZipCode, in.ZipCode)
	setOptional(&p.Country, in.Country)
	setOptional(&p.Nationality, in.Nationality)
	setOptional(&p.EmergencyContact, in.EmergencyContact)
	setOptional(&p.EmergencyPhone, in.EmergencyPhone)
	setOptional(&p.Allergies, in.Allergies)
	setOptional(&p.ChronicConditions, in.ChronicConditions)
	p.UpdatedAt = s.now()

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.updatePhone(ctx, ident, in.Phone); err != nil {
			return err
		}
		return s.repo.UpdatePatientProfile(ctx, p)
	})
	if err != nil {
		return nil, apperr.Wrap(err, "update patient profile")
	}

	s.profileUpdated(ctx, identityID, auth.RolePatient)
	return &PatientProfileView{PatientProfile: p, Email: ident.Email, Phone: ident.Phone,
		EmailVerified: ident.EmailVerified, IsActive: ident.IsActive}, nil
}

// -- Doctors --

func (s *Service) doctorProfile(ctx context.Context, identityID uuid.UUID) (*DoctorProfile, error) {
	d, err := s.repo.GetDoctorByIdentity(ctx, identityID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Doctor not found")
	}
	if err != nil {
		return nil, apperr.Wrap(err, "load doctor")
	}
	return d, nil
}

func (s *Service) DoctorProfile(ctx context.Context, identityID uuid.UUID) (*DoctorProfileView, error) {
	ident, err := s.identityFor(ctx, identityID)
	if err != nil {
		return nil, err
	}
	d, err := s.doctorProfile(ctx, identityID)
	if err != nil {
		return nil, err
	}
	return &DoctorProfileView{DoctorProfile: d, Email: ident.Email, Phone: ident.Phone, EmailVerified: ident.EmailVerified}, nil
}

// UpdateDoctorProfile applies the non-nil fields of in. A non-nil Languages
// replaces the whole list.
func (s *Service) UpdateDoctorProfile(ctx context.Context, identityID uuid.UUID, in UpdateDoctorProfileInput) (*DoctorProfileView, error) {
	if err := validPhone(in.Phone); err != nil {
		return nil, err
	}
	if in.Biography != nil && utf8.RuneCountInString(*in.Biography) > maxBiography {
		return nil, apperr.BadRequest("Biography cannot exceed %d characters", maxBiography)
	}
	if in.YearsOfExperience != nil && *in.YearsOfExperience < 0 {
		return nil, apperr.BadRequest("years_of_experience cannot be negative")
	}
	ident, err := s.identityFor(ctx, identityID)
	if err != nil {
		return nil, err
	}
	d, err := s.doctorProfile(ctx, identityID)
	if err != nil {
		return nil, err
	}

	if in.FullName != nil {
		if d.FullName, err = requireName(in.FullName, "full_name"); err != nil {
			return nil, err
		}
	}
	setOptional(&d.Specialization, in.Specialization)
	setOptional(&d.RegistrationNumber, in.RegistrationNumber)
	setOptional(&d.Biography, in.Biography)
	if in.YearsOfExperience != nil {
		d.YearsOfExperience = in.YearsOfExperience
	}
	if in.Languages != nil {
		langs := make([]string, 0, len(in.Languages))
		for _, l := range in.Languages {
			if l = strings.TrimSpace(l); l != "" {
				langs = append(langs, l)
			}
		}
		d.Languages = langs
	}
	d.UpdatedAt = s.now()

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.updatePhone(ctx, ident, in.Phone); err != nil {
			return err
		}
		return s.repo.UpdateDoctorProfile(ctx, d)
	})
	if err != nil {
		return nil, apperr.Wrap(err, "update doctor profile")
	}

	s.profileUpdated(ctx, identityID, auth.RoleDoctor)
	return &DoctorProfileView{DoctorProfile: d, Email: ident.Email, Phone: ident.Phone, EmailVerified: ident.EmailVerified}, nil
}

// PublicDoctor looks up an active doctor by public id.
func (s *Service) PublicDoctor(ctx context.Context, publicID string) (*PublicDoctor, error) {
	d, err := s.repo.GetDoctorByPublicID(ctx, strings.ToUpper(strings.TrimSpace(publicID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Doctor not found")
	}
	if err != nil {
		return nil, apperr.Wrap(err, "load doctor")
	}
	langs := d.Languages
	if langs == nil {
		langs = []string{}
	}
	return &PublicDoctor{
		DoctorID:          d.PublicID,
		FullName:          d.FullName,
		Specialization:    d.Specialization,
		Biography:         d.Biography,
		YearsOfExperience: d.YearsOfExperience,
		Languages:         langs,
	}, nil
}

// -- Clinics --

func (s *Service) ownedClinic(ctx context.Context, identityID uuid.UUID) (*Clinic, error) {
	c, err := s.repo.GetClinicByOwner(ctx, identityID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Clinic not found")
	}
	if err != nil {
		return nil, apperr.Wrap(err, "load clinic")
	}
	return c, nil
}

func (s *Service) clinicView(ctx context.Context, ident *Identity, c *Clinic) (*ClinicView, error) {
	sub, err := s.repo.GetSubscription(ctx, c.ID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Wrap(err, "load subscription")
	}
	return &ClinicView{Clinic: c, Email: ident.Email, Phone: ident.Phone, Subscription: sub}, nil
}

// ClinicProfile returns the caller's clinic with its subscription.
func (s *Service) ClinicProfile(ctx context.Context, identityID uuid.UUID) (*ClinicView, error) {
	ident, err := s.identityFor(ctx, identityID)
	if err != nil {
		return nil, err
	}
	c, err := s.ownedClinic(ctx, identityID)
	if err != nil {
		return nil, err
	}
	return s.clinicView(ctx, ident, c)
}

func (s *Service) UpdateClinic(ctx context.Context, identityID uuid.UUID, in UpdateClinicInput) (*ClinicView, error) {
	if err := validPhone(in.Phone); err != nil {
		return nil, err
	}
	if in.Description != nil && utf8.RuneCountInString(*in.Description) > maxBiography {
		return nil, apperr.BadRequest("description cannot exceed %d characters", maxBiography)
	}
	ident, err := s.identityFor(ctx, identityID)
	if err != nil {
		return nil, err
	}
	c, err := s.ownedClinic(ctx, identityID)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		if c.Name, err = requireName(in.Name, "name"); err != nil {
			return nil, err
		}
	}
	setOptional(&c.Address, in.Address)
	setOptional(&c.City, in.City)
	setOptional(&c.Country, in.Country)
	setOptional(&c.Description, in.Description)
	c.UpdatedAt = s.now()

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.updatePhone(ctx, ident, in.Phone); err != nil {
			return err
		}
		return s.repo.UpdateClinic(ctx, c)
	})
	if err != nil {
		return nil, apperr.Wrap(err, "update clinic")
	}

	s.profileUpdated(ctx, identityID, auth.RoleClinicStaff)
	return s.clinicView(ctx, ident, c)
}

// PublicClinic looks up a clinic by public id.
func (s *Service) PublicClinic(ctx context.Context, publicID string) (*PublicClinic, error) {
	c, err := s.repo.GetClinicByPublicID(ctx, strings.ToUpper(strings.TrimSpace(publicID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Clinic not found")
	}
	if err != nil {
		return nil, apperr.Wrap(err, "load clinic")
	}
	return &PublicClinic{
		ClinicID:    c.PublicID,
		Name:        c.Name,
		Address:     c.Address,
		City:        c.City,
		Country:     c.Country,
		Description: c.Description,
	}, nil
}
