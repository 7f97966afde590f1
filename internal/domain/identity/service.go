package identity

import (
	"context"
	"errors"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/curafile/curafile/internal/domain/verification"
	"github.com/curafile/curafile/internal/platform/apperr"
	"github.com/curafile/curafile/internal/platform/auth"
	"github.com/curafile/curafile/internal/platform/db"
	"github.com/curafile/curafile/internal/platform/events"
	"github.com/curafile/curafile/internal/platform/notification"
	"github.com/curafile/curafile/internal/platform/qrcode"
	"github.com/curafile/curafile/internal/platform/secure"
)

const (
	msgInvalidCredentials = "Invalid email or password"
	msgEmailRegistered    = "Email already registered"
	msgWrongExistingPass  = "Invalid password. Use your existing account password."
	msgInvalidResetToken  = "Invalid or expired reset token"
	msgInvalidCode        = "Invalid or expired verification code"
	msgVerifyBeforeLogin  = "Please verify your email before logging in"

	// ForgotPasswordMessage is returned whether or not the account exists.
	ForgotPasswordMessage = "If an account exists with this email, a reset link has been sent"

	defaultPlan = "BASIC"
)

// SessionRevoker writes identity-wide ledger entries.
type SessionRevoker interface {
	RecordSecurityInvalidation(ctx context.Context, identityID uuid.UUID, reason auth.RevocationReason) error
}

type Options struct {
	FrontendURL        string
	DefaultDoctorSlots int
}

// Deps are the collaborators of Service.
type Deps struct {
	Repo   Repository
	Tx     db.TxRunner
	Signer *auth.Signer
	Ledger SessionRevoker
	OTP    *verification.OTPService
	Resets *verification.ResetTokenService
	Sender notification.Sender
	Events events.Publisher
	QR     *qrcode.Generator
	Logger zerolog.Logger
}

// Service implements registration, sign-in and account maintenance for all
// three actor types.
type Service struct {
	repo   Repository
	tx     db.TxRunner
	signer *auth.Signer
	ledger SessionRevoker
	otp    *verification.OTPService
	resets *verification.ResetTokenService
	sender notification.Sender
	events events.Publisher
	qr     *qrcode.Generator
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

func NewService(d Deps, opts Options) *Service {
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.QR == nil {
		d.QR = qrcode.NewGenerator()
	}
	return &Service{
		repo:   d.Repo,
		tx:     d.Tx,
		signer: d.Signer,
		ledger: d.Ledger,
		otp:    d.OTP,
		resets: d.Resets,
		sender: d.Sender,
		events: d.Events,
		qr:     d.QR,
		opts:   opts,
		now:    time.Now,
		logger: d.Logger,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func requireEmail(email string) (string, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return "", apperr.BadRequest("a valid email is required")
	}
	return email, nil
}

// findIdentity returns nil without error when no identity has the email.
func (s *Service) findIdentity(ctx context.Context, email string) (*Identity, error) {
	ident, err := s.repo.GetIdentityByEmail(ctx, email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(err, "load identity")
	}
	return ident, nil
}

func (s *Service) hasProfile(ctx context.Context, identityID uuid.UUID, role auth.Role) (bool, error) {
	var err error
	switch role {
	case auth.RolePatient:
		_, err = s.repo.PatientProfileID(ctx, identityID)
	case auth.RoleDoctor:
		_, err = s.repo.DoctorProfileID(ctx, identityID)
	case auth.RoleClinicStaff:
		_, err = s.repo.ClinicIDByOwner(ctx, identityID)
	default:
		return false, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Wrap(err, "load profile")
	}
	return true, nil
}

func (s *Service) newPublicID(ctx context.Context, prefix string) (string, error) {
	for i := 0; i < publicIDAttempts; i++ {
		id, err := secure.PublicID(prefix, publicIDLength)
		if err != nil {
			return "", err
		}
		taken, err := s.repo.PublicIDTaken(ctx, id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
	return "", errors.New("could not allocate a unique public id")
}

func weakPassword(err error) error {
	return apperr.BadRequest(strings.TrimPrefix(err.Error(), auth.ErrWeakPassword.Error()+": "))
}

// -- Patient onboarding --

// SendPatientOTP emails a verification code to an address that is not yet
// registered as a patient.
func (s *Service) SendPatientOTP(ctx context.Context, email string) error {
	email, err := requireEmail(email)
	if err != nil {
		return err
	}
	ident, err := s.findIdentity(ctx, email)
	if err != nil {
		return err
	}
	if ident != nil {
		has, err := s.hasProfile(ctx, ident.ID, auth.RolePatient)
		if err != nil {
			return err
		}
		if has {
			return apperr.Conflict(msgEmailRegistered)
		}
	}
	if err := s.otp.Issue(ctx, email, verification.PurposeEmailVerification); err != nil {
		return apperr.Wrap(err, "send verification code")
	}
	return nil
}

func (s *Service) VerifyPatientOTP(ctx context.Context, email, code string) error {
	ok, err := s.otp.Verify(ctx, normalizeEmail(email), strings.TrimSpace(code), verification.PurposeEmailVerification)
	if err != nil {
		return apperr.Wrap(err, "verify code")
	}
	if !ok {
		return apperr.BadRequest("Invalid or expired OTP")
	}
	return nil
}

// RegisterPatient creates the PATIENT role and profile. A new identity is
// created unless the email already belongs to another role, in which case
// the existing password must be presented.
func (s *Service) RegisterPatient(ctx context.Context, in RegisterPatientInput) (*Account, error) {
	email, err := requireEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.FullName) == "" {
		return nil, apperr.BadRequest("full_name is required")
	}

	verified, err := s.otp.HasVerifiedEmail(ctx, email, verification.PurposeEmailVerification)
	if err != nil {
		return nil, apperr.Wrap(err, "check email verification")
	}
	if !verified {
		return nil, apperr.BadRequest("Email not verified. Please verify your email first.")
	}

	ident, err := s.findIdentity(ctx, email)
	if err != nil {
		return nil, err
	}

	now := s.now()
	isNew := ident == nil
	if !isNew {
		has, err := s.hasProfile(ctx, ident.ID, auth.RolePatient)
		if err != nil {
			return nil, err
		}
		if has || !ident.CanSignIn() {
			return nil, apperr.Conflict(msgEmailRegistered)
		}
		if !auth.CheckPassword(ident.PasswordHash, in.Password) {
			return nil, apperr.Unauthorized(msgWrongExistingPass)
		}
	} else {
		if err := auth.ValidatePassword(in.Password); err != nil {
			return nil, weakPassword(err)
		}
		hash, err := auth.HashPassword(in.Password)
		if err != nil {
			return nil, apperr.Wrap(err, "hash password")
		}
		ident = &Identity{
			ID:            uuid.New(),
			Email:         email,
			PasswordHash:  hash,
			Phone:         in.Phone,
			EmailVerified: true,
			IsActive:      true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}
	profile := &PatientProfile{
		ID:          uuid.New(),
		IdentityID:  ident.ID,
		FullName:    strings.TrimSpace(in.FullName),
		DateOfBirth: in.DateOfBirth,
		Gender:      in.Gender,
		BloodGroup:  in.BloodGroup,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if isNew {
			if err := s.repo.CreateIdentity(ctx, ident); err != nil {
				return err
			}
		} else if err := s.repo.SetEmailVerified(ctx, ident.ID, now); err != nil {
			return err
		}
		if err := s.repo.GrantRole(ctx, ident.ID, auth.RolePatient); err != nil {
			return err
		}
		publicID, err := s.newPublicID(ctx, PatientIDPrefix)
		if err != nil {
			return err
		}
		profile.PublicID = publicID
		return s.repo.CreatePatientProfile(ctx, profile)
	})
	if db.IsUniqueViolation(err) {
		return nil, apperr.Conflict(msgEmailRegistered)
	}
	if err != nil {
		return nil, apperr.Wrap(err, "register patient")
	}
	ident.EmailVerified = true

	s.logger.Info().Str("identity_id", ident.ID.String()).Str("patient_id", profile.PublicID).Msg("patient registered")
	events.Emit(ctx, s.events, s.logger, events.New(events.IdentityRegistered, ident.ID.String(), map[string]string{
		"role":      string(auth.RolePatient),
		"public_id": profile.PublicID,
	}))
	return s.loadAccount(ctx, ident)
}

// AcceptTerms completes patient onboarding. The caller has no session yet,
// so credentials are checked here.
func (s *Service) AcceptTerms(ctx context.Context, email, password string) (*PatientProfile, error) {
	email = normalizeEmail(email)
	ident, err := s.findIdentity(ctx, email)
	if err != nil {
		return nil, err
	}
	if !ident.CanSignIn() || !auth.CheckPassword(ident.PasswordHash, password) {
		return nil, apperr.Unauthorized(msgInvalidCredentials)
	}

	profile, err := s.repo.GetPatientByIdentity(ctx, ident.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Patient not found")
	}
	if err != nil {
		return nil, apperr.Wrap(err, "load patient")
	}

	now := s.now()
	changed, err := s.repo.AcceptTerms(ctx, profile.ID, now)
	if err != nil {
		return nil, apperr.Wrap(err, "accept terms")
	}
	if !changed {
		return nil, apperr.BadRequest("Terms already accepted")
	}
	profile.TermsAccepted = true
	profile.TermsAcceptedAt = &now

	if err := s.sender.Send(ctx, notification.WelcomeEmail(ident.Email, profile.FullName, profile.PublicID)); err != nil {
		s.logger.Warn().Err(err).Str("identity_id", ident.ID.String()).Msg("welcome email failed")
	}
	return profile, nil
}

// -- Doctor and clinic accounts --

// RegistrationResult describes what a registration call did.
type RegistrationResult struct {
	Message   string `json:"message"`
	RoleAdded bool   `json:"role_added"`
	PublicID  string `json:"public_id"`
}

// RegisterDoctor adds a DOCTOR profile. An existing patient identity gains
// the role after presenting its password; otherwise a new, unverified
// identity is created and sent a verification code.
func (s *Service) RegisterDoctor(ctx context.Context, in RegisterDoctorInput) (*RegistrationResult, error) {
	email, err := requireEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.FullName) == "" {
		return nil, apperr.BadRequest("full_name is required")
	}

	ident, err := s.findIdentity(ctx, email)
	if err != nil {
		return nil, err
	}

	now := s.now()
	isNew := ident == nil
	if !isNew {
		hasDoctor, err := s.hasProfile(ctx, ident.ID, auth.RoleDoctor)
		if err != nil {
			return nil, err
		}
		if hasDoctor {
			return nil, apperr.Conflict("You are already registered as a doctor")
		}
		hasPatient, err := s.hasProfile(ctx, ident.ID, auth.RolePatient)
		if err != nil {
			return nil, err
		}
		if !hasPatient || !ident.CanSignIn() {
			return nil, apperr.Conflict(msgEmailRegistered)
		}
		if !auth.CheckPassword(ident.PasswordHash, in.Password) {
			return nil, apperr.Unauthorized(msgWrongExistingPass)
		}
	} else {
		if err := auth.ValidatePassword(in.Password); err != nil {
			return nil, weakPassword(err)
		}
		hash, err := auth.HashPassword(in.Password)
		if err != nil {
			return nil, apperr.Wrap(err, "hash password")
		}
		ident = &Identity{
			ID:           uuid.New(),
			Email:        email,
			PasswordHash: hash,
			Phone:        in.Phone,
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}

	doctor := &DoctorProfile{
		ID:                 uuid.New(),
		IdentityID:         ident.ID,
		FullName:           strings.TrimSpace(in.FullName),
		Specialization:     in.Specialization,
		RegistrationNumber: in.RegistrationNumber,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if isNew {
			if err := s.repo.CreateIdentity(ctx, ident); err != nil {
				return err
			}
		}
		if err := s.repo.GrantRole(ctx, ident.ID, auth.RoleDoctor); err != nil {
			return err
		}
		publicID, err := s.newPublicID(ctx, DoctorIDPrefix)
		if err != nil {
			return err
		}
		doctor.PublicID = publicID
		return s.repo.CreateDoctorProfile(ctx, doctor)
	})
	if db.IsUniqueViolation(err) {
		return nil, apperr.Conflict(msgEmailRegistered)
	}
	if err != nil {
		return nil, apperr.Wrap(err, "register doctor")
	}

	events.Emit(ctx, s.events, s.logger, events.New(events.IdentityRegistered, ident.ID.String(), map[string]string{
		"role":      string(auth.RoleDoctor),
		"public_id": doctor.PublicID,
	}))

	if !isNew {
		s.logger.Info().Str("identity_id", ident.ID.String()).Msg("doctor role added to existing patient")
		return &RegistrationResult{
			Message:   "Doctor role added successfully. You can now login as a doctor.",
			RoleAdded: true,
			PublicID:  doctor.PublicID,
		}, nil
	}

	s.sendVerificationCode(ctx, email)
	s.logger.Info().Str("identity_id", ident.ID.String()).Msg("doctor registered")
	return &RegistrationResult{
		Message:  "Registration successful. Please verify your email.",
		PublicID: doctor.PublicID,
	}, nil
}

// RegisterClinic creates the identity, CLINIC_STAFF role, clinic and its
// subscription together.
func (s *Service) RegisterClinic(ctx context.Context, in RegisterClinicInput) (*RegistrationResult, error) {
	email, err := requireEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.ClinicName) == "" {
		return nil, apperr.BadRequest("clinic_name is required")
	}

	ident, err := s.findIdentity(ctx, email)
	if err != nil {
		return nil, err
	}
	if ident != nil {
		has, err := s.hasProfile(ctx, ident.ID, auth.RoleClinicStaff)
		if err != nil {
			return nil, err
		}
		if has {
			return nil, apperr.Conflict("This email already has a registered clinic")
		}
		return nil, apperr.Conflict(msgEmailRegistered)
	}

	if err := auth.ValidatePassword(in.Password); err != nil {
		return nil, weakPassword(err)
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Wrap(err, "hash password")
	}

	now := s.now()
	ident = &Identity{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Phone:        in.Phone,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	clinic := &Clinic{
		ID:              uuid.New(),
		OwnerIdentityID: ident.ID,
		Name:            strings.TrimSpace(in.ClinicName),
		Address:         in.Address,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateIdentity(ctx, ident); err != nil {
			return err
		}
		if err := s.repo.GrantRole(ctx, ident.ID, auth.RoleClinicStaff); err != nil {
			return err
		}
		publicID, err := s.newPublicID(ctx, ClinicIDPrefix)
		if err != nil {
			return err
		}
		clinic.PublicID = publicID
		if err := s.repo.CreateClinic(ctx, clinic); err != nil {
			return err
		}
		return s.repo.CreateSubscription(ctx, &Subscription{
			ClinicID:    clinic.ID,
			Plan:        defaultPlan,
			DoctorSlots: s.opts.DefaultDoctorSlots,
			UpdatedAt:   now,
		})
	})
	if db.IsUniqueViolation(err) {
		return nil, apperr.Conflict(msgEmailRegistered)
	}
	if err != nil {
		return nil, apperr.Wrap(err, "register clinic")
	}

	events.Emit(ctx, s.events, s.logger, events.New(events.IdentityRegistered, ident.ID.String(), map[string]string{
		"role":      string(auth.RoleClinicStaff),
		"public_id": clinic.PublicID,
	}))
	s.sendVerificationCode(ctx, email)
	s.logger.Info().Str("clinic_id", clinic.ID.String()).Str("name", clinic.Name).Msg("clinic registered")
	return &RegistrationResult{
		Message:  "Registration successful. Please verify your email.",
		PublicID: clinic.PublicID,
	}, nil
}

// sendVerificationCode is best effort: the account already exists and the
// caller can use resend-otp.
func (s *Service) sendVerificationCode(ctx context.Context, email string) {
	if err := s.otp.Issue(ctx, email, verification.PurposeEmailVerification); err != nil {
		s.logger.Warn().Err(err).Msg("verification code delivery failed")
	}
}

func profileNotFound(role auth.Role) error {
	if role == auth.RoleClinicStaff {
		return apperr.NotFound("Clinic not found")
	}
	return apperr.NotFound("Doctor not found")
}

// unverifiedAccount loads the identity behind a doctor or clinic email that
// still needs verification.
func (s *Service) unverifiedAccount(ctx context.Context, role auth.Role, email string) (*Identity, error) {
	if role != auth.RoleDoctor && role != auth.RoleClinicStaff {
		return nil, apperr.BadRequest("unsupported role")
	}
	ident, err := s.findIdentity(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if !ident.CanSignIn() {
		return nil, profileNotFound(role)
	}
	has, err := s.hasProfile(ctx, ident.ID, role)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, profileNotFound(role)
	}
	if ident.EmailVerified {
		return nil, apperr.BadRequest("Email already verified")
	}
	return ident, nil
}

// VerifyEmail confirms a doctor or clinic email and signs the caller in.
func (s *Service) VerifyEmail(ctx context.Context, role auth.Role, email, code string) (*LoginResult, error) {
	ident, err := s.unverifiedAccount(ctx, role, email)
	if err != nil {
		return nil, err
	}
	ok, err := s.otp.Verify(ctx, ident.Email, strings.TrimSpace(code), verification.PurposeEmailVerification)
	if err != nil {
		return nil, apperr.Wrap(err, "verify code")
	}
	if !ok {
		return nil, apperr.BadRequest(msgInvalidCode)
	}
	if err := s.repo.SetEmailVerified(ctx, ident.ID, s.now()); err != nil {
		return nil, apperr.Wrap(err, "mark email verified")
	}
	ident.EmailVerified = true
	return s.signIn(ctx, ident, role)
}

func (s *Service) ResendOTP(ctx context.Context, role auth.Role, email string) error {
	ident, err := s.unverifiedAccount(ctx, role, email)
	if err != nil {
		return err
	}
	if err := s.otp.Issue(ctx, ident.Email, verification.PurposeEmailVerification); err != nil {
		return apperr.Wrap(err, "send verification code")
	}
	return nil
}

// -- Sign-in --

// Login authenticates email and password for role. Every credential failure
// collapses to the same message.
func (s *Service) Login(ctx context.Context, role auth.Role, email, password string) (*LoginResult, error) {
	if !role.Valid() {
		return nil, apperr.BadRequest("unsupported role")
	}
	ident, err := s.findIdentity(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if !ident.CanSignIn() || !auth.CheckPassword(ident.PasswordHash, password) {
		return nil, apperr.Unauthorized(msgInvalidCredentials)
	}

	roles, err := s.repo.Roles(ctx, ident.ID)
	if err != nil {
		return nil, apperr.Wrap(err, "load roles")
	}
	if !containsRole(roles, role) {
		return nil, apperr.Unauthorized(msgInvalidCredentials)
	}

	switch role {
	case auth.RolePatient:
		profile, err := s.repo.GetPatientByIdentity(ctx, ident.ID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Unauthorized(msgInvalidCredentials)
		}
		if err != nil {
			return nil, apperr.Wrap(err, "load patient")
		}
		if !profile.TermsAccepted {
			return nil, apperr.Unauthorized("Please accept the terms and conditions to complete registration")
		}
	default:
		has, err := s.hasProfile(ctx, ident.ID, role)
		if err != nil {
			return nil, err
		}
		if !has {
			return nil, apperr.Unauthorized(msgInvalidCredentials)
		}
		if !ident.EmailVerified {
			return nil, apperr.BadRequest(msgVerifyBeforeLogin)
		}
	}

	if !ident.IsActive {
		if err := s.repo.SetActive(ctx, ident.ID, true, s.now()); err != nil {
			return nil, apperr.Wrap(err, "reactivate account")
		}
		ident.IsActive = true
		s.logger.Info().Str("identity_id", ident.ID.String()).Msg("account reactivated via login")
	}
	return s.signIn(ctx, ident, role)
}

func containsRole(roles []auth.Role, want auth.Role) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}

func (s *Service) signIn(ctx context.Context, ident *Identity, role auth.Role) (*LoginResult, error) {
	now := s.now()
	if err := s.repo.TouchLastLogin(ctx, ident.ID, now); err != nil {
		s.logger.Warn().Err(err).Str("identity_id", ident.ID.String()).Msg("update last login failed")
	}
	ident.LastLoginAt = &now

	token, claims, err := s.signer.Issue(ident.ID, ident.Email, role)
	if err != nil {
		return nil, apperr.Wrap(err, "issue token")
	}
	account, err := s.loadAccount(ctx, ident)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
		Role:      role,
		Account:   *account,
	}, nil
}

func (s *Service) loadAccount(ctx context.Context, ident *Identity) (*Account, error) {
	roles, err := s.repo.Roles(ctx, ident.ID)
	if err != nil {
		return nil, apperr.Wrap(err, "load roles")
	}
	acct := &Account{Identity: ident, Roles: roles}

	if acct.Patient, err = s.repo.GetPatientByIdentity(ctx, ident.ID); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Wrap(err, "load patient")
	}
	if acct.Doctor, err = s.repo.GetDoctorByIdentity(ctx, ident.ID); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Wrap(err, "load doctor")
	}
	if acct.Clinic, err = s.repo.GetClinicByOwner(ctx, ident.ID); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Wrap(err, "load clinic")
	}
	return acct, nil
}

// -- Passwords --

// ForgotPassword emails a reset link when the account exists. Failures are
// logged and never reported, so callers cannot enumerate accounts.
func (s *Service) ForgotPassword(ctx context.Context, email string) {
	email = normalizeEmail(email)
	ident, err := s.findIdentity(ctx, email)
	if err != nil {
		s.logger.Error().Err(err).Msg("forgot password lookup failed")
		return
	}
	if !ident.CanSignIn() {
		return
	}

	raw, err := s.resets.Create(ctx, email)
	if err != nil {
		s.logger.Error().Err(err).Str("identity_id", ident.ID.String()).Msg("create reset token failed")
		return
	}
	link := strings.TrimRight(s.opts.FrontendURL, "/") + "/reset-password?token=" + url.QueryEscape(raw)
	if err := s.sender.Send(ctx, notification.PasswordResetEmail(email, link, s.resets.TTL())); err != nil {
		s.logger.Error().Err(err).Str("identity_id", ident.ID.String()).Msg("reset email failed")
		return
	}
	s.logger.Info().Str("identity_id", ident.ID.String()).Msg("password reset requested")
}

// ResetPassword consumes a reset token and invalidates every session of the
// identity. The token is used up before anything else is written, so a
// concurrent reset with the same token fails.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := auth.ValidatePassword(newPassword); err != nil {
		return weakPassword(err)
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return apperr.Wrap(err, "hash password")
	}

	var identityID uuid.UUID
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		res, err := s.resets.Consume(ctx, token)
		if err != nil {
			return err
		}
		if !res.Valid {
			return apperr.BadRequest(msgInvalidResetToken)
		}
		ident, err := s.repo.GetIdentityByEmail(ctx, res.Email)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.BadRequest(msgInvalidResetToken)
		}
		if err != nil {
			return err
		}
		identityID = ident.ID

		now := s.now()
		if err := s.repo.UpdatePassword(ctx, ident.ID, hash, now); err != nil {
			return err
		}
		return s.ledger.RecordSecurityInvalidation(ctx, ident.ID, auth.ReasonPasswordChanged)
	})
	if err != nil {
		return apperr.Wrap(err, "reset password")
	}

	s.logger.Info().Str("identity_id", identityID.String()).Msg("password reset completed")
	events.Emit(ctx, s.events, s.logger, events.New(events.PasswordChanged, identityID.String(), map[string]string{
		"via": "reset",
	}))
	return nil
}

// ChangePassword replaces the password of a signed-in identity. All of its
// sessions, including the current one, are invalidated.
func (s *Service) ChangePassword(ctx context.Context, identityID uuid.UUID, current, next string) error {
	ident, err := s.repo.GetIdentityByID(ctx, identityID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("Account not found")
	}
	if err != nil {
		return apperr.Wrap(err, "load identity")
	}
	if !auth.CheckPassword(ident.PasswordHash, current) {
		return apperr.BadRequest("Current password is incorrect")
	}
	if auth.CheckPassword(ident.PasswordHash, next) {
		return apperr.BadRequest("New password cannot be the same as your current password")
	}
	if err := auth.ValidatePassword(next); err != nil {
		return weakPassword(err)
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		return apperr.Wrap(err, "hash password")
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdatePassword(ctx, ident.ID, hash, s.now()); err != nil {
			return err
		}
		return s.ledger.RecordSecurityInvalidation(ctx, ident.ID, auth.ReasonPasswordChanged)
	})
	if err != nil {
		return apperr.Wrap(err, "change password")
	}

	events.Emit(ctx, s.events, s.logger, events.New(events.PasswordChanged, ident.ID.String(), map[string]string{
		"via": "change",
	}))
	return nil
}

// -- Account --

// Deactivate soft-deactivates the account and revokes every session. Signing
// in again reactivates it.
func (s *Service) Deactivate(ctx context.Context, identityID uuid.UUID, password string) error {
	ident, err := s.repo.GetIdentityByID(ctx, identityID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("Account not found")
	}
	if err != nil {
		return apperr.Wrap(err, "load identity")
	}
	if !auth.CheckPassword(ident.PasswordHash, password) {
		return apperr.Unauthorized("Incorrect password. Cannot deactivate account.")
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.SetActive(ctx, ident.ID, false, s.now()); err != nil {
			return err
		}
		return s.ledger.RecordSecurityInvalidation(ctx, ident.ID, auth.ReasonAccountDeactivated)
	})
	if err != nil {
		return apperr.Wrap(err, "deactivate account")
	}

	s.logger.Info().Str("identity_id", ident.ID.String()).Msg("account deactivated")
	events.Emit(ctx, s.events, s.logger, events.New(events.IdentityDeactivated, ident.ID.String(), nil))
	return nil
}

// Me returns the signed-in identity with all of its profiles.
func (s *Service) Me(ctx context.Context, identityID uuid.UUID) (*Account, error) {
	ident, err := s.repo.GetIdentityByID(ctx, identityID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Account not found")
	}
	if err != nil {
		return nil, apperr.Wrap(err, "load identity")
	}
	return s.loadAccount(ctx, ident)
}

// PatientQR renders the caller's public patient id as a PNG.
func (s *Service) PatientQR(ctx context.Context, identityID uuid.UUID, size int) ([]byte, error) {
	profile, err := s.repo.GetPatientByIdentity(ctx, identityID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("Patient not found")
	}
	if err != nil {
		return nil, apperr.Wrap(err, "load patient")
	}
	png, err := s.qr.PNG(profile.PublicID, size)
	if err != nil {
		return nil, apperr.BadRequest(err.Error())
	}
	return png, nil
}
