package sharing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/curafile/curafile/internal/platform/apperr"
	"github.com/curafile/curafile/internal/platform/auth"
	"github.com/curafile/curafile/internal/platform/db"
	"github.com/curafile/curafile/internal/platform/events"
)

const (
	msgNoPermission = "You do not have permission to access these records"
	msgNoView       = "Your permission does not allow viewing these records"
	msgNoDownload   = "Your permission does not allow downloading these records"
	msgDuplicate    = "An active permission already exists for this recipient and record type"
)

// Service owns the patient-to-recipient permission rules.
type Service struct {
	repo   Repository
	dir    Directory
	tx     db.TxRunner
	events events.Publisher
	now    func() time.Time
	logger zerolog.Logger
}

func NewService(repo Repository, dir Directory, tx db.TxRunner, publisher events.Publisher, logger zerolog.Logger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{repo: repo, dir: dir, tx: tx, events: publisher, now: time.Now, logger: logger}
}

// resolveRecipient maps a public id to the internal profile id for its type.
func (s *Service) resolveRecipient(ctx context.Context, rt RecipientType, publicID string) (uuid.UUID, error) {
	publicID = strings.ToUpper(strings.TrimSpace(publicID))
	if !strings.HasPrefix(publicID, rt.publicPrefix()) {
		return uuid.Nil, apperr.BadRequest("recipient_id for %s must start with %s", rt, rt.publicPrefix())
	}

	var (
		id  uuid.UUID
		err error
	)
	switch rt {
	case RecipientDoctor:
		id, err = s.dir.DoctorIDByPublicID(ctx, publicID)
	case RecipientClinic:
		id, err = s.dir.ClinicIDByPublicID(ctx, publicID)
	default:
		id, err = s.dir.PatientIDByPublicID(ctx, publicID)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, apperr.NotFound("Recipient not found")
	}
	if err != nil {
		return uuid.Nil, apperr.Wrap(err, "resolve recipient")
	}
	return id, nil
}

// Grant creates a permission from ownerID to the recipient named in in.
func (s *Service) Grant(ctx context.Context, ownerID uuid.UUID, in GrantInput) (*Permission, error) {
	if !in.RecipientType.Valid() {
		return nil, apperr.BadRequest("recipient_type must be DOCTOR, CLINIC or FAMILY_MEMBER")
	}
	if in.RecordType == "" {
		in.RecordType = RecordAll
	}
	if !in.RecordType.Valid() {
		return nil, apperr.BadRequest("invalid record_type %q", in.RecordType)
	}
	now := s.now()
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return nil, apperr.BadRequest("expires_at must be in the future")
	}

	recipientID, err := s.resolveRecipient(ctx, in.RecipientType, in.RecipientPublicID)
	if err != nil {
		return nil, err
	}
	if in.RecipientType == RecipientFamilyMember && recipientID == ownerID {
		return nil, apperr.BadRequest("You cannot share records with yourself")
	}

	p := &Permission{
		ID:             uuid.New(),
		OwnerPatientID: ownerID,
		RecipientType:  in.RecipientType,
		RecipientID:    &recipientID,
		RecordType:     in.RecordType,
		CanView:        true,
		ExpiresAt:      in.ExpiresAt,
		CreatedAt:      now,
		IsActive:       true,
	}
	if in.CanView != nil {
		p.CanView = *in.CanView
	}
	if in.CanDownload != nil {
		p.CanDownload = *in.CanDownload
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.RetireExpired(ctx, ownerID, now); err != nil {
			return err
		}
		exists, err := s.repo.HasActive(ctx, ownerID, p.RecipientType, recipientID, p.RecordType, now)
		if err != nil {
			return err
		}
		if exists {
			return apperr.Conflict(msgDuplicate)
		}
		return s.repo.Create(ctx, p)
	})
	if db.IsUniqueViolation(err) {
		return nil, apperr.Conflict(msgDuplicate)
	}
	if err != nil {
		return nil, apperr.Wrap(err, "grant permission")
	}

	p.RecipientPublicID = strings.ToUpper(strings.TrimSpace(in.RecipientPublicID))
	s.logger.Info().
		Str("permission_id", p.ID.String()).
		Str("recipient_type", string(p.RecipientType)).
		Str("record_type", string(p.RecordType)).
		Msg("sharing permission granted")
	events.Emit(ctx, s.events, s.logger, events.New(events.SharingGranted, ownerID.String(), p))
	return p, nil
}

// pick returns the most specific active grant: an exact record type wins
// over ALL.
func (s *Service) pick(ctx context.Context, ownerID uuid.UUID, req Requester, recordType RecordType) (*Permission, error) {
	if !recordType.Valid() {
		return nil, apperr.BadRequest("invalid record type %q", recordType)
	}
	types := []RecordType{recordType}
	if recordType != RecordAll {
		types = append(types, RecordAll)
	}
	perms, err := s.repo.ActiveFor(ctx, ownerID, req.Type, req.ProfileID, types, s.now())
	if err != nil {
		return nil, apperr.Wrap(err, "load permissions")
	}

	var best *Permission
	for _, p := range perms {
		if p.RecordType == recordType {
			return p, nil
		}
		if best == nil {
			best = p
		}
	}
	if best == nil {
		return nil, apperr.Forbidden(msgNoPermission)
	}
	return best, nil
}

// CheckAccess returns the grant allowing req to view ownerID's records of
// recordType.
func (s *Service) CheckAccess(ctx context.Context, ownerID uuid.UUID, req Requester, recordType RecordType) (*Permission, error) {
	p, err := s.pick(ctx, ownerID, req, recordType)
	if err != nil {
		return nil, err
	}
	if !p.CanView {
		return nil, apperr.Forbidden(msgNoView)
	}
	return p, nil
}

// CheckDownload is CheckAccess for downloads.
func (s *Service) CheckDownload(ctx context.Context, ownerID uuid.UUID, req Requester, recordType RecordType) (*Permission, error) {
	p, err := s.pick(ctx, ownerID, req, recordType)
	if err != nil {
		return nil, err
	}
	if !p.CanDownload {
		return nil, apperr.Forbidden(msgNoDownload)
	}
	return p, nil
}

// Revoke ends a grant. Another owner's permission reads as not found.
func (s *Service) Revoke(ctx context.Context, ownerID, permissionID uuid.UUID) error {
	p, err := s.repo.Get(ctx, permissionID)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && p.OwnerPatientID != ownerID) {
		return apperr.NotFound("Permission not found")
	}
	if err != nil {
		return apperr.Wrap(err, "load permission")
	}
	if p.RevokedAt != nil {
		return apperr.BadRequest("Permission already revoked")
	}

	err = s.repo.Revoke(ctx, permissionID, s.now())
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.BadRequest("Permission already revoked")
	}
	if err != nil {
		return apperr.Wrap(err, "revoke permission")
	}

	s.logger.Info().Str("permission_id", permissionID.String()).Msg("sharing permission revoked")
	events.Emit(ctx, s.events, s.logger, events.New(events.SharingRevoked, ownerID.String(), map[string]string{
		"permission_id": permissionID.String(),
	}))
	return nil
}

func (s *Service) ListGranted(ctx context.Context, ownerID uuid.UUID, includeInactive bool) ([]*Permission, error) {
	perms, err := s.repo.ListByOwner(ctx, ownerID, includeInactive, s.now())
	if err != nil {
		return nil, apperr.Wrap(err, "list granted permissions")
	}
	return perms, nil
}

// ListReceived returns the active grants made to a recipient.
func (s *Service) ListReceived(ctx context.Context, rt RecipientType, recipientID uuid.UUID) ([]*Permission, error) {
	perms, err := s.repo.ListByRecipient(ctx, rt, recipientID, s.now())
	if err != nil {
		return nil, apperr.Wrap(err, "list received permissions")
	}
	return perms, nil
}

// RequesterFor maps the signed-in caller to the recipient identity grants
// are keyed by. Patients act as FAMILY_MEMBER recipients.
func RequesterFor(ctx context.Context, dir Directory, p auth.Principal) (Requester, error) {
	var (
		req = Requester{}
		err error
	)
	switch p.Role {
	case auth.RolePatient:
		req.Type = RecipientFamilyMember
		req.ProfileID, err = dir.PatientProfileID(ctx, p.IdentityID)
	case auth.RoleDoctor:
		req.Type = RecipientDoctor
		req.ProfileID, err = dir.DoctorProfileID(ctx, p.IdentityID)
	case auth.RoleClinicStaff:
		req.Type = RecipientClinic
		req.ProfileID, err = dir.ClinicIDByOwner(ctx, p.IdentityID)
	default:
		return Requester{}, apperr.Forbidden(msgNoPermission)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return Requester{}, apperr.NotFound("Profile not found")
	}
	if err != nil {
		return Requester{}, apperr.Wrap(err, "resolve caller profile")
	}
	return req, nil
}
