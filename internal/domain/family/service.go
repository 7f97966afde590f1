package family

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/curafile/curafile/internal/platform/apperr"
	"github.com/curafile/curafile/internal/platform/db"
	"github.com/curafile/curafile/internal/platform/events"
)

const (
	msgRelationNotFound = "Family relationship not found"
	msgMemberNotFound   = "Family member not found with this patient ID"
	maxRelationship     = 64
)

// Service manages the family members a patient has linked to their account.
type Service struct {
	repo   Repository
	dir    Directory
	events events.Publisher
	now    func() time.Time
	logger zerolog.Logger
}

func NewService(repo Repository, dir Directory, publisher events.Publisher, logger zerolog.Logger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{repo: repo, dir: dir, events: publisher, now: time.Now, logger: logger}
}

// Add links the patient with public id in.FamilyMemberPatientID to primaryID.
func (s *Service) Add(ctx context.Context, primaryID uuid.UUID, in AddInput) (*Relation, error) {
	publicID := strings.ToUpper(strings.TrimSpace(in.FamilyMemberPatientID))
	if publicID == "" {
		return nil, apperr.BadRequest("Family member patient ID is required")
	}
	relationship := strings.TrimSpace(in.Relationship)
	if n := utf8.RuneCountInString(relationship); n < 2 || n > maxRelationship {
		return nil, apperr.BadRequest("Relationship is required")
	}

	memberID, err := s.dir.PatientIDByPublicID(ctx, publicID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(msgMemberNotFound)
	}
	if err != nil {
		return nil, apperr.Wrap(err, "resolve family member")
	}
	if memberID == primaryID {
		return nil, apperr.BadRequest("You cannot add yourself as a family member")
	}

	now := s.now().UTC()
	rel := &Relation{
		ID:                    uuid.New(),
		PrimaryPatientID:      primaryID,
		FamilyMemberID:        memberID,
		FamilyMemberPatientID: publicID,
		Relationship:          relationship,
		CanViewMedicalRecords: in.CanViewMedicalRecords,
		CanBookAppointments:   in.CanBookAppointments,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	err = s.repo.Create(ctx, rel)
	if db.IsUniqueViolation(err) {
		return nil, apperr.Conflict("This patient is already in your family list")
	}
	if err != nil {
		return nil, apperr.Wrap(err, "add family member")
	}

	s.logger.Info().Str("relation_id", rel.ID.String()).Str("family_member", publicID).Msg("family member added")
	events.Emit(ctx, s.events, s.logger, events.New(events.FamilyMemberAdded, primaryID.String(), map[string]string{
		"relation_id":   rel.ID.String(),
		"family_member": publicID,
	}))

	stored, err := s.repo.Get(ctx, primaryID, rel.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("relation_id", rel.ID.String()).Msg("reload family relation failed")
		return rel, nil
	}
	return stored, nil
}

func (s *Service) List(ctx context.Context, primaryID uuid.UUID) ([]*Relation, error) {
	rels, err := s.repo.List(ctx, primaryID)
	if err != nil {
		return nil, apperr.Wrap(err, "list family members")
	}
	return rels, nil
}

func (s *Service) load(ctx context.Context, primaryID, id uuid.UUID) (*Relation, error) {
	rel, err := s.repo.Get(ctx, primaryID, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(msgRelationNotFound)
	}
	if err != nil {
		return nil, apperr.Wrap(err, "load family relation")
	}
	return rel, nil
}

// UpdatePermissions changes the flags given in in and leaves the others.
func (s *Service) UpdatePermissions(ctx context.Context, primaryID, id uuid.UUID, in PermissionsInput) (*Relation, error) {
	rel, err := s.load(ctx, primaryID, id)
	if err != nil {
		return nil, err
	}
	if in.CanViewMedicalRecords != nil {
		rel.CanViewMedicalRecords = *in.CanViewMedicalRecords
	}
	if in.CanBookAppointments != nil {
		rel.CanBookAppointments = *in.CanBookAppointments
	}
	rel.UpdatedAt = s.now().UTC()

	err = s.repo.UpdatePermissions(ctx, rel)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(msgRelationNotFound)
	}
	if err != nil {
		return nil, apperr.Wrap(err, "update family permissions")
	}
	s.logger.Info().Str("relation_id", id.String()).Msg("family member permissions updated")
	return rel, nil
}

func (s *Service) Remove(ctx context.Context, primaryID, id uuid.UUID) error {
	err := s.repo.Delete(ctx, primaryID, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(msgRelationNotFound)
	}
	if err != nil {
		return apperr.Wrap(err, "remove family member")
	}
	s.logger.Info().Str("relation_id", id.String()).Msg("family member removed")
	events.Emit(ctx, s.events, s.logger, events.New(events.FamilyMemberRemoved, primaryID.String(), map[string]string{
		"relation_id": id.String(),
	}))
	return nil
}
