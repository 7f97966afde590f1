package records

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/curafile/curafile/internal/domain/sharing"
	"github.com/curafile/curafile/internal/platform/apperr"
	"github.com/curafile/curafile/internal/platform/blobstore"
	"github.com/curafile/curafile/internal/platform/events"
)

const msgNotFound = "Record not found"

// Service stores patient documents and serves them to the owner and to
// recipients holding a sharing grant.
type Service struct {
	repo   Repository
	blobs  blobstore.Store
	access AccessChecker
	events events.Publisher
	now    func() time.Time
	logger zerolog.Logger
}

func NewService(repo Repository, blobs blobstore.Store, access AccessChecker, publisher events.Publisher, logger zerolog.Logger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{repo: repo, blobs: blobs, access: access, events: publisher, now: time.Now, logger: logger}
}

func parseType(raw string) (sharing.RecordType, error) {
	t := sharing.RecordType(strings.ToUpper(strings.TrimSpace(raw)))
	if !storable(t) {
		return "", apperr.BadRequest("record_type must be CONSULTATIONS, PRESCRIPTIONS, LAB_RESULTS or MEDICAL_DOCUMENTS")
	}
	return t, nil
}

func objectKey(ownerID uuid.UUID, t sharing.RecordType, docID uuid.UUID) string {
	return fmt.Sprintf("patients/%s/%s/%s", ownerID, strings.ToLower(string(t)), docID)
}

// Upload stores the body and records its metadata for ownerID.
func (s *Service) Upload(ctx context.Context, ownerID, uploadedBy uuid.UUID, in UploadInput) (*Document, error) {
	if !storable(in.RecordType) {
		return nil, apperr.BadRequest("record_type must be CONSULTATIONS, PRESCRIPTIONS, LAB_RESULTS or MEDICAL_DOCUMENTS")
	}
	if in.Body == nil || in.Size <= 0 {
		return nil, apperr.BadRequest("file is required")
	}
	contentType := blobstore.NormalizeContentType(in.ContentType)
	switch err := blobstore.Validate(in.Size, contentType); {
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return nil, apperr.BadRequest("File exceeds the %d MB limit", blobstore.MaxFileSize/(1024*1024))
	case errors.Is(err, blobstore.ErrInvalidContentType):
		return nil, apperr.BadRequest("File type %q is not allowed", contentType)
	}

	fileName := path.Base(strings.ReplaceAll(strings.TrimSpace(in.FileName), "\\", "/"))
	if fileName == "." || fileName == "/" {
		fileName = "document"
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = fileName
	}
	if len(title) > 255 || len(fileName) > 255 {
		return nil, apperr.BadRequest("title and file name must be at most 255 characters")
	}

	d := &Document{
		ID:             uuid.New(),
		OwnerPatientID: ownerID,
		RecordType:     in.RecordType,
		Title:          title,
		FileName:       fileName,
		ContentType:    contentType,
		SizeBytes:      in.Size,
		UploadedBy:     uploadedBy,
		CreatedAt:      s.now().UTC(),
	}
	d.ObjectKey = objectKey(ownerID, d.RecordType, d.ID)

	h := sha256.New()
	if err := s.blobs.Put(ctx, d.ObjectKey, io.TeeReader(in.Body, h), in.Size, contentType); err != nil {
		if errors.Is(err, blobstore.ErrFileTooLarge) {
			return nil, apperr.BadRequest("File exceeds the %d MB limit", blobstore.MaxFileSize/(1024*1024))
		}
		return nil, apperr.Wrap(err, "store document")
	}
	d.SHA256 = hex.EncodeToString(h.Sum(nil))

	if err := s.repo.Create(ctx, d); err != nil {
		if derr := s.blobs.Delete(ctx, d.ObjectKey); derr != nil {
			s.logger.Warn().Err(derr).Str("object_key", d.ObjectKey).Msg("orphaned document object")
		}
		return nil, apperr.Wrap(err, "save document")
	}

	s.logger.Info().Str("document_id", d.ID.String()).Str("record_type", string(d.RecordType)).Int64("size", d.SizeBytes).Msg("document uploaded")
	events.Emit(ctx, s.events, s.logger, events.New(events.RecordUploaded, ownerID.String(), map[string]string{
		"document_id": d.ID.String(),
		"record_type": string(d.RecordType),
	}))
	return d, nil
}

func (s *Service) typesFilter(raw string) ([]sharing.RecordType, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	t, err := parseType(raw)
	if err != nil {
		return nil, err
	}
	return []sharing.RecordType{t}, nil
}

// ListOwn lists the owner's documents, optionally of one type.
func (s *Service) ListOwn(ctx context.Context, ownerID uuid.UUID, recordType string) ([]*Document, error) {
	types, err := s.typesFilter(recordType)
	if err != nil {
		return nil, err
	}
	docs, err := s.repo.ListByOwner(ctx, ownerID, types)
	if err != nil {
		return nil, apperr.Wrap(err, "list documents")
	}
	return docs, nil
}

// ListShared lists ownerID's documents visible to req. With no type filter
// it returns every type req holds a viewing grant for.
func (s *Service) ListShared(ctx context.Context, ownerID uuid.UUID, req sharing.Requester, recordType string) ([]*Document, error) {
	types, err := s.typesFilter(recordType)
	if err != nil {
		return nil, err
	}
	if types == nil {
		types = storedTypes
	}

	var (
		visible  []sharing.RecordType
		firstErr error
	)
	for _, t := range types {
		if _, err := s.access.CheckAccess(ctx, ownerID, req, t); err != nil {
			if !apperr.Is(err, apperr.KindForbidden) {
				return nil, err
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		visible = append(visible, t)
	}
	if len(visible) == 0 {
		return nil, firstErr
	}

	docs, err := s.repo.ListByOwner(ctx, ownerID, visible)
	if err != nil {
		return nil, apperr.Wrap(err, "list shared documents")
	}
	return docs, nil
}

func (s *Service) load(ctx context.Context, ownerID, docID uuid.UUID) (*Document, error) {
	d, err := s.repo.Get(ctx, docID)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && d.OwnerPatientID != ownerID) {
		return nil, apperr.NotFound(msgNotFound)
	}
	if err != nil {
		return nil, apperr.Wrap(err, "load document")
	}
	return d, nil
}

func (s *Service) presign(ctx context.Context, d *Document) (*Download, error) {
	u, err := s.blobs.PresignedURL(ctx, d.ObjectKey, d.FileName, downloadURLTTL)
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		return nil, apperr.NotFound(msgNotFound)
	}
	if err != nil {
		return nil, apperr.Wrap(err, "presign download")
	}
	return &Download{URL: u, FileName: d.FileName, ExpiresAt: s.now().Add(downloadURLTTL).UTC()}, nil
}

// DownloadOwn returns a download link for one of the owner's documents.
func (s *Service) DownloadOwn(ctx context.Context, ownerID, docID uuid.UUID) (*Download, error) {
	d, err := s.load(ctx, ownerID, docID)
	if err != nil {
		return nil, err
	}
	return s.presign(ctx, d)
}

// DownloadShared returns a download link when req's grant for the
// document's type allows downloading.
func (s *Service) DownloadShared(ctx context.Context, ownerID uuid.UUID, req sharing.Requester, docID uuid.UUID) (*Download, error) {
	d, err := s.load(ctx, ownerID, docID)
	if err != nil {
		return nil, err
	}
	if _, err := s.access.CheckDownload(ctx, ownerID, req, d.RecordType); err != nil {
		return nil, err
	}
	s.logger.Info().Str("document_id", d.ID.String()).Str("requester_type", string(req.Type)).Msg("shared document download")
	return s.presign(ctx, d)
}

// Delete removes one of the owner's documents.
func (s *Service) Delete(ctx context.Context, ownerID, docID uuid.UUID) error {
	d, err := s.load(ctx, ownerID, docID)
	if err != nil {
		return err
	}
	err = s.repo.SoftDelete(ctx, d.ID, s.now())
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(msgNotFound)
	}
	if err != nil {
		return apperr.Wrap(err, "delete document")
	}
	if err := s.blobs.Delete(ctx, d.ObjectKey); err != nil {
		s.logger.Warn().Err(err).Str("object_key", d.ObjectKey).Msg("document object not removed")
	}
	return nil
}
