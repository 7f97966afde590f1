package records

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/curafile/curafile/internal/domain/sharing"
	"github.com/curafile/curafile/internal/platform/apperr"
	"github.com/curafile/curafile/internal/platform/blobstore"
	"github.com/curafile/curafile/internal/platform/events"
)

type memRepo struct {
	mu        sync.Mutex
	docs      map[uuid.UUID]*Document
	deleted   map[uuid.UUID]bool
	createErr error
}

func newMemRepo() *memRepo {
	return &memRepo{docs: make(map[uuid.UUID]*Document), deleted: make(map[uuid.UUID]bool)}
}

func (m *memRepo) Create(_ context.Context, d *Document) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.docs[d.ID] = &cp
	return nil
}

func (m *memRepo) Get(_ context.Context, id uuid.UUID) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok || m.deleted[id] {
		return nil, pgx.ErrNoRows
	}
	cp := *d
	return &cp, nil
}

func (m *memRepo) ListByOwner(_ context.Context, ownerID uuid.UUID, types []sharing.RecordType) ([]*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Document
	for id, d := range m.docs {
		if d.OwnerPatientID != ownerID || m.deleted[id] {
			continue
		}
		if len(types) > 0 && !containsType(types, d.RecordType) {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func containsType(types []sharing.RecordType, t sharing.RecordType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func (m *memRepo) SoftDelete(_ context.Context, id uuid.UUID, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok || m.deleted[id] {
		return pgx.ErrNoRows
	}
	m.deleted[id] = true
	return nil
}

// fakeAccess holds grants keyed by recipient profile id.
type fakeAccess struct {
	grants map[uuid.UUID][]*sharing.Permission
}

func (f *fakeAccess) grant(recipient uuid.UUID, t sharing.RecordType, canView, canDownload bool) {
	if f.grants == nil {
		f.grants = make(map[uuid.UUID][]*sharing.Permission)
	}
	f.grants[recipient] = append(f.grants[recipient], &sharing.Permission{
		ID: uuid.New(), RecordType: t, CanView: canView, CanDownload: canDownload,
	})
}

func (f *fakeAccess) pick(req sharing.Requester, t sharing.RecordType) *sharing.Permission {
	var fallback *sharing.Permission
	for _, p := range f.grants[req.ProfileID] {
		if p.RecordType == t {
			return p
		}
		if p.RecordType == sharing.RecordAll {
			fallback = p
		}
	}
	return fallback
}

func (f *fakeAccess) CheckAccess(_ context.Context, _ uuid.UUID, req sharing.Requester, t sharing.RecordType) (*sharing.Permission, error) {
	p := f.pick(req, t)
	if p == nil || !p.CanView {
		return nil, apperr.Forbidden("You do not have permission to access these records")
	}
	return p, nil
}

func (f *fakeAccess) CheckDownload(_ context.Context, _ uuid.UUID, req sharing.Requester, t sharing.RecordType) (*sharing.Permission, error) {
	p := f.pick(req, t)
	if p == nil || !p.CanDownload {
		return nil, apperr.Forbidden("Your permission does not allow downloading these records")
	}
	return p, nil
}

type fixture struct {
	svc    *Service
	repo   *memRepo
	blobs  *blobstore.MemoryStore
	access *fakeAccess
	events *events.Recorder
	owner  uuid.UUID
	doctor sharing.Requester
	now    time.Time
}

func newFixture() *fixture {
	f := &fixture{
		repo:   newMemRepo(),
		blobs:  blobstore.NewMemoryStore(),
		access: &fakeAccess{},
		events: &events.Recorder{},
		owner:  uuid.New(),
		doctor: sharing.Requester{Type: sharing.RecipientDoctor, ProfileID: uuid.New()},
		now:    time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.repo, f.blobs, f.access, f.events, zerolog.Nop())
	f.svc.now = func() time.Time {
		f.now = f.now.Add(time.Second)
		return f.now
	}
	return f
}

func (f *fixture) upload(t *testing.T, rt sharing.RecordType, body string) *Document {
	t.Helper()
	d, err := f.svc.Upload(context.Background(), f.owner, uuid.New(), UploadInput{
		RecordType:  rt,
		FileName:    "report.pdf",
		ContentType: "application/pdf",
		Size:        int64(len(body)),
		Body:        strings.NewReader(body),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return d
}

func TestUpload_StoresBytesAndChecksum(t *testing.T) {
	f := newFixture()
	body := "%PDF-1.4 blood panel"
	d := f.upload(t, sharing.RecordLabResults, body)

	sum := sha256.Sum256([]byte(body))
	if d.SHA256 != hex.EncodeToString(sum[:]) {
		t.Errorf("unexpected checksum %s", d.SHA256)
	}
	if d.Title != "report.pdf" {
		t.Errorf("expected title to default to the file name, got %q", d.Title)
	}
	if !strings.HasPrefix(d.ObjectKey, "patients/"+f.owner.String()+"/lab_results/") {
		t.Errorf("unexpected object key %s", d.ObjectKey)
	}
	if f.blobs.Len() != 1 {
		t.Errorf("expected 1 stored object, got %d", f.blobs.Len())
	}
	if got := f.events.Types(); len(got) != 1 || got[0] != events.RecordUploaded {
		t.Errorf("unexpected events %v", got)
	}
}

func TestUpload_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   UploadInput
	}{
		{name: "grant-only type", in: UploadInput{RecordType: sharing.RecordAll, ContentType: "application/pdf", Size: 1, Body: strings.NewReader("x")}},
		{name: "structured-only type", in: UploadInput{RecordType: sharing.RecordVaccinations, ContentType: "application/pdf", Size: 1, Body: strings.NewReader("x")}},
		{name: "unknown type", in: UploadInput{RecordType: "XRAYS", ContentType: "application/pdf", Size: 1, Body: strings.NewReader("x")}},
		{name: "no body", in: UploadInput{RecordType: sharing.RecordPrescriptions, ContentType: "application/pdf"}},
		{name: "bad content type", in: UploadInput{RecordType: sharing.RecordPrescriptions, ContentType: "application/x-msdownload", Size: 1, Body: strings.NewReader("x")}},
		{name: "too large", in: UploadInput{RecordType: sharing.RecordPrescriptions, ContentType: "application/pdf", Size: blobstore.MaxFileSize + 1, Body: strings.NewReader("x")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.svc.Upload(context.Background(), f.owner, uuid.New(), tt.in)
			if !apperr.Is(err, apperr.KindBadRequest) {
				t.Fatalf("expected bad request, got %v", err)
			}
			if f.blobs.Len() != 0 {
				t.Error("expected nothing stored")
			}
		})
	}
}

func TestUpload_RemovesObjectWhenMetadataFails(t *testing.T) {
	f := newFixture()
	f.repo.createErr = errors.New("connection reset")

	_, err := f.svc.Upload(context.Background(), f.owner, uuid.New(), UploadInput{
		RecordType: sharing.RecordConsultations, ContentType: "text/plain", Size: 4, Body: strings.NewReader("note"),
	})
	if !apperr.Is(err, apperr.KindInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if f.blobs.Len() != 0 {
		t.Errorf("expected the orphaned object to be removed, got %d objects", f.blobs.Len())
	}
}

func TestListOwn(t *testing.T) {
	f := newFixture()
	f.upload(t, sharing.RecordLabResults, "a")
	f.upload(t, sharing.RecordPrescriptions, "b")

	all, err := f.svc.ListOwn(context.Background(), f.owner, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 documents, got %d (%v)", len(all), err)
	}
	if !all[0].CreatedAt.After(all[1].CreatedAt) {
		t.Error("expected newest first")
	}
	labs, _ := f.svc.ListOwn(context.Background(), f.owner, "lab_results")
	if len(labs) != 1 || labs[0].RecordType != sharing.RecordLabResults {
		t.Errorf("unexpected filtered list %+v", labs)
	}
	if _, err := f.svc.ListOwn(context.Background(), f.owner, "ALL"); !apperr.Is(err, apperr.KindBadRequest) {
		t.Errorf("expected ALL to be rejected as a filter, got %v", err)
	}
}

func TestListShared_FollowsGrants(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.upload(t, sharing.RecordLabResults, "a")
	f.upload(t, sharing.RecordPrescriptions, "b")

	if _, err := f.svc.ListShared(ctx, f.owner, f.doctor, ""); !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected forbidden without a grant, got %v", err)
	}

	f.access.grant(f.doctor.ProfileID, sharing.RecordLabResults, true, false)
	docs, err := f.svc.ListShared(ctx, f.owner, f.doctor, "")
	if err != nil {
		t.Fatalf("list shared: %v", err)
	}
	if len(docs) != 1 || docs[0].RecordType != sharing.RecordLabResults {
		t.Errorf("expected only lab results, got %+v", docs)
	}
	if _, err := f.svc.ListShared(ctx, f.owner, f.doctor, "PRESCRIPTIONS"); !apperr.Is(err, apperr.KindForbidden) {
		t.Errorf("expected forbidden for an ungranted type, got %v", err)
	}

	f.access.grant(f.doctor.ProfileID, sharing.RecordAll, true, true)
	docs, _ = f.svc.ListShared(ctx, f.owner, f.doctor, "")
	if len(docs) != 2 {
		t.Errorf("expected ALL grant to reveal both documents, got %d", len(docs))
	}
}

func TestDownloadShared(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := f.upload(t, sharing.RecordLabResults, "a")

	f.access.grant(f.doctor.ProfileID, sharing.RecordLabResults, true, false)
	if _, err := f.svc.DownloadShared(ctx, f.owner, f.doctor, d.ID); !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected view-only grant to block download, got %v", err)
	}

	other := sharing.Requester{Type: sharing.RecipientClinic, ProfileID: uuid.New()}
	f.access.grant(other.ProfileID, sharing.RecordAll, true, true)
	dl, err := f.svc.DownloadShared(ctx, f.owner, other, d.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if !strings.Contains(dl.URL, d.ObjectKey) || dl.FileName != "report.pdf" {
		t.Errorf("unexpected download %+v", dl)
	}

	if _, err := f.svc.DownloadShared(ctx, uuid.New(), other, d.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected a document of another owner to be not found, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := f.upload(t, sharing.RecordMedicalDocuments, "scan")

	if err := f.svc.Delete(ctx, uuid.New(), d.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found for another owner, got %v", err)
	}
	if err := f.svc.Delete(ctx, f.owner, d.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if f.blobs.Len() != 0 {
		t.Error("expected object removed")
	}
	if _, err := f.svc.DownloadOwn(ctx, f.owner, d.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected deleted document to be gone, got %v", err)
	}
}
