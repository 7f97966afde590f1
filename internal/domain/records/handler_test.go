package records

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/curafile/curafile/internal/domain/sharing"
	"github.com/curafile/curafile/internal/platform/apperr"
	"github.com/curafile/curafile/internal/platform/auth"
)

type allActive struct{}

func (allActive) IsIdentityActive(context.Context, uuid.UUID) (bool, error) { return true, nil }

// fakeDirectory maps identities to profiles for every role at once.
type fakeDirectory struct {
	patients map[uuid.UUID]uuid.UUID
	doctors  map[uuid.UUID]uuid.UUID
	public   map[string]uuid.UUID
}

func lookup(m map[uuid.UUID]uuid.UUID, id uuid.UUID) (uuid.UUID, error) {
	if v, ok := m[id]; ok {
		return v, nil
	}
	return uuid.Nil, pgx.ErrNoRows
}

func (d *fakeDirectory) PatientProfileID(_ context.Context, id uuid.UUID) (uuid.UUID, error) {
	return lookup(d.patients, id)
}

func (d *fakeDirectory) DoctorProfileID(_ context.Context, id uuid.UUID) (uuid.UUID, error) {
	return lookup(d.doctors, id)
}

func (d *fakeDirectory) ClinicIDByOwner(context.Context, uuid.UUID) (uuid.UUID, error) {
	return uuid.Nil, pgx.ErrNoRows
}

func (d *fakeDirectory) PatientIDByPublicID(_ context.Context, publicID string) (uuid.UUID, error) {
	if v, ok := d.public[publicID]; ok {
		return v, nil
	}
	return uuid.Nil, pgx.ErrNoRows
}

func (d *fakeDirectory) DoctorIDByPublicID(context.Context, string) (uuid.UUID, error) {
	return uuid.Nil, pgx.ErrNoRows
}

func (d *fakeDirectory) ClinicIDByPublicID(context.Context, string) (uuid.UUID, error) {
	return uuid.Nil, pgx.ErrNoRows
}

type httpFixture struct {
	*fixture
	e                    *echo.Echo
	patient, doctorToken string
}

func newHTTPFixture(t *testing.T) *httpFixture {
	t.Helper()
	f := newFixture()
	f.svc.now = time.Now
	patientIdentity, doctorIdentity := uuid.New(), uuid.New()
	dir := &fakeDirectory{
		patients: map[uuid.UUID]uuid.UUID{patientIdentity: f.owner},
		doctors:  map[uuid.UUID]uuid.UUID{doctorIdentity: f.doctor.ProfileID},
		public:   map[string]uuid.UUID{"PAT-OWNER001": f.owner},
	}

	signer := auth.NewSigner("test-secret", time.Hour)
	ledger := auth.NewLedger(auth.NewMemoryRevocationStore(), time.Hour, zerolog.Nop())
	authn := auth.NewAuthenticator(signer, ledger, allActive{})

	hf := &httpFixture{fixture: f, e: echo.New()}
	hf.e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop())
	NewHandler(f.svc, dir, authn).RegisterRoutes(hf.e.Group("/api/v1"))

	var err error
	if hf.patient, _, err = signer.Issue(patientIdentity, "pat@example.com", auth.RolePatient); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if hf.doctorToken, _, err = signer.Issue(doctorIdentity, "doc@example.com", auth.RoleDoctor); err != nil {
		t.Fatalf("issue: %v", err)
	}
	return hf
}

func (hf *httpFixture) get(path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	hf.e.ServeHTTP(rec, req)
	return rec
}

func (hf *httpFixture) uploadForm(t *testing.T, recordType, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("record_type", recordType)
	_ = w.WriteField("title", "March blood panel")
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="panel.pdf"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	_, _ = part.Write(data)
	_ = w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/records", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+hf.patient)
	rec := httptest.NewRecorder()
	hf.e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_UploadAndShare(t *testing.T) {
	hf := newHTTPFixture(t)

	rec := hf.uploadForm(t, "LAB_RESULTS", "application/pdf", []byte("%PDF-1.4"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var d Document
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Title != "March blood panel" || d.FileName != "panel.pdf" || d.SizeBytes != 8 {
		t.Errorf("unexpected document %+v", d)
	}

	rec = hf.get("/api/v1/records", hf.patient)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = hf.get("/api/v1/patients/PAT-OWNER001/records", hf.doctorToken)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without a grant, got %d", rec.Code)
	}

	hf.access.grant(hf.doctor.ProfileID, sharing.RecordAll, true, true)
	rec = hf.get("/api/v1/patients/pat-owner001/records?type=LAB_RESULTS", hf.doctorToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with a grant, got %d: %s", rec.Code, rec.Body.String())
	}
	var page struct {
		Total int `json:"total"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 1 {
		t.Errorf("expected 1 shared record, got %d", page.Total)
	}

	rec = hf.get("/api/v1/patients/PAT-OWNER001/records/"+d.ID.String()+"/download", hf.doctorToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on download, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_UploadRejectsType(t *testing.T) {
	hf := newHTTPFixture(t)

	rec := hf.uploadForm(t, "LAB_RESULTS", "application/zip", []byte("PK"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a disallowed content type, got %d", rec.Code)
	}
	rec = hf.uploadForm(t, "ALL", "application/pdf", []byte("%PDF"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for ALL, got %d", rec.Code)
	}
}

func TestHandler_OwnerViaPatientPath(t *testing.T) {
	hf := newHTTPFixture(t)
	hf.uploadForm(t, "PRESCRIPTIONS", "application/pdf", []byte("%PDF"))

	rec := hf.get("/api/v1/patients/PAT-OWNER001/records", hf.patient)
	if rec.Code != http.StatusOK {
		t.Errorf("expected the owner to read their own records, got %d", rec.Code)
	}
	rec = hf.get("/api/v1/patients/PAT-NOBODY00/records", hf.doctorToken)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown patient, got %d", rec.Code)
	}
}

func TestHandler_DoctorCannotUpload(t *testing.T) {
	hf := newHTTPFixture(t)
	rec := hf.get("/api/v1/records", hf.doctorToken)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for a doctor on owner routes, got %d", rec.Code)
	}
}
