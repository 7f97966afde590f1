package affiliation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/curafile/curafile/internal/platform/apperr"
	"github.com/curafile/curafile/internal/platform/auth"
)

type allActive struct{}

func (allActive) IsIdentityActive(context.Context, uuid.UUID) (bool, error) { return true, nil }

type httpFixture struct {
	*fixture
	e      *echo.Echo
	signer *auth.Signer

	clinicToken, doctorToken string
	doctorRef                string
}

func newHTTPFixture(t *testing.T, slots int) *httpFixture {
	t.Helper()
	f := newFixture(slots)
	f.svc.now = time.Now
	hf := &httpFixture{fixture: f, signer: auth.NewSigner("test-secret", time.Hour)}

	clinicOwner, doctorIdentity := uuid.New(), uuid.New()
	doctorID, ref := f.addDoctor(1)
	hf.doctorRef = ref
	f.dir.byIdentity[clinicOwner] = f.clinic
	f.dir.byIdentity[doctorIdentity] = doctorID

	ledger := auth.NewLedger(auth.NewMemoryRevocationStore(), time.Hour, zerolog.Nop())
	authn := auth.NewAuthenticator(hf.signer, ledger, allActive{})
	hf.e = echo.New()
	hf.e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop())
	NewHandler(f.svc, f.dir, authn).RegisterRoutes(hf.e.Group("/api/v1"))

	hf.clinicToken = hf.issue(t, clinicOwner, auth.RoleClinicStaff)
	hf.doctorToken = hf.issue(t, doctorIdentity, auth.RoleDoctor)
	return hf
}

func (hf *httpFixture) issue(t *testing.T, id uuid.UUID, role auth.Role) string {
	t.Helper()
	tok, _, err := hf.signer.Issue(id, "user@example.com", role)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return tok
}

func (hf *httpFixture) do(method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	hf.e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_InviteAcceptCapacity(t *testing.T) {
	hf := newHTTPFixture(t, 1)

	rec := hf.do(http.MethodPost, "/api/v1/clinic/doctors/invite",
		`{"doctor":"`+hf.doctorRef+`","consultation_fee":350,"schedule":{"mon":["09:00-13:00"]}}`, hf.clinicToken)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var inv Affiliation
	if err := json.Unmarshal(rec.Body.Bytes(), &inv); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = hf.do(http.MethodGet, "/api/v1/doctor/invitations", "", hf.doctorToken)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), inv.ID.String()) {
		t.Fatalf("expected the invitation in the doctor's inbox, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = hf.do(http.MethodPost, "/api/v1/doctor/invitations/"+inv.ID.String()+"/respond", `{"decision":"accept"}`, hf.doctorToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on accept, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = hf.do(http.MethodGet, "/api/v1/clinic/capacity", "", hf.clinicToken)
	var c Capacity
	_ = json.Unmarshal(rec.Body.Bytes(), &c)
	if c.UsedSlots != 1 || c.Available != 0 {
		t.Errorf("unexpected capacity %+v", c)
	}

	_, other := hf.addDoctor(2)
	rec = hf.do(http.MethodPost, "/api/v1/clinic/doctors/invite", `{"doctor":"`+other+`"}`, hf.clinicToken)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when full, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "1/1 slots used") {
		t.Errorf("expected slot usage in the message, got %s", rec.Body.String())
	}
}

func TestHandler_DoctorLeaves(t *testing.T) {
	hf := newHTTPFixture(t, 2)
	doctorID := hf.dir.byRef[hf.doctorRef]
	inv := hf.invite(t, hf.doctorRef)
	hf.accept(t, doctorID, inv)

	rec := hf.do(http.MethodDelete, "/api/v1/doctor/clinics/"+inv.ID.String(), "", hf.doctorToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if used := hf.repo.used(hf.clinic); used != 0 {
		t.Errorf("expected slot released, got %d", used)
	}
}

func TestHandler_RoleSeparation(t *testing.T) {
	hf := newHTTPFixture(t, 1)

	rec := hf.do(http.MethodPost, "/api/v1/clinic/doctors/invite", `{"doctor":"`+hf.doctorRef+`"}`, hf.doctorToken)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for a doctor on clinic routes, got %d", rec.Code)
	}
	rec = hf.do(http.MethodGet, "/api/v1/doctor/invitations", "", hf.clinicToken)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for clinic staff on doctor routes, got %d", rec.Code)
	}
}

func TestHandler_BadStatusFilter(t *testing.T) {
	hf := newHTTPFixture(t, 1)

	rec := hf.do(http.MethodGet, "/api/v1/clinic/doctors?status=LOST", "", hf.clinicToken)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	rec = hf.do(http.MethodDelete, "/api/v1/clinic/invitations/nope", "", hf.clinicToken)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a malformed id, got %d", rec.Code)
	}
}
