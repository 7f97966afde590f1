package family

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/curafile/curafile/internal/platform/apperr"
	"github.com/curafile/curafile/internal/platform/auth"
)

type allActive struct{}

func (allActive) IsIdentityActive(context.Context, uuid.UUID) (bool, error) { return true, nil }

type callerDirectory map[uuid.UUID]uuid.UUID

func (d callerDirectory) PatientProfileID(_ context.Context, identityID uuid.UUID) (uuid.UUID, error) {
	if id, ok := d[identityID]; ok {
		return id, nil
	}
	return uuid.Nil, pgx.ErrNoRows
}

func newTestServer(t *testing.T, f *fixture) (*echo.Echo, string) {
	t.Helper()
	identityID := uuid.New()
	signer := auth.NewSigner("test-secret", time.Hour)
	ledger := auth.NewLedger(auth.NewMemoryRevocationStore(), time.Hour, zerolog.Nop())
	authn := auth.NewAuthenticator(signer, ledger, allActive{})

	e := echo.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop())
	NewHandler(f.svc, callerDirectory{identityID: f.primary}, authn).RegisterRoutes(e.Group("/api/v1"))

	token, _, err := signer.Issue(identityID, "asha@example.com", auth.RolePatient)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return e, token
}

func do(e *echo.Echo, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_FamilyLifecycle(t *testing.T) {
	f := newFixture()
	e, token := newTestServer(t, f)

	rec := do(e, http.MethodPost, "/api/v1/family",
		`{"family_member_patient_id":"PAT-SIBLING1","relationship":"Brother"}`, token)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var rel Relation
	if err := json.Unmarshal(rec.Body.Bytes(), &rel); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rel.CanViewMedicalRecords || rel.CanBookAppointments {
		t.Errorf("permissions should default to false, got %+v", rel)
	}

	rec = do(e, http.MethodPatch, "/api/v1/family/"+rel.ID.String(), `{"can_view_medical_records":true}`, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on patch, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodGet, "/api/v1/family", "", token)
	if !strings.Contains(rec.Body.String(), `"can_view_medical_records":true`) {
		t.Errorf("expected the updated flag in the list, got %s", rec.Body.String())
	}

	rec = do(e, http.MethodDelete, "/api/v1/family/not-a-uuid", "", token)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a malformed id, got %d", rec.Code)
	}
	rec = do(e, http.MethodDelete, "/api/v1/family/"+rel.ID.String(), "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d", rec.Code)
	}
}
