package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestKinds(t *testing.T) {
	tests := []struct {
		err    error
		kind   Kind
		status int
	}{
		{BadRequest("bad"), KindBadRequest, http.StatusBadRequest},
		{Unauthorized("who"), KindUnauthorized, http.StatusUnauthorized},
		{Forbidden("no"), KindForbidden, http.StatusForbidden},
		{NotFound("gone"), KindNotFound, http.StatusNotFound},
		{Conflict("dup"), KindConflict, http.StatusConflict},
		{errors.New("db down"), KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.kind {
			t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.kind)
		}
		if got := KindOf(tt.err).Status(); got != tt.status {
			t.Errorf("status for %v = %d, want %d", tt.err, got, tt.status)
		}
	}
}

func TestFormattedMessage(t *testing.T) {
	err := Forbidden("You have %d/%d slots used", 2, 2)
	if MessageOf(err) != "You have 2/2 slots used" {
		t.Errorf("unexpected message %q", MessageOf(err))
	}
}

func TestWrap_KeepsKind(t *testing.T) {
	inner := Conflict("duplicate")
	wrapped := fmt.Errorf("grant: %w", inner)
	if !Is(wrapped, KindConflict) {
		t.Error("expected wrapped error to keep its kind")
	}
	if Wrap(inner, "ignored") != inner {
		t.Error("expected Wrap to return kinded errors unchanged")
	}
	if Wrap(nil, "x") != nil {
		t.Error("expected Wrap(nil) to be nil")
	}
}

func TestWrap_HidesInternalMessage(t *testing.T) {
	cause := errors.New("connection refused to 10.0.0.5")
	err := Wrap(cause, "load identity")
	if !errors.Is(err, cause) {
		t.Error("expected cause to be preserved for logging")
	}
	if MessageOf(err) != "internal server error" {
		t.Errorf("expected generic message, got %q", MessageOf(err))
	}
}

func serve(err error) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "req-1")
	HTTPErrorHandler(zerolog.Nop())(err, c)
	return rec
}

func TestHTTPErrorHandler_Kinded(t *testing.T) {
	rec := serve(Conflict("Doctor is already affiliated with this clinic"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body Response
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "Conflict" || body.Message != "Doctor is already affiliated with this clinic" || body.RequestID != "req-1" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestHTTPErrorHandler_Internal(t *testing.T) {
	rec := serve(errors.New("pq: relation does not exist"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body Response
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Message != "internal server error" {
		t.Errorf("internal detail leaked: %q", body.Message)
	}
}

func TestHTTPErrorHandler_EchoError(t *testing.T) {
	rec := serve(echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	var body Response
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Message != "rate limit exceeded" {
		t.Errorf("unexpected message %q", body.Message)
	}
}

func TestHTTPErrorHandler_TooManyRequestsName(t *testing.T) {
	rec := serve(echo.NewHTTPError(http.StatusTooManyRequests, "slow down"))
	var body Response
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Error != "TooManyRequests" {
		t.Errorf("expected TooManyRequests, got %q", body.Error)
	}
}
