package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/curafile/curafile/internal/platform/auth"
)

// AuditEntry records one access to medical records or to the grants that
// expose them.
type AuditEntry struct {
	IdentityID string
	Role       string
	PatientRef string
	Action     string
	Path       string
	Method     string
	IPAddress  string
	UserAgent  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// AuditRecorder persists audit entries somewhere other than the log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every request that touches records or sharing grants, after
// the handler has run. Principals are read from the request context, so the
// middleware sees callers that route-level auth attached.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			req := c.Request()
			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				status = statusOf(err)
			}
			entry := AuditEntry{
				IdentityID: auth.IdentityIDFromContext(req.Context()),
				Role:       string(auth.RoleFromContext(req.Context())),
				PatientRef: c.Param("patientId"),
				Action:     auditAction(req.Method, path),
				Path:       path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: status,
				Timestamp:  time.Now().UTC(),
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "records_audit").
				Str("request_id", entry.RequestID).
				Str("identity_id", entry.IdentityID).
				Str("role", entry.Role).
				Str("patient", entry.PatientRef).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("records_access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	if !strings.HasPrefix(path, "/api/v1/") {
		return false
	}
	rest := strings.TrimPrefix(path, "/api/v1/")
	return strings.HasPrefix(rest, "records") ||
		strings.HasPrefix(rest, "vaccinations") ||
		strings.HasPrefix(rest, "sharing") ||
		(strings.HasPrefix(rest, "patients/") &&
			(strings.Contains(rest, "/records") || strings.HasSuffix(rest, "/vaccinations")))
}

// auditAction names what the request did to records or grants.
func auditAction(method, path string) string {
	sharing := strings.HasPrefix(path, "/api/v1/sharing")
	switch {
	case strings.HasSuffix(path, "/download"):
		return "download"
	case method == http.MethodPost && sharing:
		return "grant"
	case method == http.MethodDelete && sharing:
		return "revoke"
	case method == http.MethodPost:
		return "upload"
	case method == http.MethodDelete:
		return "delete"
	case method == http.MethodPatch || method == http.MethodPut:
		return "update"
	default:
		return "list"
	}
}
