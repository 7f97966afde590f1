package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/curafile/curafile/internal/platform/apperr"
)

// SessionHandler exposes logout endpoints backed by the ledger.
type SessionHandler struct {
	ledger *Ledger
	authn  *Authenticator
}

func NewSessionHandler(ledger *Ledger, authn *Authenticator) *SessionHandler {
	return &SessionHandler{ledger: ledger, authn: authn}
}

// RegisterRoutes registers session endpoints. Any authenticated role may call them.
func (h *SessionHandler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/auth", h.authn.Require())
	g.POST("/logout", h.Logout)
	g.POST("/logout-all", h.LogoutAll)
}

func (h *SessionHandler) Logout(c echo.Context) error {
	p, ok := PrincipalFromContext(c.Request().Context())
	if !ok {
		return apperr.Unauthorized(msgNoToken)
	}
	if err := h.ledger.RecordSingleLogout(c.Request().Context(), p.IdentityID, p.Token); err != nil {
		return apperr.Wrap(err, "logout")
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (h *SessionHandler) LogoutAll(c echo.Context) error {
	p, ok := PrincipalFromContext(c.Request().Context())
	if !ok {
		return apperr.Unauthorized(msgNoToken)
	}
	if err := h.ledger.RecordAllDevicesLogout(c.Request().Context(), p.IdentityID); err != nil {
		return apperr.Wrap(err, "logout all devices")
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Logged out from all devices"})
}
