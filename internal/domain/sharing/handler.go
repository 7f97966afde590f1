package sharing

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/curafile/curafile/internal/platform/apperr"
	"github.com/curafile/curafile/internal/platform/auth"
	"github.com/curafile/curafile/pkg/pagination"
)

type Handler struct {
	svc   *Service
	dir   Directory
	authn *auth.Authenticator
}

func NewHandler(svc *Service, dir Directory, authn *auth.Authenticator) *Handler {
	return &Handler{svc: svc, dir: dir, authn: authn}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/sharing")
	g.GET("/received", h.ListReceived, h.authn.Require(auth.RolePatient, auth.RoleDoctor, auth.RoleClinicStaff))

	owner := g.Group("", h.authn.Require(auth.RolePatient))
	owner.POST("", h.Grant)
	owner.GET("", h.ListGranted)
	owner.DELETE("/:id", h.Revoke)
}

// ownerID resolves the calling patient's profile id.
func (h *Handler) ownerID(c echo.Context) (uuid.UUID, error) {
	p, ok := auth.PrincipalFromContext(c.Request().Context())
	if !ok {
		return uuid.Nil, apperr.Unauthorized("no token provided")
	}
	req, err := RequesterFor(c.Request().Context(), h.dir, p)
	if err != nil {
		return uuid.Nil, err
	}
	return req.ProfileID, nil
}

func (h *Handler) Grant(c echo.Context) error {
	owner, err := h.ownerID(c)
	if err != nil {
		return err
	}
	var in GrantInput
	if err := c.Bind(&in); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	p, err := h.svc.Grant(c.Request().Context(), owner, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListGranted(c echo.Context) error {
	owner, err := h.ownerID(c)
	if err != nil {
		return err
	}
	includeInactive, _ := strconv.ParseBool(c.QueryParam("include_inactive"))
	perms, err := h.svc.ListGranted(c.Request().Context(), owner, includeInactive)
	if err != nil {
		return err
	}
	return page(c, perms)
}

func (h *Handler) Revoke(c echo.Context) error {
	owner, err := h.ownerID(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.BadRequest("invalid id")
	}
	if err := h.svc.Revoke(c.Request().Context(), owner, id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Permission revoked successfully"})
}

func (h *Handler) ListReceived(c echo.Context) error {
	p, ok := auth.PrincipalFromContext(c.Request().Context())
	if !ok {
		return apperr.Unauthorized("no token provided")
	}
	req, err := RequesterFor(c.Request().Context(), h.dir, p)
	if err != nil {
		return err
	}
	perms, err := h.svc.ListReceived(c.Request().Context(), req.Type, req.ProfileID)
	if err != nil {
		return err
	}
	return page(c, perms)
}

func page(c echo.Context, perms []*Permission) error {
	if perms == nil {
		perms = []*Permission{}
	}
	pg := pagination.FromContext(c)
	start, end := pg.Page(len(perms))
	return c.JSON(http.StatusOK, pagination.NewResponse(perms[start:end], len(perms), pg).WithLinks(c))
}
