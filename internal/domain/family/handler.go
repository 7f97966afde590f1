package family

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/curafile/curafile/internal/platform/apperr"
	"github.com/curafile/curafile/internal/platform/auth"
)

// CallerDirectory resolves the signed-in patient's profile.
type CallerDirectory interface {
	PatientProfileID(ctx context.Context, identityID uuid.UUID) (uuid.UUID, error)
}

type Handler struct {
	svc   *Service
	dir   CallerDirectory
	authn *auth.Authenticator
}

func NewHandler(svc *Service, dir CallerDirectory, authn *auth.Authenticator) *Handler {
	return &Handler{svc: svc, dir: dir, authn: authn}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/family", h.authn.Require(auth.RolePatient))
	g.POST("", h.Add)
	g.GET("", h.List)
	g.PATCH("/:relationId", h.UpdatePermissions)
	g.DELETE("/:relationId", h.Remove)
}

func (h *Handler) primary(c echo.Context) (uuid.UUID, error) {
	p, ok := auth.PrincipalFromContext(c.Request().Context())
	if !ok {
		return uuid.Nil, apperr.Unauthorized("no token provided")
	}
	id, err := h.dir.PatientProfileID(c.Request().Context(), p.IdentityID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, apperr.NotFound("Patient profile not found")
	}
	if err != nil {
		return uuid.Nil, apperr.Wrap(err, "resolve patient")
	}
	return id, nil
}

func relationID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("relationId"))
	if err != nil {
		return uuid.Nil, apperr.BadRequest("invalid relation id")
	}
	return id, nil
}

func (h *Handler) Add(c echo.Context) error {
	primaryID, err := h.primary(c)
	if err != nil {
		return err
	}
	var req AddInput
	if err := c.Bind(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	rel, err := h.svc.Add(c.Request().Context(), primaryID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rel)
}

func (h *Handler) List(c echo.Context) error {
	primaryID, err := h.primary(c)
	if err != nil {
		return err
	}
	rels, err := h.svc.List(c.Request().Context(), primaryID)
	if err != nil {
		return err
	}
	if rels == nil {
		rels = []*Relation{}
	}
	return c.JSON(http.StatusOK, rels)
}

func (h *Handler) UpdatePermissions(c echo.Context) error {
	primaryID, err := h.primary(c)
	if err != nil {
		return err
	}
	id, err := relationID(c)
	if err != nil {
		return err
	}
	var req PermissionsInput
	if err := c.Bind(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if _, err := h.svc.UpdatePermissions(c.Request().Context(), primaryID, id, req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Family member permissions updated successfully"})
}

func (h *Handler) Remove(c echo.Context) error {
	primaryID, err := h.primary(c)
	if err != nil {
		return err
	}
	id, err := relationID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Remove(c.Request().Context(), primaryID, id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Family member removed successfully"})
}
