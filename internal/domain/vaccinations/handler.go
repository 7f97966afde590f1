package vaccinations

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/curafile/curafile/internal/domain/sharing"
	"github.com/curafile/curafile/internal/platform/apperr"
	"github.com/curafile/curafile/internal/platform/auth"
)

type Handler struct {
	svc   *Service
	dir   sharing.Directory
	authn *auth.Authenticator
}

func NewHandler(svc *Service, dir sharing.Directory, authn *auth.Authenticator) *Handler {
	return &Handler{svc: svc, dir: dir, authn: authn}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	own := api.Group("/vaccinations", h.authn.Require(auth.RolePatient))
	own.POST("", h.Create)
	own.GET("", h.List)
	own.PATCH("/:recordId", h.Update)
	own.DELETE("/:recordId", h.Delete)

	api.GET("/patients/:patientId/vaccinations", h.ListShared,
		h.authn.Require(auth.RolePatient, auth.RoleDoctor, auth.RoleClinicStaff))
}

func (h *Handler) requester(c echo.Context) (sharing.Requester, error) {
	p, ok := auth.PrincipalFromContext(c.Request().Context())
	if !ok {
		return sharing.Requester{}, apperr.Unauthorized("no token provided")
	}
	return sharing.RequesterFor(c.Request().Context(), h.dir, p)
}

func (h *Handler) owner(c echo.Context) (uuid.UUID, error) {
	req, err := h.requester(c)
	return req.ProfileID, err
}

func recordID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("recordId"))
	if err != nil {
		return uuid.Nil, apperr.BadRequest("invalid record id")
	}
	return id, nil
}

func bind(c echo.Context) (Input, error) {
	var in Input
	if err := c.Bind(&in); err != nil {
		return in, apperr.BadRequest("invalid request body")
	}
	return in, nil
}

func list(c echo.Context, recs []*Record) error {
	if recs == nil {
		recs = []*Record{}
	}
	return c.JSON(http.StatusOK, recs)
}

func (h *Handler) Create(c echo.Context) error {
	ownerID, err := h.owner(c)
	if err != nil {
		return err
	}
	in, err := bind(c)
	if err != nil {
		return err
	}
	r, err := h.svc.Create(c.Request().Context(), ownerID, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) List(c echo.Context) error {
	ownerID, err := h.owner(c)
	if err != nil {
		return err
	}
	recs, err := h.svc.List(c.Request().Context(), ownerID)
	if err != nil {
		return err
	}
	return list(c, recs)
}

func (h *Handler) Update(c echo.Context) error {
	ownerID, err := h.owner(c)
	if err != nil {
		return err
	}
	id, err := recordID(c)
	if err != nil {
		return err
	}
	in, err := bind(c)
	if err != nil {
		return err
	}
	r, err := h.svc.Update(c.Request().Context(), ownerID, id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Vaccination record updated successfully",
		"record":  r,
	})
}

func (h *Handler) Delete(c echo.Context) error {
	ownerID, err := h.owner(c)
	if err != nil {
		return err
	}
	id, err := recordID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), ownerID, id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Vaccination record deleted successfully"})
}

// ListShared serves another party's history. A patient addressing their own
// public id reads it directly.
func (h *Handler) ListShared(c echo.Context) error {
	req, err := h.requester(c)
	if err != nil {
		return err
	}
	ownerID, err := h.dir.PatientIDByPublicID(c.Request().Context(), strings.ToUpper(c.Param("patientId")))
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("Patient not found")
	}
	if err != nil {
		return apperr.Wrap(err, "resolve patient")
	}

	var recs []*Record
	if req.Type == sharing.RecipientFamilyMember && req.ProfileID == ownerID {
		recs, err = h.svc.List(c.Request().Context(), ownerID)
	} else {
		recs, err = h.svc.ListShared(c.Request().Context(), ownerID, req)
	}
	if err != nil {
		return err
	}
	return list(c, recs)
}
