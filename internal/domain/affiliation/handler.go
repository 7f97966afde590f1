package affiliation

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
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
	clinic := api.Group("/clinic", h.authn.Require(auth.RoleClinicStaff))
	clinic.POST("/doctors/invite", h.Invite)
	clinic.GET("/doctors", h.ListClinicDoctors)
	clinic.DELETE("/doctors/:id", h.RemoveDoctor)
	clinic.PUT("/doctors/:id/terms", h.UpdateTerms)
	clinic.DELETE("/invitations/:id", h.CancelInvitation)
	clinic.GET("/capacity", h.Capacity)

	doctor := api.Group("/doctor", h.authn.Require(auth.RoleDoctor))
	doctor.GET("/invitations", h.ListInvitations)
	doctor.POST("/invitations/:id/respond", h.Respond)
	doctor.GET("/clinics", h.ListClinics)
	doctor.DELETE("/clinics/:id", h.LeaveClinic)
}

func (h *Handler) callerProfile(c echo.Context, lookup func(context.Context, uuid.UUID) (uuid.UUID, error), notFound string) (uuid.UUID, error) {
	p, ok := auth.PrincipalFromContext(c.Request().Context())
	if !ok {
		return uuid.Nil, apperr.Unauthorized("no token provided")
	}
	id, err := lookup(c.Request().Context(), p.IdentityID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, apperr.NotFound(notFound)
	}
	if err != nil {
		return uuid.Nil, apperr.Wrap(err, "resolve caller profile")
	}
	return id, nil
}

func (h *Handler) clinicID(c echo.Context) (uuid.UUID, error) {
	return h.callerProfile(c, h.dir.ClinicIDByOwner, "Clinic not found")
}

func (h *Handler) doctorID(c echo.Context) (uuid.UUID, error) {
	return h.callerProfile(c, h.dir.DoctorProfileID, "Doctor not found")
}

func paramID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.BadRequest("invalid id")
	}
	return id, nil
}

func page(c echo.Context, items []*Affiliation) error {
	if items == nil {
		items = []*Affiliation{}
	}
	pg := pagination.FromContext(c)
	start, end := pg.Page(len(items))
	return c.JSON(http.StatusOK, pagination.NewResponse(items[start:end], len(items), pg).WithLinks(c))
}

// -- Clinic side --

func (h *Handler) Invite(c echo.Context) error {
	clinicID, err := h.clinicID(c)
	if err != nil {
		return err
	}
	var in InviteInput
	if err := c.Bind(&in); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	a, err := h.svc.Invite(c.Request().Context(), clinicID, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) ListClinicDoctors(c echo.Context) error {
	clinicID, err := h.clinicID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListForClinic(c.Request().Context(), clinicID, c.QueryParam("status"))
	if err != nil {
		return err
	}
	return page(c, items)
}

func (h *Handler) RemoveDoctor(c echo.Context) error {
	clinicID, err := h.clinicID(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Remove(c.Request().Context(), clinicID, id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Doctor removed from clinic"})
}

func (h *Handler) CancelInvitation(c echo.Context) error {
	clinicID, err := h.clinicID(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Cancel(c.Request().Context(), clinicID, id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Invitation cancelled"})
}

func (h *Handler) UpdateTerms(c echo.Context) error {
	clinicID, err := h.clinicID(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var t Terms
	if err := c.Bind(&t); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	a, err := h.svc.UpdateTerms(c.Request().Context(), clinicID, id, t)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Capacity(c echo.Context) error {
	clinicID, err := h.clinicID(c)
	if err != nil {
		return err
	}
	capacity, err := h.svc.Capacity(c.Request().Context(), clinicID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, capacity)
}

// -- Doctor side --

func (h *Handler) ListInvitations(c echo.Context) error {
	doctorID, err := h.doctorID(c)
	if err != nil {
		return err
	}
	status := c.QueryParam("status")
	if status == "" {
		status = string(StatusPending)
	}
	items, err := h.svc.ListForDoctor(c.Request().Context(), doctorID, status)
	if err != nil {
		return err
	}
	return page(c, items)
}

func (h *Handler) ListClinics(c echo.Context) error {
	doctorID, err := h.doctorID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListForDoctor(c.Request().Context(), doctorID, string(StatusAccepted))
	if err != nil {
		return err
	}
	return page(c, items)
}

type respondRequest struct {
	Decision Decision `json:"decision"`
}

func (h *Handler) Respond(c echo.Context) error {
	doctorID, err := h.doctorID(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req respondRequest
	if err := c.Bind(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	a, err := h.svc.Respond(c.Request().Context(), doctorID, id, req.Decision)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) LeaveClinic(c echo.Context) error {
	doctorID, err := h.doctorID(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Leave(c.Request().Context(), doctorID, id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "You have left the clinic"})
}
