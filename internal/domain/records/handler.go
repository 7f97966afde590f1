package records

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
	"github.com/curafile/curafile/pkg/pagination"
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
	own := api.Group("/records", h.authn.Require(auth.RolePatient))
	own.POST("", h.Upload)
	own.GET("", h.ListOwn)
	own.GET("/:id/download", h.DownloadOwn)
	own.DELETE("/:id", h.Delete)

	shared := api.Group("/patients/:patientId/records", h.authn.Require(auth.RolePatient, auth.RoleDoctor, auth.RoleClinicStaff))
	shared.GET("", h.ListShared)
	shared.GET("/:id/download", h.DownloadShared)
}

func (h *Handler) requester(c echo.Context) (sharing.Requester, auth.Principal, error) {
	p, ok := auth.PrincipalFromContext(c.Request().Context())
	if !ok {
		return sharing.Requester{}, p, apperr.Unauthorized("no token provided")
	}
	req, err := sharing.RequesterFor(c.Request().Context(), h.dir, p)
	return req, p, err
}

// owner resolves the calling patient's profile id.
func (h *Handler) owner(c echo.Context) (uuid.UUID, auth.Principal, error) {
	req, p, err := h.requester(c)
	return req.ProfileID, p, err
}

func (h *Handler) patientParam(c echo.Context) (uuid.UUID, error) {
	id, err := h.dir.PatientIDByPublicID(c.Request().Context(), strings.ToUpper(c.Param("patientId")))
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, apperr.NotFound("Patient not found")
	}
	if err != nil {
		return uuid.Nil, apperr.Wrap(err, "resolve patient")
	}
	return id, nil
}

func docID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.BadRequest("invalid id")
	}
	return id, nil
}

func page(c echo.Context, items []*Document) error {
	if items == nil {
		items = []*Document{}
	}
	pg := pagination.FromContext(c)
	start, end := pg.Page(len(items))
	return c.JSON(http.StatusOK, pagination.NewResponse(items[start:end], len(items), pg).WithLinks(c))
}

// Upload accepts a multipart form with fields file, record_type and an
// optional title.
func (h *Handler) Upload(c echo.Context) error {
	ownerID, p, err := h.owner(c)
	if err != nil {
		return err
	}
	recordType, err := parseType(c.FormValue("record_type"))
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return apperr.BadRequest("file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return apperr.BadRequest("unreadable file")
	}
	defer f.Close()

	d, err := h.svc.Upload(c.Request().Context(), ownerID, p.IdentityID, UploadInput{
		RecordType:  recordType,
		Title:       c.FormValue("title"),
		FileName:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Size:        fh.Size,
		Body:        f,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) ListOwn(c echo.Context) error {
	ownerID, _, err := h.owner(c)
	if err != nil {
		return err
	}
	docs, err := h.svc.ListOwn(c.Request().Context(), ownerID, c.QueryParam("type"))
	if err != nil {
		return err
	}
	return page(c, docs)
}

func (h *Handler) DownloadOwn(c echo.Context) error {
	ownerID, _, err := h.owner(c)
	if err != nil {
		return err
	}
	id, err := docID(c)
	if err != nil {
		return err
	}
	dl, err := h.svc.DownloadOwn(c.Request().Context(), ownerID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dl)
}

func (h *Handler) Delete(c echo.Context) error {
	ownerID, _, err := h.owner(c)
	if err != nil {
		return err
	}
	id, err := docID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), ownerID, id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Record deleted"})
}

// self reports whether req is the patient whose records are addressed.
func self(req sharing.Requester, ownerID uuid.UUID) bool {
	return req.Type == sharing.RecipientFamilyMember && req.ProfileID == ownerID
}

func (h *Handler) ListShared(c echo.Context) error {
	req, _, err := h.requester(c)
	if err != nil {
		return err
	}
	ownerID, err := h.patientParam(c)
	if err != nil {
		return err
	}
	var docs []*Document
	if self(req, ownerID) {
		docs, err = h.svc.ListOwn(c.Request().Context(), ownerID, c.QueryParam("type"))
	} else {
		docs, err = h.svc.ListShared(c.Request().Context(), ownerID, req, c.QueryParam("type"))
	}
	if err != nil {
		return err
	}
	return page(c, docs)
}

func (h *Handler) DownloadShared(c echo.Context) error {
	req, _, err := h.requester(c)
	if err != nil {
		return err
	}
	ownerID, err := h.patientParam(c)
	if err != nil {
		return err
	}
	id, err := docID(c)
	if err != nil {
		return err
	}
	var dl *Download
	if self(req, ownerID) {
		dl, err = h.svc.DownloadOwn(c.Request().Context(), ownerID, id)
	} else {
		dl, err = h.svc.DownloadShared(c.Request().Context(), ownerID, req, id)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dl)
}
