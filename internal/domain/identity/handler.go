package identity

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/curafile/curafile/internal/platform/apperr"
	"github.com/curafile/curafile/internal/platform/auth"
)

type Handler struct {
	svc   *Service
	authn *auth.Authenticator
}

func NewHandler(svc *Service, authn *auth.Authenticator) *Handler {
	return &Handler{svc: svc, authn: authn}
}

// RegisterRoutes registers the credential and account endpoints. limit is
// applied to every unauthenticated route that sends email or checks a
// password.
func (h *Handler) RegisterRoutes(api *echo.Group, limit echo.MiddlewareFunc) {
	a := api.Group("/auth")

	a.POST("/patient/send-otp", h.SendPatientOTP, limit)
	a.POST("/patient/verify-otp", h.VerifyPatientOTP, limit)
	a.POST("/patient/register", h.RegisterPatient, limit)
	a.POST("/patient/login", h.loginAs(auth.RolePatient), limit)

	a.POST("/doctor/register", h.RegisterDoctor, limit)
	a.POST("/doctor/verify-email", h.verifyEmailAs(auth.RoleDoctor), limit)
	a.POST("/doctor/resend-otp", h.resendOTPAs(auth.RoleDoctor), limit)
	a.POST("/doctor/login", h.loginAs(auth.RoleDoctor), limit)

	a.POST("/clinic/register", h.RegisterClinic, limit)
	a.POST("/clinic/verify-email", h.verifyEmailAs(auth.RoleClinicStaff), limit)
	a.POST("/clinic/resend-otp", h.resendOTPAs(auth.RoleClinicStaff), limit)
	a.POST("/clinic/login", h.loginAs(auth.RoleClinicStaff), limit)

	a.POST("/forgot-password", h.ForgotPassword, limit)
	a.POST("/reset-password", h.ResetPassword, limit)
	a.POST("/change-password", h.ChangePassword, h.authn.Require())
	a.GET("/me", h.Me, h.authn.Require())

	api.POST("/account/deactivate", h.Deactivate, h.authn.Require())

	p := api.Group("/patient")
	p.POST("/accept-terms", h.AcceptTerms, limit)
	p.GET("/me", h.Me, h.authn.Require(auth.RolePatient))
	p.GET("/qr", h.PatientQR, h.authn.Require(auth.RolePatient))
	p.GET("/profile", h.PatientProfile, h.authn.Require(auth.RolePatient))
	p.PUT("/profile", h.UpdatePatientProfile, h.authn.Require(auth.RolePatient))

	api.GET("/doctor/profile", h.DoctorProfile, h.authn.Require(auth.RoleDoctor))
	api.PUT("/doctor/profile", h.UpdateDoctorProfile, h.authn.Require(auth.RoleDoctor))
	api.GET("/clinic/profile", h.ClinicProfile, h.authn.Require(auth.RoleClinicStaff))
	api.PUT("/clinic/profile", h.UpdateClinic, h.authn.Require(auth.RoleClinicStaff))

	api.GET("/doctors/:doctorId", h.PublicDoctor)
	api.GET("/clinics/:clinicId", h.PublicClinic)
}

type emailRequest struct {
	Email string `json:"email"`
}

type codeRequest struct {
	Email string `json:"email"`
	Code  string `json:"otp"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

func message(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"message": msg})
}

func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	return nil
}

func principal(c echo.Context) (auth.Principal, error) {
	p, ok := auth.PrincipalFromContext(c.Request().Context())
	if !ok {
		return auth.Principal{}, apperr.Unauthorized("no token provided")
	}
	return p, nil
}

func (h *Handler) SendPatientOTP(c echo.Context) error {
	var req emailRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.SendPatientOTP(c.Request().Context(), req.Email); err != nil {
		return err
	}
	return message(c, http.StatusOK, "OTP sent to your email")
}

func (h *Handler) VerifyPatientOTP(c echo.Context) error {
	var req codeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.VerifyPatientOTP(c.Request().Context(), req.Email, req.Code); err != nil {
		return err
	}
	return message(c, http.StatusOK, "Email verified successfully")
}

func (h *Handler) RegisterPatient(c echo.Context) error {
	var req RegisterPatientInput
	if err := bind(c, &req); err != nil {
		return err
	}
	acct, err := h.svc.RegisterPatient(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, acct)
}

func (h *Handler) AcceptTerms(c echo.Context) error {
	var req credentialsRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	profile, err := h.svc.AcceptTerms(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Terms accepted. Registration complete.",
		"patient": profile,
	})
}

func (h *Handler) RegisterDoctor(c echo.Context) error {
	var req RegisterDoctorInput
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.svc.RegisterDoctor(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) RegisterClinic(c echo.Context) error {
	var req RegisterClinicInput
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.svc.RegisterClinic(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) verifyEmailAs(role auth.Role) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req codeRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		res, err := h.svc.VerifyEmail(c.Request().Context(), role, req.Email, req.Code)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, res)
	}
}

func (h *Handler) resendOTPAs(role auth.Role) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req emailRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		if err := h.svc.ResendOTP(c.Request().Context(), role, req.Email); err != nil {
			return err
		}
		return message(c, http.StatusOK, "Verification code sent")
	}
}

func (h *Handler) loginAs(role auth.Role) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req credentialsRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		res, err := h.svc.Login(c.Request().Context(), role, req.Email, req.Password)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, res)
	}
}

func (h *Handler) ForgotPassword(c echo.Context) error {
	var req emailRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	h.svc.ForgotPassword(c.Request().Context(), req.Email)
	return message(c, http.StatusOK, ForgotPasswordMessage)
}

func (h *Handler) ResetPassword(c echo.Context) error {
	var req resetPasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.ResetPassword(c.Request().Context(), req.Token, req.NewPassword); err != nil {
		return err
	}
	return message(c, http.StatusOK, "Password reset successfully. Please log in with your new password.")
}

func (h *Handler) ChangePassword(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req changePasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.ChangePassword(c.Request().Context(), p.IdentityID, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return message(c, http.StatusOK, "Password changed successfully. Please log in again.")
}

func (h *Handler) Deactivate(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req passwordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.Deactivate(c.Request().Context(), p.IdentityID, req.Password); err != nil {
		return err
	}
	return message(c, http.StatusOK, "Account deactivated successfully. You can reactivate by logging in again.")
}

func (h *Handler) Me(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	acct, err := h.svc.Me(c.Request().Context(), p.IdentityID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, acct)
}

func (h *Handler) PatientQR(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	size := 0
	if raw := c.QueryParam("size"); raw != "" {
		if size, err = strconv.Atoi(raw); err != nil {
			return apperr.BadRequest("size must be an integer")
		}
	}
	png, err := h.svc.PatientQR(c.Request().Context(), p.IdentityID, size)
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "image/png", png)
}

func (h *Handler) PatientProfile(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	view, err := h.svc.PatientProfile(c.Request().Context(), p.IdentityID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) UpdatePatientProfile(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req UpdatePatientProfileInput
	if err := bind(c, &req); err != nil {
		return err
	}
	view, err := h.svc.UpdatePatientProfile(c.Request().Context(), p.IdentityID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) DoctorProfile(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	view, err := h.svc.DoctorProfile(c.Request().Context(), p.IdentityID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) UpdateDoctorProfile(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req UpdateDoctorProfileInput
	if err := bind(c, &req); err != nil {
		return err
	}
	view, err := h.svc.UpdateDoctorProfile(c.Request().Context(), p.IdentityID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) ClinicProfile(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	view, err := h.svc.ClinicProfile(c.Request().Context(), p.IdentityID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) UpdateClinic(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req UpdateClinicInput
	if err := bind(c, &req); err != nil {
		return err
	}
	view, err := h.svc.UpdateClinic(c.Request().Context(), p.IdentityID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

// PublicDoctor is unauthenticated.
func (h *Handler) PublicDoctor(c echo.Context) error {
	d, err := h.svc.PublicDoctor(c.Request().Context(), c.Param("doctorId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) PublicClinic(c echo.Context) error {
	cl, err := h.svc.PublicClinic(c.Request().Context(), c.Param("clinicId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cl)
}
