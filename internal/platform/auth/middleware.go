package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/curafile/curafile/internal/platform/apperr"
)

const (
	msgNoToken      = "no token provided"
	msgInvalidToken = "invalid token"
	msgExpiredToken = "token expired"
	msgRevoked      = "token has been invalidated, please log in again"
	msgWrongRole    = "insufficient role for this resource"
	msgInactive     = "account is inactive"
)

// RevocationChecker is the ledger lookup used on every request.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, token string) bool
}

// IdentityStatusReader reports whether an identity may still sign in.
// Unknown identities report false with a nil error.
type IdentityStatusReader interface {
	IsIdentityActive(ctx context.Context, id uuid.UUID) (bool, error)
}

// Authenticator verifies bearer tokens and attaches the Principal.
type Authenticator struct {
	signer     *Signer
	ledger     RevocationChecker
	identities IdentityStatusReader
}

func NewAuthenticator(signer *Signer, ledger RevocationChecker, identities IdentityStatusReader) *Authenticator {
	return &Authenticator{signer: signer, ledger: ledger, identities: identities}
}

// Require returns middleware admitting only tokens whose role claim is one
// of roles. With no roles, any valid role is accepted.
//
// Checks run in order: bearer present, signature and expiry, ledger, role,
// account liveness. The first failure ends the request.
func (a *Authenticator) Require(roles ...Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return apperr.Unauthorized(msgNoToken)
			}

			claims, err := a.signer.Verify(token)
			if err != nil {
				if errors.Is(err, ErrTokenExpired) {
					return apperr.Unauthorized(msgExpiredToken)
				}
				return apperr.Unauthorized(msgInvalidToken)
			}

			if a.ledger.IsRevoked(ctx, token) {
				return apperr.Unauthorized(msgRevoked)
			}

			if !roleAllowed(claims.Role, roles) {
				return apperr.Unauthorized(msgWrongRole)
			}

			identityID, err := claims.IdentityID()
			if err != nil {
				return apperr.Unauthorized(msgInvalidToken)
			}
			active, err := a.identities.IsIdentityActive(ctx, identityID)
			if err != nil {
				return apperr.Wrap(err, "load identity status")
			}
			if !active {
				return apperr.Unauthorized(msgInactive)
			}

			c.SetRequest(c.Request().WithContext(WithPrincipal(ctx, Principal{
				IdentityID: identityID,
				Email:      claims.Email,
				Role:       claims.Role,
				Token:      token,
			})))
			return next(c)
		}
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func roleAllowed(have Role, allowed []Role) bool {
	if len(allowed) == 0 {
		return have.Valid()
	}
	for _, r := range allowed {
		if r == have {
			return true
		}
	}
	return false
}
