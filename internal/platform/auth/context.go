package auth

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const PrincipalKey contextKey = "principal"

// Principal is the authenticated caller attached to a request.
type Principal struct {
	IdentityID uuid.UUID
	Email      string
	Role       Role
	Token      string
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(Principal)
	return p, ok
}

// IdentityIDFromContext returns the caller's identity id, or "" when the
// request is unauthenticated.
func IdentityIDFromContext(ctx context.Context) string {
	if p, ok := PrincipalFromContext(ctx); ok {
		return p.IdentityID.String()
	}
	return ""
}

func RoleFromContext(ctx context.Context) Role {
	p, _ := PrincipalFromContext(ctx)
	return p.Role
}
