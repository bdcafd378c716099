package auth

import (
	"context"

	"github.com/google/uuid"
)

type Role string

const (
	RoleProvider  Role = "provider"
	RoleRequester Role = "requester"
	RoleAdmin     Role = "admin"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	Role Role
	ID   uuid.UUID
}

func (p Principal) IsProvider() bool  { return p.Role == RoleProvider }
func (p Principal) IsRequester() bool { return p.Role == RoleRequester }

type contextKey string

const principalKey contextKey = "principal"

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the caller stored by the auth middleware.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
