// Package identity carries the authenticated caller through engine operations.
// It is produced by the transport layer and never looked up from ambient state.
package identity

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleAdmin    Role = "ADMIN"
)

// ParseRole normalises a role claim. Unknown roles are returned as-is and are
// treated as unprivileged.
func ParseRole(s string) Role {
	return Role(strings.ToUpper(strings.TrimSpace(s)))
}

type Identity struct {
	UserID uuid.UUID
	Role   Role
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

func (i Identity) IsCustomer() bool {
	return i.Role == RoleCustomer
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext is only used by the HTTP layer: handlers lift the identity out
// of the request before passing it explicitly to the engine, and the
// application limiter keys on it.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
