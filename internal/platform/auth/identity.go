package auth

import (
	"context"
	"strings"
)

type Identity struct {
	Subject string
	Email   string
	Roles   []string
}

// IsFleetManager reports whether the identity carries the manager role.
func (i Identity) IsFleetManager() bool {
	return i.HasRole(RoleFleetManager)
}

func (i Identity) HasRole(role string) bool {
	role = strings.ToLower(strings.TrimSpace(role))
	for _, candidate := range i.Roles {
		if strings.ToLower(strings.TrimSpace(candidate)) == role {
			return true
		}
	}
	return false
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}
