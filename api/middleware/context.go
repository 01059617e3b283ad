package middleware

import (
	"context"
	"slices"

	"github.com/angelmondragon/notifyhub/pkg/auth"
)

type contextKey string

const (
	ctxUserID contextKey = "user_id"
	ctxRoles  contextKey = "actor_roles"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

func RolesFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxRoles).([]string); ok {
		return v
	}
	return nil
}

// HasRole reports whether the authenticated caller carries role.
func HasRole(ctx context.Context, role string) bool {
	return slices.Contains(RolesFromContext(ctx), role)
}

// WithUserID injects the user identifier into the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxUserID, userID)
}

// WithIdentity injects the verified caller into the context.
func WithIdentity(ctx context.Context, identity auth.Identity) context.Context {
	ctx = WithUserID(ctx, identity.UserID)
	return context.WithValue(ctx, ctxRoles, append([]string(nil), identity.Roles...))
}
