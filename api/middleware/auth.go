package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/notifyhub/api/responses"
	"github.com/angelmondragon/notifyhub/api/validators"
	pkgAuth "github.com/angelmondragon/notifyhub/pkg/auth"
	pkgerrors "github.com/angelmondragon/notifyhub/pkg/errors"
	"github.com/angelmondragon/notifyhub/pkg/logger"
)

// Auth validates the access token and seeds the request context with the
// caller identity. The token comes from the Authorization header or, for
// EventSource clients, the token query parameter.
func Auth(verifier pkgAuth.Verifier, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := validators.BearerToken(r)
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			if verifier == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "token verifier not configured"))
				return
			}

			identity, err := verifier.Verify(token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}
			if strings.TrimSpace(identity.UserID) == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing subject"))
				return
			}

			ctx := WithIdentity(r.Context(), identity)
			if logg != nil {
				ctx = logg.WithUserID(ctx, identity.UserID)
				ctx = logg.WithActorRole(ctx, strings.Join(identity.Roles, ","))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
