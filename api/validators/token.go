package validators

import (
	"net/http"
	"strings"
)

// TokenQueryParam carries the access token for clients that cannot set
// headers, such as browser EventSource.
const TokenQueryParam = "token"

// BearerToken returns the access token from the Authorization header, falling
// back to the token query parameter. It returns "" when neither is present.
func BearerToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	if raw := strings.TrimSpace(r.Header.Get("Authorization")); raw != "" {
		token := raw
		if len(token) >= 7 && strings.EqualFold(token[:7], "bearer ") {
			token = strings.TrimSpace(token[7:])
		}
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get(TokenQueryParam))
}
