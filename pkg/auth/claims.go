package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Identity is what the delivery core learns from a verified token.
type Identity struct {
	UserID string
	Roles  []string
}

// HasRole reports whether the identity carries role.
func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AccessTokenClaims represents the typed JWT presented by clients.
type AccessTokenClaims struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Identity converts verified claims into an Identity.
func (c *AccessTokenClaims) Identity() Identity {
	userID := c.UserID
	if userID == "" {
		userID = c.Subject
	}
	return Identity{UserID: userID, Roles: append([]string(nil), c.Roles...)}
}
