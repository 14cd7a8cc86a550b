package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Roles understood by the console surface. Admins additionally see the
// history endpoints; call-level actions are checked against the identity on
// the claims, never against a role alone.
const (
	RoleVolunteer = "volunteer"
	RoleAdmin     = "admin"
)

// Claims are the only supported JWT claims shape for this service.
// Identity is the volunteer identity as it appears in the roster; it is the
// join key between console connections and ringing candidates.
type Claims struct {
	jwt.RegisteredClaims

	Identity  string    `json:"identity"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
