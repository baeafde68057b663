package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Role is the coarse authorization level carried in access tokens.
// Admins see every call and make gate decisions on any call; operators are
// scoped to their own calls.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleOperator
}

// Claims are the only supported JWT claims shape for this service.
// SpoofAllowed gates the spoofed-caller-ID call type per user; it is an
// explicit grant, never implied by role.
type Claims struct {
	jwt.RegisteredClaims

	UserID       string    `json:"user_id"`
	Role         Role      `json:"role"`
	SpoofAllowed bool      `json:"spoof_allowed,omitempty"`
	TokenType    TokenType `json:"token_type"`
}
