package models

import "github.com/golang-jwt/jwt/v5"

// Roles carried in access tokens.
const (
	RoleParent = "parent"
	RoleChild  = "child"
)

// Claims defines the structure of the JWT claims.
// AccountID is the parent account; ProfileID is set for child sessions.
type Claims struct {
	AccountID string `json:"account_id"`
	ProfileID string `json:"profile_id,omitempty"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}
