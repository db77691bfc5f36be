package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/orgplans-backend/pkg/enums"
)

// AccessTokenPayload is what the identity service puts in a token.
type AccessTokenPayload struct {
	UserID         uuid.UUID
	OrganizationID uuid.UUID
	Role           enums.MemberRole
	JTI            string
}

// AccessTokenClaims is the typed JWT body. The subject carries the user id.
type AccessTokenClaims struct {
	OrganizationID uuid.UUID        `json:"org_id"`
	Role           enums.MemberRole `json:"role"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *AccessTokenClaims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}
