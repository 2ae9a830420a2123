package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/towline/towline-backend/pkg/enums"
)

// AccessTokenPayload is the identity a token is minted for.
type AccessTokenPayload struct {
	UserID  uuid.UUID
	ActorID uuid.UUID
	Role    enums.ActorRole
	JTI     string
}

// AccessTokenClaims is the JWT body. ActorID is the customers.id or
// providers.id row for the role; admins carry their user id.
type AccessTokenClaims struct {
	UserID  uuid.UUID       `json:"user_id"`
	ActorID uuid.UUID       `json:"actor_id"`
	Role    enums.ActorRole `json:"role"`
	jwt.RegisteredClaims
}

// Validate runs after the registered claims pass; jwt calls it while parsing.
func (c AccessTokenClaims) Validate() error {
	if !c.Role.IsUserRole() {
		return fmt.Errorf("unsupported role %q", c.Role)
	}
	if c.ActorID == uuid.Nil {
		return errors.New("actor id missing")
	}
	return nil
}
