package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/towline/towline-backend/pkg/config"
)

// clockSkew tolerates small drift between the minting service and the API.
const clockSkew = 30 * time.Second

var signingMethod = jwt.SigningMethodHS256

// Issuer mints and verifies HS256 access tokens for one issuer.
type Issuer struct {
	secret []byte
	name   string
	ttl    time.Duration
	parser *jwt.Parser
}

func NewIssuer(cfg config.JWTConfig) (*Issuer, error) {
	switch {
	case cfg.Secret == "":
		return nil, errors.New("jwt secret is required")
	case cfg.Issuer == "":
		return nil, errors.New("jwt issuer is required")
	case cfg.ExpirationMinutes <= 0:
		return nil, errors.New("jwt expiration minutes must be positive")
	}
	return &Issuer{
		secret: []byte(cfg.Secret),
		name:   cfg.Issuer,
		ttl:    time.Duration(cfg.ExpirationMinutes) * time.Minute,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{signingMethod.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithLeeway(clockSkew),
		),
	}, nil
}

// Mint signs a token for p valid from now for the configured TTL.
func (i *Issuer) Mint(now time.Time, p AccessTokenPayload) (string, error) {
	claims := AccessTokenClaims{
		UserID:  p.UserID,
		ActorID: p.ActorID,
		Role:    p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        strings.TrimSpace(p.JTI),
			Issuer:    i.name,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
	if err := claims.Validate(); err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer and lifetime and returns the claims.
func (i *Issuer) Verify(token string) (*AccessTokenClaims, error) {
	claims := new(AccessTokenClaims)
	_, err := i.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}
