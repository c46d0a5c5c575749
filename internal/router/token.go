package router

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/agumabanks/baraka-gateway/internal/gateway"
)

// serviceTokenTTL bounds how long a minted service-to-service token is
// accepted downstream.
const serviceTokenTTL = 60 * time.Second

// serviceClaims is the payload of the short-lived token attached to
// calls into services that require caller identity.
type serviceClaims struct {
	Permissions []string `json:"permissions,omitempty"`
	Tier        string   `json:"tier,omitempty"`
	jwt.RegisteredClaims
}

// mintServiceToken derives a short-lived HS256 token from the
// authenticated caller for the target service.
func mintServiceToken(secret []byte, ctx *gateway.Context, service string, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("service token secret not configured")
	}

	subject := "anonymous"
	tier := ""
	if u := ctx.User(); u != nil {
		subject = u.ID
		tier = u.Tier
	}

	claims := serviceClaims{
		Permissions: ctx.Permissions(),
		Tier:        tier,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "baraka-gateway",
			Subject:   subject,
			Audience:  jwt.ClaimStrings{service},
			ID:        ctx.RequestID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(serviceTokenTTL)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}
	return token, nil
}
