package utils

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var jwtSecret = []byte("change-me-in-production")

// Claims is the session token claim set. Fingerprint binds the token to
// the network origin and client signature that requested it.
type Claims struct {
	IdentityID  uuid.UUID `json:"identityId"`
	Role        string    `json:"role"`
	Fingerprint string    `json:"fingerprint"`
	jwt.RegisteredClaims
}

func ConfigureJWT(secret string) {
	if secret != "" {
		jwtSecret = []byte(secret)
	}
}

func GenerateToken(identityID uuid.UUID, role, fingerprint string, lifetime time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(lifetime)
	claims := Claims{
		IdentityID:  identityID,
		Role:        role,
		Fingerprint: fingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   identityID.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(jwtSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, keyFunc)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

// DecodeToken verifies the signature but skips claim validation, so an
// expired-but-structurally-valid token can still be decoded. Used only
// by the refresh path.
func DecodeToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, keyFunc, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

func keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method")
	}
	return jwtSecret, nil
}
