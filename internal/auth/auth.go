package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const RoleAdmin = "admin"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient role")
)

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueAdminToken signs an HS256 token carrying the admin role.
func IssueAdminToken(secret []byte, subject string, ttl time.Duration, now time.Time) (string, error) {
	const op = "auth.IssueAdminToken"

	if len(secret) == 0 {
		return "", fmt.Errorf("%s: empty secret", op)
	}

	claims := Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "tixflow",
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("%s:%w", op, err)
	}

	return s, nil
}

// ParseAdminToken validates token and requires the admin role.
//
// Returns:
//   - error: auth.ErrInvalidToken for malformed, tampered or expired tokens.
//   - error: auth.ErrForbidden if the token is valid but not an admin token.
func ParseAdminToken(secret []byte, token string) (*Claims, error) {
	const op = "auth.ParseAdminToken"

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%s:%w: %v", op, ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidToken)
	}

	if claims.Role != RoleAdmin {
		return nil, fmt.Errorf("%s:%w", op, ErrForbidden)
	}

	return claims, nil
}
