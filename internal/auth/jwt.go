// Package auth issues and validates the bearer tokens that guard the history
// front door.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer = "chatlog"

	// AllAccounts in a token grants access to every account.
	AllAccounts = "*"
)

// Claims is the token payload. Accounts lists the accounts whose history the
// bearer may read; Admin additionally allows clearing and favourite edits.
type Claims struct {
	jwt.RegisteredClaims
	Accounts []string `json:"acc"`
	Admin    bool     `json:"adm,omitempty"`
}

// AllowsAccount reports whether the bearer may read account.
func (c *Claims) AllowsAccount(account string) bool {
	return slices.Contains(c.Accounts, AllAccounts) || slices.Contains(c.Accounts, account)
}

// ErrInvalidToken is returned when a JWT cannot be parsed or has expired.
var ErrInvalidToken = errors.New("auth: invalid or expired token") //nolint:gochecknoglobals // sentinel error

// IssueToken creates a signed HS256 token for subject.
func IssueToken(secret, subject string, accounts []string, admin bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
		Accounts: accounts,
		Admin:    admin,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth.IssueToken: %w", err)
	}
	return signed, nil
}

// ValidateToken parses tokenString and returns its claims.
func ValidateToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(issuer))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}
	return claims, nil
}
