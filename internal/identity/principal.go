package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles carried in a principal token.
const (
	RoleUser     = "user"
	RoleObserver = "observer"
)

// PrincipalClaims are the JWT claims of a principal token. Subject is the
// principal id the ledger sees as "caller".
type PrincipalClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Principal returns the authenticated principal id.
func (c *PrincipalClaims) Principal() string {
	return c.Subject
}

// PrincipalIssuer issues and verifies HS256 principal tokens with a shared secret.
type PrincipalIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewPrincipalIssuer creates a PrincipalIssuer.
//
//	secret: HMAC key shared by every gateway instance; must not be empty.
//	issuer: the "iss" claim value.
//	ttl:    token lifetime (default: 24 hours).
func NewPrincipalIssuer(secret, issuer string, ttl time.Duration) (*PrincipalIssuer, error) {
	if secret == "" {
		return nil, errors.New("token secret is required")
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &PrincipalIssuer{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// Issue creates a signed token for principal with the given role.
func (p *PrincipalIssuer) Issue(principal, role string) (string, error) {
	if principal == "" {
		return "", errors.New("principal is required")
	}
	if role != RoleUser && role != RoleObserver {
		return "", fmt.Errorf("unknown role %q", role)
	}
	now := time.Now().UTC()
	claims := PrincipalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.issuer,
			Subject:   principal,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
			ID:        uuid.New().String(),
		},
		Role: role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("sign principal token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a principal token, returning its claims.
func (p *PrincipalIssuer) Verify(tokenStr string) (*PrincipalClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&PrincipalClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return p.secret, nil
		},
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify principal token: %w", err)
	}
	claims, ok := token.Claims.(*PrincipalClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid principal token claims")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("principal token has no subject")
	}
	if claims.Role != RoleUser && claims.Role != RoleObserver {
		return nil, fmt.Errorf("unknown role %q", claims.Role)
	}
	return claims, nil
}
