package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// Issuer is the iss claim on bot tokens.
const Issuer = "opsbot"

var (
	ErrNoSecret     = errors.New("signing secret is required")
	ErrMissingClaim = errors.New("required claim missing")
)

// Claims are the JWT claims the chat transport presents for each user.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

// Keys holds the HMAC key derived from the shared bot signing secret.
type Keys struct {
	key []byte
}

// DeriveKeys expands the shared secret with HKDF-SHA256 so the raw secret is
// never used directly as a MAC key.
func DeriveKeys(secret string) (*Keys, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	r := hkdf.New(sha256.New, []byte(secret), []byte("opsbot-jwt"), []byte("hs256"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	return &Keys{key: key}, nil
}

// Issue signs a token for the given identity.
func (k *Keys) Issue(userID, tenantID string, roles []string, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TenantID: tenantID,
		Roles:    roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(k.key)
}

// Validate parses and validates a token string. Only HS256 is accepted.
func (k *Keys) Validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(*jwt.Token) (any, error) { return k.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if claims.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id", ErrMissingClaim)
	}
	return claims, nil
}
