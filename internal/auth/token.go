// Package auth verifies partner tokens presented on the push channel.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var signingMethod = jwt.SigningMethodHS256

// Claims carried by a partner access token.
type Claims struct {
	PartnerID string `json:"partner_id"`
	jwt.RegisteredClaims
}

// Verifier checks partner tokens against a shared HS256 secret issued by
// the auth collaborator.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier { return &Verifier{secret: []byte(secret)} }

// Verify parses the token and confirms it belongs to partnerID.
func (v *Verifier) Verify(tokenString, partnerID string) error {
	if len(v.secret) == 0 {
		return fmt.Errorf("jwt secret is not configured")
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != signingMethod {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return fmt.Errorf("parsing token: %w", err)
	}
	if claims.PartnerID != partnerID {
		return fmt.Errorf("token subject mismatch")
	}
	return nil
}

// Mint issues a token for partnerID. Used by tests and local tooling;
// in production tokens come from the auth collaborator.
func Mint(secret, partnerID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		PartnerID: partnerID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   partnerID,
		},
	}
	return jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(secret))
}
