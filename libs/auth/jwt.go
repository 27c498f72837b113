package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims are the bearer token claims issued by the identity provider.
type Claims struct {
	Role  string `json:"role"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func (c Claims) Principal() Principal {
	return Principal{ID: c.Subject, Role: Role(strings.ToLower(c.Role)), Name: c.Name, Email: c.Email}
}

// KeySource resolves RS256 verification keys by key id.
type KeySource interface {
	Get(keyID string) (*rsa.PublicKey, error)
}

// Verifier accepts HS256 tokens signed with a shared secret and RS256 tokens
// whose key id resolves through the key source. Either may be unset.
type Verifier struct {
	secret []byte
	keys   KeySource
	leeway time.Duration
}

func NewVerifier(secret string, keys KeySource) *Verifier {
	return &Verifier{secret: []byte(secret), keys: keys, leeway: 30 * time.Second}
}

func (v *Verifier) Verify(token string) (Principal, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, v.keyFunc,
		jwt.WithValidMethods([]string{"HS256", "RS256"}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	p := claims.Principal()
	if p.ID == "" || !p.Role.Valid() {
		return Principal{}, fmt.Errorf("%w: missing subject or unknown role %q", ErrInvalidToken, claims.Role)
	}
	return p, nil
}

func (v *Verifier) keyFunc(t *jwt.Token) (any, error) {
	switch t.Method.Alg() {
	case "HS256":
		if len(v.secret) == 0 {
			return nil, errors.New("hs256 not configured")
		}
		return v.secret, nil
	case "RS256":
		if v.keys == nil {
			return nil, errors.New("rs256 not configured")
		}
		kid, _ := t.Header["kid"].(string)
		return v.keys.Get(kid)
	}
	return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
}

// SignHS256 issues a token for local tooling and tests.
func SignHS256(p Principal, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:  string(p.Role),
		Name:  p.Name,
		Email: p.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
