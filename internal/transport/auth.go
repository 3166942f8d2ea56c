package transport

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roach88/livechat/internal/apperr"
	"github.com/roach88/livechat/internal/engine"
)

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator returns nil for an empty secret; a nil Authenticator
// treats every request as anonymous.
func NewAuthenticator(secret, issuer string) *Authenticator {
	if secret == "" {
		return nil
	}
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// Claims carried by livechat tokens. Subject is the stable identity key.
type Claims struct {
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	Email   string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Identify returns the identity of the request's bearer token, nil for
// requests without one.
func (a *Authenticator) Identify(r *http.Request) (*engine.Identity, error) {
	if a == nil {
		return nil, nil
	}
	raw := bearerToken(r)
	if raw == "" {
		return nil, nil
	}
	return a.Verify(raw)
}

// Verify parses and validates a token.
func (a *Authenticator) Verify(raw string) (*engine.Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %T", token.Method)
		}
		return a.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, apperr.Wrap(apperr.CodeUnauthorized, "invalid token", err)
	}
	if claims.Subject == "" {
		return nil, apperr.Unauthorized("token has no subject")
	}
	return &engine.Identity{
		TokenIdentifier: TokenIdentifier(claims.Issuer, claims.Subject),
		Name:            claims.Name,
		PictureURL:      claims.Picture,
		Email:           claims.Email,
	}, nil
}

// Issue signs a token for subject, valid for ttl.
func (a *Authenticator) Issue(subject, name string, ttl time.Duration) (string, error) {
	if a == nil {
		return "", fmt.Errorf("issue token: authentication is disabled")
	}
	now := time.Now()
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// TokenIdentifier scopes the subject by issuer so two issuers can never
// claim the same user.
func TokenIdentifier(issuer, subject string) string {
	if issuer == "" {
		return subject
	}
	return issuer + "|" + subject
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return r.URL.Query().Get("token")
}
