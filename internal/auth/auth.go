// Package auth issues and verifies the bearer tokens the HTTP surface
// consumes, and defines the principal handed to the lifecycle policy.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/apperr"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/config"
)

// Roles understood by the policy layer.
const (
	RoleAdmin     = "admin"
	RoleResponder = "responder"
	RoleWebhook   = "webhook"
	RoleCitizen   = "citizen"
	RoleSystem    = "system"
)

// Principal is an already-authenticated caller.
type Principal struct {
	Subject string
	Role    string
}

// System is the principal used by background jobs (sweeper, auto-reassign).
var System = Principal{Subject: "system", Role: RoleSystem}

// String renders the principal for audit records.
func (p Principal) String() string {
	return p.Subject + "(" + p.Role + ")"
}

type principalKey struct{}

// ContextKey is the context key under which the principal is stored. Exposed
// for middleware that injects values through framework wrappers.
var ContextKey any = principalKey{}

// WithPrincipal attaches the principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the request principal, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Issuer creates and validates locally issued JWTs.
type Issuer struct {
	secret   []byte
	lifetime time.Duration
	users    []config.Credential
}

// NewIssuer builds an issuer from configuration.
func NewIssuer(cfg *config.Config) (*Issuer, error) {
	users, err := cfg.ParseUsers()
	if err != nil {
		return nil, err
	}
	return &Issuer{
		secret:   []byte(cfg.JWTSecret),
		lifetime: cfg.JWTLifetime,
		users:    users,
	}, nil
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Login verifies the credentials and issues a bearer token.
func (i *Issuer) Login(username, role, password string) (string, time.Time, error) {
	var matched *config.Credential
	for idx := range i.users {
		c := &i.users[idx]
		if subtle.ConstantTimeCompare([]byte(c.Username), []byte(username)) == 1 &&
			subtle.ConstantTimeCompare([]byte(c.Password), []byte(password)) == 1 &&
			c.Role == role {
			matched = c
			break
		}
	}
	if matched == nil {
		return "", time.Time{}, apperr.New(apperr.KindForbidden, "invalid credentials")
	}

	expiresAt := time.Now().Add(i.lifetime)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: matched.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   matched.Username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "aegis-hub",
		},
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses a bearer token and returns its principal.
func (i *Issuer) Verify(tokenString string) (Principal, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return Principal{}, apperr.Wrap(apperr.KindForbidden, err, "invalid token")
	}
	if c.Subject == "" || c.Role == "" {
		return Principal{}, apperr.New(apperr.KindForbidden, "token missing subject or role")
	}
	return Principal{Subject: c.Subject, Role: c.Role}, nil
}

// ExtractBearer pulls the token out of an Authorization header value.
func ExtractBearer(header string) (string, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", apperr.New(apperr.KindForbidden, "invalid Authorization header format")
	}
	return parts[1], nil
}
