package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/apperr"
)

// OIDCVerifier validates admin-console SSO tokens. It is optional: when no
// issuer/audience are configured the service only accepts locally issued
// tokens.
type OIDCVerifier struct {
	verifier   *oidc.IDTokenVerifier
	tokenCache *TokenCache
	logger     zerolog.Logger
}

// NewOIDCVerifier creates a verifier for the configured issuer/audience.
func NewOIDCVerifier(ctx context.Context, issuer, audience string, logger zerolog.Logger) (*OIDCVerifier, error) {
	issuer = strings.TrimSpace(issuer)
	audience = strings.TrimSpace(audience)
	if issuer == "" || audience == "" {
		return nil, fmt.Errorf("missing OIDC issuer or audience")
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OIDC provider: %w", err)
	}

	return &OIDCVerifier{
		verifier:   provider.Verifier(&oidc.Config{ClientID: audience}),
		tokenCache: NewTokenCache(),
		logger:     logger.With().Str("component", "oidc").Logger(),
	}, nil
}

// Verify validates an SSO token and maps it to an admin principal. Console
// identities always carry the admin role; responders and webhook callers use
// locally issued tokens.
func (v *OIDCVerifier) Verify(ctx context.Context, token string) (Principal, error) {
	tokenHash := HashToken(token)
	if p, ok := v.tokenCache.Get(tokenHash); ok {
		v.logger.Debug().Msg("token cache hit")
		return p, nil
	}

	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		if strings.Contains(err.Error(), "expired") {
			return Principal{}, apperr.New(apperr.KindForbidden, "token expired")
		}
		v.logger.Warn().Err(err).Msg("SSO token verification failed")
		return Principal{}, apperr.New(apperr.KindForbidden, "invalid token")
	}

	var claims struct {
		Email   string `json:"email"`
		Subject string `json:"sub"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return Principal{}, apperr.New(apperr.KindForbidden, "invalid token claims")
	}

	subject := claims.Email
	if subject == "" {
		subject = claims.Subject
	}
	p := Principal{Subject: subject, Role: RoleAdmin}

	// Cache until shortly before the token expires.
	v.tokenCache.Set(tokenHash, p, idToken.Expiry.Add(-time.Minute))
	return p, nil
}
