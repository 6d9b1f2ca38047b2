package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/zitadel/oidc/v3/pkg/client/rp"
	"github.com/zitadel/oidc/v3/pkg/oidc"
)

const googleIssuer = "https://accounts.google.com"

// Identity is the verified subset of an external ID token.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
	GivenName     string
	FamilyName    string
}

// IdentityVerifier verifies an external ID token.
type IdentityVerifier interface {
	Verify(ctx context.Context, idToken string) (*Identity, error)
}

// GoogleVerifier checks Google ID tokens against Google's published keys.
type GoogleVerifier struct {
	verifier *rp.IDTokenVerifier
}

// NewGoogleVerifier discovers Google's OIDC configuration for clientID.
func NewGoogleVerifier(ctx context.Context, clientID string) (*GoogleVerifier, error) {
	if clientID == "" {
		return nil, errors.New("google client id is not configured")
	}
	relyingParty, err := rp.NewRelyingPartyOIDC(ctx, googleIssuer, clientID, "", "", []string{oidc.ScopeOpenID, oidc.ScopeEmail, oidc.ScopeProfile})
	if err != nil {
		return nil, fmt.Errorf("google oidc discovery: %w", err)
	}
	return &GoogleVerifier{verifier: relyingParty.IDTokenVerifier()}, nil
}

// Verify validates signature, issuer, audience and expiry of idToken.
func (g *GoogleVerifier) Verify(ctx context.Context, idToken string) (*Identity, error) {
	claims, err := rp.VerifyIDToken[*oidc.IDTokenClaims](ctx, idToken, g.verifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &Identity{
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: bool(claims.EmailVerified),
		GivenName:     claims.GivenName,
		FamilyName:    claims.FamilyName,
	}, nil
}
