package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/invoicer/pkg/users"
)

// OIDCConfig configures single sign-on
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// Identity is the verified subject of an ID token
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
}

// OIDCProvider implements OpenID Connect login
type OIDCProvider struct {
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

// NewOIDCProvider discovers the issuer and prepares the OAuth2 client
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig) (*OIDCProvider, error) {
	if cfg.IssuerURL == "" || cfg.ClientID == "" {
		return nil, fmt.Errorf("issuer_url and client_id are required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}

	return &OIDCProvider{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
	}, nil
}

// AuthCodeURL is where the browser is sent to log in
func (p *OIDCProvider) AuthCodeURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state)
}

// Exchange trades an authorization code for a verified identity
func (p *OIDCProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	if code == "" {
		return nil, fmt.Errorf("missing authorization code")
	}

	oauth2Token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("missing id_token in response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("missing email in OIDC token")
	}

	return &Identity{
		Subject:       idToken.Subject,
		Email:         users.NormalizeEmail(claims.Email),
		EmailVerified: claims.EmailVerified,
	}, nil
}

// Provision returns the user for an identity, creating a free account on
// first login. An existing password account is reused only when the
// provider vouches for the email.
func Provision(ctx context.Context, repo users.Repository, id *Identity) (*users.User, error) {
	user, err := repo.GetByOIDCSubject(ctx, id.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, users.ErrNotFound) {
		return nil, err
	}

	if id.EmailVerified {
		user, err := repo.GetByEmail(ctx, id.Email)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, users.ErrNotFound) {
			return nil, err
		}
	}

	user = &users.User{Email: id.Email, OIDCSubject: id.Subject}
	if err := repo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to provision user: %w", err)
	}
	return user, nil
}
