// Package google implements venueauth.OAuthProvider for Google sign-in:
// consent URLs and code exchange through golang.org/x/oauth2, and ID token
// verification against Google's published JWKS.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/MrEthical07/venueauth"
	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2"
	googleendpoint "golang.org/x/oauth2/google"
)

// CertsURL is Google's JWKS endpoint for ID tokens.
const CertsURL = "https://www.googleapis.com/oauth2/v3/certs"

// DefaultScopes are requested when AuthURLOptions.Scopes is empty.
var DefaultScopes = []string{"openid", "email", "profile"}

var defaultIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// Config holds the OAuth client registration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// JWKSURL defaults to CertsURL.
	JWKSURL string
	// Issuers defaults to Google's two issuer spellings.
	Issuers []string
	// Endpoint overrides Google's OAuth endpoints.
	Endpoint *oauth2.Endpoint
}

// Provider talks to Google for the engine's sign-in flow.
type Provider struct {
	oauth   *oauth2.Config
	jwks    *keyfunc.JWKS
	issuers map[string]struct{}
}

var _ venueauth.OAuthProvider = (*Provider)(nil)

// New fetches the signing keys and returns a ready Provider. Keys refresh
// in the background until Close.
func New(cfg Config) (*Provider, error) {
	url := cfg.JWKSURL
	if url == "" {
		url = CertsURL
	}
	jwks, err := keyfunc.Get(url, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, fmt.Errorf("google jwks: %w", err)
	}
	return NewWithKeys(cfg, jwks)
}

// NewWithKeys builds a Provider around an existing key set.
func NewWithKeys(cfg Config, jwks *keyfunc.JWKS) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("google: client id and secret are required")
	}
	if jwks == nil {
		return nil, errors.New("google: key set is required")
	}

	endpoint := googleendpoint.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	issuers := cfg.Issuers
	if len(issuers) == 0 {
		issuers = defaultIssuers
	}

	p := &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       append([]string(nil), scopes...),
			Endpoint:     endpoint,
		},
		jwks:    jwks,
		issuers: make(map[string]struct{}, len(issuers)),
	}
	for _, iss := range issuers {
		p.issuers[iss] = struct{}{}
	}
	return p, nil
}

// Close stops the background key refresh.
func (p *Provider) Close() {
	p.jwks.EndBackground()
}

// AuthURL builds the consent URL. Options left empty fall back to the
// client registration.
func (p *Provider) AuthURL(state string, opts venueauth.AuthURLOptions) string {
	cfg := *p.oauth
	if len(opts.Scopes) > 0 {
		cfg.Scopes = opts.Scopes
	}
	if opts.RedirectURI != "" {
		cfg.RedirectURL = opts.RedirectURI
	}

	var params []oauth2.AuthCodeOption
	switch opts.AccessType {
	case "offline":
		params = append(params, oauth2.AccessTypeOffline)
	case "online":
		params = append(params, oauth2.AccessTypeOnline)
	}
	if opts.Prompt != "" {
		params = append(params, oauth2.SetAuthURLParam("prompt", opts.Prompt))
	}
	return cfg.AuthCodeURL(state, params...)
}

// ExchangeCode trades an authorization code for tokens. The response must
// include an ID token.
func (p *Provider) ExchangeCode(ctx context.Context, code string) (*venueauth.OAuthTokens, error) {
	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("google code exchange: %w", err)
	}
	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return nil, errors.New("google code exchange: response has no id_token")
	}
	scope, _ := tok.Extra("scope").(string)
	return &venueauth.OAuthTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      idToken,
		Scope:        scope,
		Expiry:       tok.Expiry,
	}, nil
}

// VerifyIDToken checks the RS256 signature, expiry, audience and issuer of
// idToken and returns its identity claims.
func (p *Provider) VerifyIDToken(_ context.Context, idToken string) (*venueauth.OAuthIdentity, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(idToken, claims, p.jwks.Keyfunc, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		return nil, fmt.Errorf("google id token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("google id token: invalid")
	}
	if !claims.VerifyAudience(p.oauth.ClientID, true) {
		return nil, errors.New("google id token: audience mismatch")
	}
	iss, _ := claims["iss"].(string)
	if _, ok := p.issuers[iss]; !ok {
		return nil, fmt.Errorf("google id token: unexpected issuer %q", iss)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, errors.New("google id token: missing subject")
	}

	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	given, _ := claims["given_name"].(string)
	return &venueauth.OAuthIdentity{
		SubjectID:     sub,
		Email:         strings.ToLower(strings.TrimSpace(email)),
		EmailVerified: truthy(claims["email_verified"]),
		Name:          name,
		GivenName:     given,
	}, nil
}

// truthy accepts the boolean and the legacy string form of email_verified.
func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true"
	default:
		return false
	}
}
