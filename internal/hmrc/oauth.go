// Package hmrc talks to the HMRC Making Tax Digital VAT API: the OAuth
// authorization-code flow, token refresh, obligations and return submission.
package hmrc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"vatpilot/internal/config"
	"vatpilot/internal/core"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// ErrInvalidState is returned when the OAuth callback state is missing,
// forged or expired.
var ErrInvalidState = errors.New("invalid or expired oauth state")

const stateTTL = 10 * time.Minute

var defaultScopes = []string{"read:vat", "write:vat"}

// ── State signing ─────────────────────────────────────────────────────────────

// StateClaims binds an authorization round-trip to a shop and VRN.
type StateClaims struct {
	Shop string `json:"shop"`
	VRN  string `json:"vrn"`
	jwt.RegisteredClaims
}

// StateSigner issues and verifies HS256-signed state values.
type StateSigner struct {
	secret []byte
	now    func() time.Time
}

func NewStateSigner(secret string) *StateSigner {
	return &StateSigner{secret: []byte(secret), now: time.Now}
}

func (s *StateSigner) Sign(shop, vrn string) (string, error) {
	now := s.now()
	claims := &StateClaims{
		Shop: shop,
		VRN:  vrn,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign oauth state: %w", err)
	}
	return signed, nil
}

func (s *StateSigner) Verify(state string) (*StateClaims, error) {
	if state == "" {
		return nil, ErrInvalidState
	}
	claims := &StateClaims{}
	token, err := jwt.ParseWithClaims(state, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return nil, ErrInvalidState
	}
	if claims.Shop == "" || claims.VRN == "" {
		return nil, ErrInvalidState
	}
	return claims, nil
}

// ── OAuth flow ────────────────────────────────────────────────────────────────

// OAuth runs the authorization-code flow and stores the resulting tokens.
type OAuth struct {
	config     *oauth2.Config
	state      *StateSigner
	tokens     core.TokenStore
	httpClient *http.Client
}

func NewOAuth(cfg config.HMRCConfig, stateSecret string, tokens core.TokenStore) *OAuth {
	base := strings.TrimRight(cfg.BaseURL, "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &OAuth{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       defaultScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/oauth/authorize",
				TokenURL:  base + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		state:      NewStateSigner(stateSecret),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// AuthCodeURL returns the HMRC consent URL for the shop and VRN.
func (o *OAuth) AuthCodeURL(shop, vrn string) (string, error) {
	if shop == "" || vrn == "" {
		return "", fmt.Errorf("shop and vrn are required")
	}
	state, err := o.state.Sign(shop, vrn)
	if err != nil {
		return "", err
	}
	return o.config.AuthCodeURL(state), nil
}

// Exchange verifies state, trades the code for tokens and stores them.
func (o *OAuth) Exchange(ctx context.Context, code, state string) (*core.HMRCToken, error) {
	claims, err := o.state.Verify(state)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, fmt.Errorf("authorization code is required")
	}

	tok, err := o.config.Exchange(o.clientContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("hmrc token exchange failed: %w", err)
	}
	stored := tokenFromOAuth(claims.Shop, claims.VRN, tok, "")
	if err := o.tokens.Upsert(ctx, stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// refresh trades a refresh token for a new pair.
func (o *OAuth) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	src := o.config.TokenSource(o.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("hmrc token refresh failed: %w", err)
	}
	return tok, nil
}

func (o *OAuth) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
}

func tokenFromOAuth(shop, vrn string, tok *oauth2.Token, previousRefresh string) core.HMRCToken {
	t := core.HMRCToken{
		ShopDomain:   shop,
		VRN:          vrn,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    strings.ToLower(tok.TokenType),
		ExpiresAt:    tok.Expiry,
	}
	if t.RefreshToken == "" {
		t.RefreshToken = previousRefresh
	}
	if t.TokenType == "" {
		t.TokenType = "bearer"
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		t.Scope = scope
	}
	// HMRC always sends expires_in; assume the documented four hours if not.
	if t.ExpiresAt.IsZero() {
		t.ExpiresAt = time.Now().Add(4 * time.Hour)
	}
	return t
}
