package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TokenStore persists HMRC OAuth tokens per (shop, VRN).
type TokenStore interface {
	Latest(ctx context.Context, shop, vrn string) (*HMRCToken, error)
	// Upsert stores a token pair from a fresh authorization.
	Upsert(ctx context.Context, tok HMRCToken) error
	// UpdateIfUnchanged replaces the pair only while the stored refresh token
	// still equals previousRefresh. It reports false when another refresher
	// got there first.
	UpdateIfUnchanged(ctx context.Context, tok HMRCToken, previousRefresh string) (bool, error)
}

type tokenStore struct {
	pool *pgxpool.Pool
}

func NewTokenStore(pool *pgxpool.Pool) TokenStore {
	return &tokenStore{pool: pool}
}

func (s *tokenStore) Latest(ctx context.Context, shop, vrn string) (*HMRCToken, error) {
	t := &HMRCToken{ShopDomain: shop, VRN: vrn}
	var scope *string
	err := s.pool.QueryRow(ctx, `
		SELECT access_token, refresh_token, token_type, scope, expires_at, updated_at
		FROM hmrc_tokens
		WHERE shop_domain = $1 AND vrn = $2
	`, shop, vrn).Scan(&t.AccessToken, &t.RefreshToken, &t.TokenType, &scope, &t.ExpiresAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("hmrc token for %s/%s: %w", shop, vrn, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch hmrc token: %w", err)
	}
	if scope != nil {
		t.Scope = *scope
	}
	return t, nil
}

func (s *tokenStore) Upsert(ctx context.Context, tok HMRCToken) error {
	if tok.TokenType == "" {
		tok.TokenType = "bearer"
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO hmrc_tokens (shop_domain, vrn, access_token, refresh_token, token_type, scope, expires_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		ON CONFLICT (shop_domain, vrn) DO UPDATE SET
			access_token  = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_type    = EXCLUDED.token_type,
			scope         = EXCLUDED.scope,
			expires_at    = EXCLUDED.expires_at,
			updated_at    = NOW()
	`, tok.ShopDomain, tok.VRN, tok.AccessToken, tok.RefreshToken, tok.TokenType, tok.Scope, tok.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to store hmrc token: %w", err)
	}
	return nil
}

func (s *tokenStore) UpdateIfUnchanged(ctx context.Context, tok HMRCToken, previousRefresh string) (bool, error) {
	if tok.TokenType == "" {
		tok.TokenType = "bearer"
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE hmrc_tokens
		SET access_token = $3, refresh_token = $4, token_type = $5, scope = NULLIF($6, ''),
		    expires_at = $7, updated_at = NOW()
		WHERE shop_domain = $1 AND vrn = $2 AND refresh_token = $8
	`, tok.ShopDomain, tok.VRN, tok.AccessToken, tok.RefreshToken, tok.TokenType, tok.Scope, tok.ExpiresAt, previousRefresh)
	if err != nil {
		return false, fmt.Errorf("failed to update hmrc token: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
