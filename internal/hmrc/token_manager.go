package hmrc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"vatpilot/internal/core"
	"vatpilot/internal/telemetry"

	"go.uber.org/zap"
)

// ErrNotConnected is returned when no HMRC authorization exists for the shop
// and VRN.
var ErrNotConnected = errors.New("hmrc is not connected for this VRN")

// refreshSkew is how close to expiry a token may get before it is refreshed.
const refreshSkew = 60 * time.Second

// TokenManager hands out valid access tokens, refreshing them when close to
// expiry. Concurrent refreshes across processes are settled by the
// conditional update in the token store: the loser re-reads the winner's
// token.
type TokenManager struct {
	oauth   *OAuth
	store   core.TokenStore
	metrics *telemetry.Metrics
	log     *zap.Logger
	now     func() time.Time

	mu sync.Mutex
}

func NewTokenManager(oauth *OAuth, store core.TokenStore, metrics *telemetry.Metrics, log *zap.Logger) *TokenManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &TokenManager{oauth: oauth, store: store, metrics: metrics, log: log, now: time.Now}
}

// AccessToken returns a bearer token valid for at least refreshSkew.
func (m *TokenManager) AccessToken(ctx context.Context, shop, vrn string) (string, error) {
	tok, err := m.latest(ctx, shop, vrn)
	if err != nil {
		return "", err
	}
	if m.fresh(tok) {
		return tok.AccessToken, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another goroutine may have refreshed while we waited.
	if tok, err = m.latest(ctx, shop, vrn); err != nil {
		return "", err
	}
	if m.fresh(tok) {
		return tok.AccessToken, nil
	}

	refreshed, err := m.oauth.refresh(ctx, tok.RefreshToken)
	if err != nil {
		m.metrics.TokenRefresh("failed")
		m.log.Warn("hmrc token refresh failed", zap.String("shop", shop), zap.String("vrn", vrn), zap.Error(err))
		return "", err
	}
	next := tokenFromOAuth(shop, vrn, refreshed, tok.RefreshToken)

	won, err := m.store.UpdateIfUnchanged(ctx, next, tok.RefreshToken)
	if err != nil {
		return "", err
	}
	if won {
		m.metrics.TokenRefresh("refreshed")
		return next.AccessToken, nil
	}

	m.metrics.TokenRefresh("lost_race")
	m.log.Info("hmrc token refreshed concurrently, using stored token", zap.String("shop", shop), zap.String("vrn", vrn))
	winner, err := m.latest(ctx, shop, vrn)
	if err != nil {
		return "", err
	}
	return winner.AccessToken, nil
}

func (m *TokenManager) fresh(tok *core.HMRCToken) bool {
	return tok.AccessToken != "" && tok.ExpiresAt.Sub(m.now()) > refreshSkew
}

func (m *TokenManager) latest(ctx context.Context, shop, vrn string) (*core.HMRCToken, error) {
	tok, err := m.store.Latest(ctx, shop, vrn)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotConnected, vrn)
		}
		return nil, err
	}
	return tok, nil
}
