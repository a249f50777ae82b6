package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/auxfm/internal/metrics"
	"github.com/desertthunder/auxfm/internal/models"
	"github.com/desertthunder/auxfm/internal/services"
	"github.com/desertthunder/auxfm/internal/shared"
)

// CredentialGuard decides whether a session's provider credentials are stale
// and refreshes them before any playback-affecting action.
type CredentialGuard struct {
	player services.Player
	now    func() time.Time
}

// NewCredentialGuard creates a guard backed by the given player facade.
func NewCredentialGuard(player services.Player) *CredentialGuard {
	return &CredentialGuard{player: player, now: time.Now}
}

// EnsureFresh refreshes the session's credentials in place when they have
// expired, reporting whether a refresh happened so the caller can persist
// the new tokens before using them. Valid credentials are a no-op with no
// remote call.
//
// A rejected refresh fails with [shared.ErrRefreshFailed]; callers must
// surface it as a reauthentication condition, never continue with the stale
// token.
func (g *CredentialGuard) EnsureFresh(ctx context.Context, sess *models.Session) (bool, error) {
	if !sess.Active() {
		return false, fmt.Errorf("%w: %s", shared.ErrInactiveSession, sess.Passcode)
	}

	if !sess.Credentials.Expired(g.now()) {
		return false, nil
	}

	tokens, err := g.player.Refresh(ctx, sess.Credentials.RefreshToken)
	if err != nil {
		return false, fmt.Errorf("%w: %v", shared.ErrRefreshFailed, err)
	}

	sess.Credentials = models.Credentials{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		AcquiredAt:   g.now().UTC(),
		ExpiresIn:    tokens.ExpiresIn,
	}
	metrics.CredentialRefreshes.Inc()

	return true, nil
}
