package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/auxfm/internal/models"
	"github.com/desertthunder/auxfm/internal/services"
	"github.com/desertthunder/auxfm/internal/shared"
	testhelpers "github.com/desertthunder/auxfm/internal/testing"
)

func guardSession(acquiredAt time.Time, expiresIn int) *models.Session {
	creds := models.Credentials{
		AccessToken:  "access",
		RefreshToken: "refresh",
		AcquiredAt:   acquiredAt,
		ExpiresIn:    expiresIn,
	}
	return models.NewSession("ABCD2345", "owner-1", "acct", creds)
}

func TestCredentialGuard(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Fresh Token Makes No Remote Call", func(t *testing.T) {
		player := &testhelpers.MockPlayer{}
		guard := NewCredentialGuard(player)
		guard.now = func() time.Time { return now }

		sess := guardSession(now.Add(-10*time.Minute), 3600)

		refreshed, err := guard.EnsureFresh(ctx, sess)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if refreshed {
			t.Error("fresh credentials should not be refreshed")
		}
		if player.RefreshCalls != 0 {
			t.Errorf("expected zero remote calls, got %d", player.RefreshCalls)
		}
		if sess.Credentials.AccessToken != "access" {
			t.Error("credentials should be untouched")
		}
	})

	t.Run("Expired Token Refreshes Exactly Once", func(t *testing.T) {
		player := &testhelpers.MockPlayer{
			RefreshTokens: &services.TokenSet{AccessToken: "new-access", RefreshToken: "new-refresh", ExpiresIn: 1800},
		}
		guard := NewCredentialGuard(player)
		guard.now = func() time.Time { return now }

		sess := guardSession(now.Add(-2*time.Hour), 3600)

		refreshed, err := guard.EnsureFresh(ctx, sess)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !refreshed {
			t.Error("expired credentials should report a refresh")
		}
		if player.RefreshCalls != 1 {
			t.Errorf("expected exactly one remote call, got %d", player.RefreshCalls)
		}
		if sess.Credentials.AccessToken != "new-access" {
			t.Errorf("access token not rotated: %q", sess.Credentials.AccessToken)
		}
		if sess.Credentials.RefreshToken != "new-refresh" {
			t.Errorf("refresh token not rotated: %q", sess.Credentials.RefreshToken)
		}
		if sess.Credentials.ExpiresIn != 1800 {
			t.Errorf("expiry window not updated: %d", sess.Credentials.ExpiresIn)
		}
		if !sess.Credentials.AcquiredAt.Equal(now) {
			t.Errorf("acquisition time not updated: %v", sess.Credentials.AcquiredAt)
		}
	})

	t.Run("Rejected Refresh Surfaces", func(t *testing.T) {
		player := &testhelpers.MockPlayer{RefreshErr: errors.New("revoked")}
		guard := NewCredentialGuard(player)
		guard.now = func() time.Time { return now }

		sess := guardSession(now.Add(-2*time.Hour), 3600)

		_, err := guard.EnsureFresh(ctx, sess)
		if !errors.Is(err, shared.ErrRefreshFailed) {
			t.Errorf("expected ErrRefreshFailed, got %v", err)
		}
		if sess.Credentials.AccessToken != "access" {
			t.Error("failed refresh must not mutate credentials")
		}
	})

	t.Run("Inactive Session", func(t *testing.T) {
		player := &testhelpers.MockPlayer{}
		guard := NewCredentialGuard(player)

		sess := guardSession(now, 3600)
		sess.Credentials.AccessToken = ""

		_, err := guard.EnsureFresh(ctx, sess)
		if !errors.Is(err, shared.ErrInactiveSession) {
			t.Errorf("expected ErrInactiveSession, got %v", err)
		}
	})
}
