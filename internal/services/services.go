// package services defines interface Player for interacting with streaming provider HTTP APIs
package services

import (
	"context"

	"github.com/desertthunder/auxfm/internal/models"
)

// Player is the stateless facade over a streaming provider's playback and
// account operations. It holds no session state; callers pass the access
// token for every request.
//
// Every call fails with a distinguishable error kind: [shared.ErrUnauthorized]
// (expired or invalid token), [shared.ErrServiceUnavailable] (network or 5xx),
// or a not-found condition ([shared.ErrTrackNotFound], [shared.ErrDeviceNotFound]).
// The coordinator's retry and refresh policy depends on this distinction.
type Player interface {
	// Name returns the provider name (e.g. "Spotify")
	Name() string

	// AuthURL returns the provider's authorization URL for user login.
	AuthURL(state string) string

	// ExchangeCode trades an authorization code for a token set.
	ExchangeCode(ctx context.Context, code string) (*TokenSet, error)

	// Refresh trades a refresh token for a new token set.
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)

	// AccountID returns the external account id of the token's user.
	AccountID(ctx context.Context, accessToken string) (string, error)

	// CurrentlyPlaying polls the provider's player state. A provider
	// reporting no active playback yields IsPlaying=false with a zero
	// track, not an error.
	CurrentlyPlaying(ctx context.Context, accessToken string) (*PlayerState, error)

	// StartTrack starts playback of the track on the given device.
	// An empty deviceID targets the account's active device.
	StartTrack(ctx context.Context, accessToken, trackURI, deviceID string) error

	// SetDevice transfers playback to the given device.
	SetDevice(ctx context.Context, accessToken, deviceID string, resume bool) error

	// TrackMetadata fetches track metadata by provider URI.
	TrackMetadata(ctx context.Context, accessToken, trackURI string) (*models.Track, error)
}

// TokenSet is the result of an authorization code exchange or a refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int // seconds
}

// PlayerState is a snapshot of the provider's player.
type PlayerState struct {
	Track      models.Track
	ProgressMS int
	IsPlaying  bool
}

// Remaining returns the observed time left until the reported track ends,
// in milliseconds.
func (p *PlayerState) Remaining() int {
	remaining := p.Track.DurationMS - p.ProgressMS
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}
