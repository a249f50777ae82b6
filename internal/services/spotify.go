// Spotify API implementation of [Player]
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/desertthunder/auxfm/internal/models"
	"github.com/desertthunder/auxfm/internal/shared"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"

	trackURIPrefix = "spotify:track:"
)

// Spotify allows bursts but throttles sustained traffic; stay under the
// rolling 30s window.
const requestsPerSecond = 5

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// SpotifyArtist represents a Spotify artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// SpotifyAlbum represents a Spotify album.
type SpotifyAlbum struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Images []SpotifyImage `json:"images"`
	URI    string         `json:"uri"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Artists    []SpotifyArtist `json:"artists"`
	Album      SpotifyAlbum    `json:"album"`
	DurationMS int             `json:"duration_ms"`
	URI        string          `json:"uri"`
}

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Product     string `json:"product"` // premium, free, etc.
}

// SpotifyPlayerState represents the /me/player/currently-playing response.
type SpotifyPlayerState struct {
	Item       *SpotifyTrack `json:"item"`
	ProgressMS int           `json:"progress_ms"`
	IsPlaying  bool          `json:"is_playing"`
}

// SpotifyService implements the [Player] interface for the Spotify Web API.
// Uses [oauth2] for authentication and [rate.Limiter] to stay inside the
// API's rolling rate window.
type SpotifyService struct {
	config     *oauth2.Config
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
}

// NewSpotifyService creates a new Spotify service with the given OAuth2 credentials.
func NewSpotifyService(creds shared.SpotifyConfig) (*SpotifyService, error) {
	if creds.ClientID == "" {
		return nil, fmt.Errorf("%w: missing spotify client_id", shared.ErrMissingCredentials)
	}
	if creds.ClientSecret == "" {
		return nil, fmt.Errorf("%w: missing spotify client_secret", shared.ErrMissingCredentials)
	}

	redirectURI := creds.RedirectURI
	if redirectURI == "" {
		redirectURI = "http://localhost:3000/auth/callback"
	}

	config := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes: []string{
			"user-read-private",
			"user-read-playback-state",
			"user-modify-playback-state",
			"user-read-currently-playing",
		},
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: spotifyTokenURL,
		},
	}

	return &SpotifyService{
		config:     config,
		httpClient: http.DefaultClient,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		baseURL:    spotifyBaseURL,
	}, nil
}

func (s *SpotifyService) Name() string {
	return "Spotify"
}

// AuthURL returns the OAuth2 authorization URL for user login.
func (s *SpotifyService) AuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// ExchangeCode trades an authorization code for a Spotify token set.
func (s *SpotifyService) ExchangeCode(ctx context.Context, code string) (*TokenSet, error) {
	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: auth code exchange: %v", shared.ErrUnauthorized, err)
	}
	return tokenSet(token, ""), nil
}

// Refresh trades a refresh token for a fresh token set. Spotify does not
// always rotate the refresh token; the old one is kept when the response
// omits it.
func (s *SpotifyService) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, shared.ErrNoRefreshToken
	}

	src := s.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrUnauthorized, err)
	}
	return tokenSet(token, refreshToken), nil
}

func tokenSet(token *oauth2.Token, fallbackRefresh string) *TokenSet {
	ts := &TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    int(token.ExpiresIn),
	}
	if ts.RefreshToken == "" {
		ts.RefreshToken = fallbackRefresh
	}
	if ts.ExpiresIn <= 0 && !token.Expiry.IsZero() {
		ts.ExpiresIn = int(time.Until(token.Expiry).Seconds())
	}
	if ts.ExpiresIn <= 0 {
		ts.ExpiresIn = 3600
	}
	return ts
}

// AccountID returns the Spotify user id for the token's account.
func (s *SpotifyService) AccountID(ctx context.Context, accessToken string) (string, error) {
	var user SpotifyUser
	if err := s.doRequest(ctx, accessToken, http.MethodGet, "/me", nil, &user, shared.ErrAPIRequest); err != nil {
		return "", err
	}
	return user.ID, nil
}

// CurrentlyPlaying polls the player state. Spotify answers 204 (or a null
// item) when nothing is playing; that maps to IsPlaying=false with a zero
// track rather than an error.
func (s *SpotifyService) CurrentlyPlaying(ctx context.Context, accessToken string) (*PlayerState, error) {
	var state SpotifyPlayerState
	err := s.doRequest(ctx, accessToken, http.MethodGet, "/me/player/currently-playing", nil, &state, shared.ErrDeviceNotFound)
	if err != nil {
		return nil, err
	}
	if state.Item == nil {
		return &PlayerState{IsPlaying: false}, nil
	}

	return &PlayerState{
		Track:      trackFromSpotify(*state.Item, state.ProgressMS),
		ProgressMS: state.ProgressMS,
		IsPlaying:  state.IsPlaying,
	}, nil
}

// StartTrack starts playback of the track on the given device.
func (s *SpotifyService) StartTrack(ctx context.Context, accessToken, trackURI, deviceID string) error {
	endpoint := "/me/player/play"
	if deviceID != "" {
		endpoint += "?device_id=" + url.QueryEscape(deviceID)
	}

	body := map[string]any{"uris": []string{canonicalURI(trackURI)}}
	return s.doRequest(ctx, accessToken, http.MethodPut, endpoint, body, nil, shared.ErrDeviceNotFound)
}

// SetDevice transfers playback to the given device.
func (s *SpotifyService) SetDevice(ctx context.Context, accessToken, deviceID string, resume bool) error {
	body := map[string]any{"device_ids": []string{deviceID}, "play": resume}
	return s.doRequest(ctx, accessToken, http.MethodPut, "/me/player", body, nil, shared.ErrDeviceNotFound)
}

// TrackMetadata fetches track metadata by URI (or bare id).
func (s *SpotifyService) TrackMetadata(ctx context.Context, accessToken, trackURI string) (*models.Track, error) {
	id := trackID(trackURI)
	if id == "" {
		return nil, fmt.Errorf("%w: empty track uri", shared.ErrInvalidInput)
	}

	var st SpotifyTrack
	endpoint := fmt.Sprintf("/tracks/%s", url.PathEscape(id))
	if err := s.doRequest(ctx, accessToken, http.MethodGet, endpoint, nil, &st, shared.ErrTrackNotFound); err != nil {
		return nil, err
	}

	track := trackFromSpotify(st, 0)
	return &track, nil
}

// trackID extracts the bare track id from a spotify:track: URI; bare ids
// pass through unchanged.
func trackID(uri string) string {
	return strings.TrimPrefix(strings.TrimSpace(uri), trackURIPrefix)
}

func canonicalURI(uri string) string {
	uri = strings.TrimSpace(uri)
	if strings.HasPrefix(uri, trackURIPrefix) {
		return uri
	}
	return trackURIPrefix + uri
}

func trackFromSpotify(st SpotifyTrack, progressMS int) models.Track {
	track := models.Track{
		ID:         st.URI,
		Name:       st.Name,
		DurationMS: st.DurationMS,
		ProgressMS: progressMS,
	}
	if track.ID == "" {
		track.ID = trackURIPrefix + st.ID
	}
	if len(st.Artists) > 0 {
		track.Artist = st.Artists[0].Name
	}
	if len(st.Album.Images) > 0 {
		track.CoverURL = st.Album.Images[0].URL
	}
	return track
}

// doRequest performs an authenticated, rate-limited HTTP request to the
// Spotify API, mapping response statuses onto the shared error taxonomy.
// notFound is the sentinel a 404 wraps, since its meaning depends on the
// endpoint (unknown track vs. no available device).
func (s *SpotifyService) doRequest(ctx context.Context, accessToken, method, endpoint string, body any, result any, notFound error) error {
	if accessToken == "" {
		return fmt.Errorf("%w: no access token", shared.ErrUnauthorized)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}

	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: spotify API status %d", shared.ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: spotify API status 404", notFound)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return fmt.Errorf("%w: spotify API status %d", shared.ErrServiceUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: spotify API status %d", shared.ErrAPIRequest, resp.StatusCode)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
