// package testing contains shared testing utilities
package testing

import (
	"context"
	"sync"

	"github.com/desertthunder/auxfm/internal/models"
	"github.com/desertthunder/auxfm/internal/services"
)

// MockPlayer is a scriptable test double for [services.Player].
//
// Zero value behavior: every call succeeds with empty results. Tests set
// the exported fields to script responses and inspect the recorded calls.
type MockPlayer struct {
	mu sync.Mutex

	ExchangeTokens *services.TokenSet
	ExchangeErr    error

	RefreshTokens *services.TokenSet
	RefreshErr    error
	RefreshCalls  int

	Account    string
	AccountErr error

	State      *services.PlayerState
	StateErr   error
	StateCalls int

	Started  []string // canonical track URIs passed to StartTrack
	StartErr error

	Tracks      map[string]*models.Track // keyed by requested URI
	MetadataErr error

	Devices   []string // device ids passed to SetDevice
	DeviceErr error
}

func (m *MockPlayer) Name() string { return "mock" }

func (m *MockPlayer) AuthURL(state string) string {
	return "https://auth.example/authorize?state=" + state
}

func (m *MockPlayer) ExchangeCode(ctx context.Context, code string) (*services.TokenSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ExchangeErr != nil {
		return nil, m.ExchangeErr
	}
	if m.ExchangeTokens != nil {
		return m.ExchangeTokens, nil
	}
	return &services.TokenSet{AccessToken: "access-" + code, RefreshToken: "refresh-" + code, ExpiresIn: 3600}, nil
}

func (m *MockPlayer) Refresh(ctx context.Context, refreshToken string) (*services.TokenSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RefreshCalls++
	if m.RefreshErr != nil {
		return nil, m.RefreshErr
	}
	if m.RefreshTokens != nil {
		return m.RefreshTokens, nil
	}
	return &services.TokenSet{AccessToken: "refreshed-access", RefreshToken: refreshToken, ExpiresIn: 3600}, nil
}

func (m *MockPlayer) AccountID(ctx context.Context, accessToken string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AccountErr != nil {
		return "", m.AccountErr
	}
	if m.Account != "" {
		return m.Account, nil
	}
	return "mock-account", nil
}

func (m *MockPlayer) CurrentlyPlaying(ctx context.Context, accessToken string) (*services.PlayerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StateCalls++
	if m.StateErr != nil {
		return nil, m.StateErr
	}
	if m.State != nil {
		state := *m.State
		return &state, nil
	}
	return &services.PlayerState{}, nil
}

func (m *MockPlayer) StartTrack(ctx context.Context, accessToken, trackURI, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StartErr != nil {
		return m.StartErr
	}
	m.Started = append(m.Started, trackURI)
	return nil
}

func (m *MockPlayer) SetDevice(ctx context.Context, accessToken, deviceID string, resume bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeviceErr != nil {
		return m.DeviceErr
	}
	m.Devices = append(m.Devices, deviceID)
	return nil
}

func (m *MockPlayer) TrackMetadata(ctx context.Context, accessToken, trackURI string) (*models.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MetadataErr != nil {
		return nil, m.MetadataErr
	}
	if t, ok := m.Tracks[trackURI]; ok {
		track := *t
		return &track, nil
	}
	return &models.Track{ID: trackURI, Name: "Mock Track", Artist: "Mock Artist", DurationMS: 180000}, nil
}

// StartedTracks returns a copy of the URIs passed to StartTrack.
func (m *MockPlayer) StartedTracks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Started...)
}

// FakeTimers records arm/cancel calls for assertions on scheduler wiring.
type FakeTimers struct {
	mu       sync.Mutex
	armed    map[string]models.Track
	ArmCount int
	Canceled []string
}

func NewFakeTimers() *FakeTimers {
	return &FakeTimers{armed: make(map[string]models.Track)}
}

func (f *FakeTimers) Arm(passcode string, track models.Track) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed[passcode] = track
	f.ArmCount++
}

func (f *FakeTimers) Cancel(passcode string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.armed, passcode)
	f.Canceled = append(f.Canceled, passcode)
}

func (f *FakeTimers) Armed(passcode string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.armed[passcode]
	return ok
}

// ArmedTrack returns the track last armed for the passcode.
func (f *FakeTimers) ArmedTrack(passcode string) (models.Track, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.armed[passcode]
	return t, ok
}
