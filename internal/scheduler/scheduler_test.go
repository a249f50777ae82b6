package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/auxfm/internal/models"
	"github.com/desertthunder/auxfm/internal/services"
	"github.com/desertthunder/auxfm/internal/shared"
	testhelpers "github.com/desertthunder/auxfm/internal/testing"
)

type stubReader struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

func newStubReader(sessions ...*models.Session) *stubReader {
	r := &stubReader{sessions: make(map[string]*models.Session)}
	for _, s := range sessions {
		r.sessions[s.Passcode] = s
	}
	return r
}

func (r *stubReader) Load(ctx context.Context, passcode string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[passcode]
	if !ok {
		return nil, shared.ErrSessionNotFound
	}
	return sess, nil
}

func (r *stubReader) ListPlaying(ctx context.Context) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var playing []*models.Session
	for _, s := range r.sessions {
		if s.IsPlaying {
			playing = append(playing, s)
		}
	}
	return playing, nil
}

type stubAdvancer struct {
	mu         sync.Mutex
	Advanced   []string
	AdvanceErr error
	Stopped    []string

	Refreshed    bool
	RefreshErr   error
	RefreshCalls int
}

func (a *stubAdvancer) Advance(ctx context.Context, passcode string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.AdvanceErr != nil {
		return a.AdvanceErr
	}
	a.Advanced = append(a.Advanced, passcode)
	return nil
}

func (a *stubAdvancer) MarkStopped(ctx context.Context, passcode string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Stopped = append(a.Stopped, passcode)
	return nil
}

func (a *stubAdvancer) RefreshCredentials(ctx context.Context, passcode string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.RefreshCalls++
	if a.RefreshErr != nil {
		return false, a.RefreshErr
	}
	return a.Refreshed, nil
}

func playerState(track models.Track, playing bool) *services.PlayerState {
	return &services.PlayerState{Track: track, ProgressMS: track.ProgressMS, IsPlaying: playing}
}

func testConfig() shared.RadioConfig {
	return shared.RadioConfig{GuardBandMS: 1000, NearEndMS: 5000, RetryBackoffMS: 3000}
}

func playingSession(passcode string, track models.Track) *models.Session {
	creds := models.Credentials{
		AccessToken:  "access",
		RefreshToken: "refresh",
		AcquiredAt:   time.Now().UTC(),
		ExpiresIn:    3600,
	}
	sess := models.NewSession(passcode, "owner-1", "acct", creds)
	sess.SetCurrent(models.QueueEntry{Track: track, ProposedBy: "owner-1"})
	sess.IsPlaying = true
	return sess
}

func newTestScheduler(reader *stubReader, player *testhelpers.MockPlayer) (*Scheduler, *stubAdvancer, *MockClock) {
	sched := New(reader, player, testConfig(), shared.NewLogger(io.Discard))
	advancer := &stubAdvancer{}
	sched.Bind(advancer)
	clock := NewMockClock(time.Now())
	sched.clock = clock
	return sched, advancer, clock
}

func TestArm(t *testing.T) {
	track := models.Track{ID: "spotify:track:a", DurationMS: 200000, ProgressMS: 50000}

	t.Run("Delay Is Remaining Minus Guard Band", func(t *testing.T) {
		sched, _, clock := newTestScheduler(newStubReader(), &testhelpers.MockPlayer{})

		sched.Arm("SESS2345", track)

		pending := clock.Pending()
		if len(pending) != 1 {
			t.Fatalf("expected one pending timer, got %d", len(pending))
		}
		want := 149 * time.Second
		if pending[0] != want {
			t.Errorf("expected delay %v, got %v", want, pending[0])
		}
		if !sched.Armed("SESS2345") {
			t.Error("session should report armed")
		}
	})

	t.Run("Rearm Replaces The Pending Timer", func(t *testing.T) {
		sched, _, clock := newTestScheduler(newStubReader(), &testhelpers.MockPlayer{})

		sched.Arm("SESS2345", track)
		sched.Arm("SESS2345", models.Track{ID: "spotify:track:b", DurationMS: 60000})

		pending := clock.Pending()
		if len(pending) != 1 {
			t.Fatalf("a session must never hold two timers, got %d", len(pending))
		}
		if pending[0] != 59*time.Second {
			t.Errorf("expected the replacement delay, got %v", pending[0])
		}
	})

	t.Run("Nearly Over Track Fires Immediately", func(t *testing.T) {
		sched, _, clock := newTestScheduler(newStubReader(), &testhelpers.MockPlayer{})

		sched.Arm("SESS2345", models.Track{ID: "spotify:track:a", DurationMS: 1000, ProgressMS: 900})

		pending := clock.Pending()
		if len(pending) != 1 || pending[0] != 0 {
			t.Errorf("expected a zero delay, got %v", pending)
		}
	})

	t.Run("Cancel", func(t *testing.T) {
		sched, advancer, clock := newTestScheduler(newStubReader(), &testhelpers.MockPlayer{})

		sched.Arm("SESS2345", track)
		sched.Cancel("SESS2345")

		if sched.Armed("SESS2345") {
			t.Error("canceled session should not report armed")
		}
		if clock.Fire() != 0 {
			t.Error("canceled timer must not fire")
		}
		if len(advancer.Advanced) != 0 {
			t.Errorf("no advance expected, got %v", advancer.Advanced)
		}
	})
}

func TestFire(t *testing.T) {
	t.Run("Finished Track Advances", func(t *testing.T) {
		sess := playingSession("SESS2345", models.Track{ID: "spotify:track:a", DurationMS: 200000})
		player := &testhelpers.MockPlayer{} // zero state: nothing playing
		sched, advancer, clock := newTestScheduler(newStubReader(sess), player)

		sched.Arm("SESS2345", sess.Current.Track)
		clock.Fire()

		if len(advancer.Advanced) != 1 || advancer.Advanced[0] != "SESS2345" {
			t.Errorf("expected one advance, got %v", advancer.Advanced)
		}
		if sched.Armed("SESS2345") {
			t.Error("the fired timer should be gone; advancing arms the next one")
		}
	})

	t.Run("Near End Advances", func(t *testing.T) {
		track := models.Track{ID: "spotify:track:a", DurationMS: 200000, ProgressMS: 197000}
		sess := playingSession("SESS2345", track)
		player := &testhelpers.MockPlayer{State: playerState(track, true)}
		sched, advancer, clock := newTestScheduler(newStubReader(sess), player)

		sched.Arm("SESS2345", track)
		clock.Fire()

		if len(advancer.Advanced) != 1 {
			t.Errorf("a track inside the near-end window should advance, got %v", advancer.Advanced)
		}
	})

	t.Run("Paused Remote Reschedules", func(t *testing.T) {
		believed := models.Track{ID: "spotify:track:a", DurationMS: 200000, ProgressMS: 199000}
		observed := models.Track{ID: "spotify:track:a", DurationMS: 200000, ProgressMS: 100000}
		sess := playingSession("SESS2345", believed)
		player := &testhelpers.MockPlayer{State: playerState(observed, true)}
		sched, advancer, clock := newTestScheduler(newStubReader(sess), player)

		sched.Arm("SESS2345", believed)
		clock.Fire()

		if len(advancer.Advanced) != 0 {
			t.Errorf("a mid-track session must not advance, got %v", advancer.Advanced)
		}
		pending := clock.Pending()
		if len(pending) != 1 || pending[0] != 99*time.Second {
			t.Errorf("expected re-arm against the observed position, got %v", pending)
		}
	})

	t.Run("Transient Poll Failure Backs Off", func(t *testing.T) {
		track := models.Track{ID: "spotify:track:a", DurationMS: 200000}
		sess := playingSession("SESS2345", track)
		player := &testhelpers.MockPlayer{StateErr: shared.ErrServiceUnavailable}
		sched, advancer, clock := newTestScheduler(newStubReader(sess), player)

		sched.Arm("SESS2345", track)
		clock.Fire()

		if len(advancer.Advanced) != 0 {
			t.Errorf("a failed poll must not advance, got %v", advancer.Advanced)
		}
		pending := clock.Pending()
		if len(pending) != 1 || pending[0] != 3*time.Second {
			t.Errorf("expected the retry backoff delay, got %v", pending)
		}
	})

	t.Run("Unauthorized Poll Refreshes And Retries", func(t *testing.T) {
		// a stale token says nothing about where the track is; rotate the
		// credentials and poll again instead of skipping the rest of it
		track := models.Track{ID: "spotify:track:a", DurationMS: 200000}
		sess := playingSession("SESS2345", track)
		player := &testhelpers.MockPlayer{StateErr: shared.ErrUnauthorized}
		sched, advancer, clock := newTestScheduler(newStubReader(sess), player)
		advancer.Refreshed = true

		sched.Arm("SESS2345", track)
		clock.Fire()

		if len(advancer.Advanced) != 0 {
			t.Errorf("a rejected poll must not advance, got %v", advancer.Advanced)
		}
		if advancer.RefreshCalls != 1 {
			t.Errorf("expected one credential refresh, got %d", advancer.RefreshCalls)
		}
		pending := clock.Pending()
		if len(pending) != 1 || pending[0] != 3*time.Second {
			t.Errorf("expected a re-poll after the retry backoff, got %v", pending)
		}
	})

	t.Run("Unrefreshable Token Marks Stopped", func(t *testing.T) {
		track := models.Track{ID: "spotify:track:a", DurationMS: 200000}
		sess := playingSession("SESS2345", track)
		player := &testhelpers.MockPlayer{StateErr: shared.ErrUnauthorized}
		sched, advancer, clock := newTestScheduler(newStubReader(sess), player)
		advancer.RefreshErr = shared.ErrRefreshFailed

		sched.Arm("SESS2345", track)
		clock.Fire()

		if len(advancer.Stopped) != 1 || advancer.Stopped[0] != "SESS2345" {
			t.Errorf("expected the session marked stopped, got %v", advancer.Stopped)
		}
		if len(advancer.Advanced) != 0 {
			t.Errorf("no advance expected, got %v", advancer.Advanced)
		}
		if sched.Armed("SESS2345") {
			t.Error("a dead session must not be re-armed")
		}
	})

	t.Run("Revoked Access Marks Stopped", func(t *testing.T) {
		// the stored token is inside its validity window yet the provider
		// rejects it: refreshing is a no-op, so access was revoked
		track := models.Track{ID: "spotify:track:a", DurationMS: 200000}
		sess := playingSession("SESS2345", track)
		player := &testhelpers.MockPlayer{StateErr: shared.ErrUnauthorized}
		sched, advancer, clock := newTestScheduler(newStubReader(sess), player)

		sched.Arm("SESS2345", track)
		clock.Fire()

		if len(advancer.Stopped) != 1 {
			t.Errorf("expected the session marked stopped, got %v", advancer.Stopped)
		}
	})

	t.Run("Superseded Callback Leaves Successor Armed", func(t *testing.T) {
		// the clock can go off concurrently with an Arm for the same session;
		// the late callback must not tear down the timer that replaced it
		track := models.Track{ID: "spotify:track:a", DurationMS: 200000}
		sess := playingSession("SESS2345", track)
		sched, advancer, clock := newTestScheduler(newStubReader(sess), &testhelpers.MockPlayer{})

		sched.Arm("SESS2345", track)
		clock.mu.Lock()
		stale := clock.timers[0]
		stale.fired = true // went off, callback not yet run
		clock.mu.Unlock()

		sched.Arm("SESS2345", models.Track{ID: "spotify:track:b", DurationMS: 600000})
		stale.f()

		if !sched.Armed("SESS2345") {
			t.Error("the replacement timer must stay armed")
		}
		pending := clock.Pending()
		if len(pending) != 1 || pending[0] != 599*time.Second {
			t.Errorf("expected only the replacement timer pending, got %v", pending)
		}
		if len(advancer.Advanced) != 0 {
			t.Errorf("a superseded callback must not advance, got %v", advancer.Advanced)
		}
	})

	t.Run("Stopped Session Does Nothing", func(t *testing.T) {
		track := models.Track{ID: "spotify:track:a", DurationMS: 200000}
		sess := playingSession("SESS2345", track)
		sess.IsPlaying = false
		player := &testhelpers.MockPlayer{}
		sched, advancer, clock := newTestScheduler(newStubReader(sess), player)

		sched.Arm("SESS2345", track)
		clock.Fire()

		if len(advancer.Advanced) != 0 {
			t.Errorf("a stopped session must not advance, got %v", advancer.Advanced)
		}
		if player.StateCalls != 0 {
			t.Error("a stopped session must not be polled")
		}
	})

	t.Run("Missing Device Marks Stopped", func(t *testing.T) {
		track := models.Track{ID: "spotify:track:a", DurationMS: 200000}
		sess := playingSession("SESS2345", track)
		player := &testhelpers.MockPlayer{}
		sched, advancer, clock := newTestScheduler(newStubReader(sess), player)
		advancer.AdvanceErr = shared.ErrDeviceNotFound

		sched.Arm("SESS2345", track)
		clock.Fire()

		if len(advancer.Stopped) != 1 || advancer.Stopped[0] != "SESS2345" {
			t.Errorf("expected the session marked stopped, got %v", advancer.Stopped)
		}
		if sched.Armed("SESS2345") {
			t.Error("a dead session must not be re-armed")
		}
	})

	t.Run("Failed Advance Backs Off", func(t *testing.T) {
		track := models.Track{ID: "spotify:track:a", DurationMS: 200000}
		sess := playingSession("SESS2345", track)
		player := &testhelpers.MockPlayer{}
		sched, advancer, clock := newTestScheduler(newStubReader(sess), player)
		advancer.AdvanceErr = errors.New("transaction conflict")

		sched.Arm("SESS2345", track)
		clock.Fire()

		pending := clock.Pending()
		if len(pending) != 1 || pending[0] != 3*time.Second {
			t.Errorf("expected the retry backoff delay, got %v", pending)
		}
	})
}

func TestRecoverAll(t *testing.T) {
	ctx := context.Background()

	t.Run("Rearms Playing Sessions", func(t *testing.T) {
		playing := playingSession("PLAY2345", models.Track{ID: "spotify:track:a", DurationMS: 200000, ProgressMS: 60000})
		idle := playingSession("IDLE2345", models.Track{ID: "spotify:track:b", DurationMS: 200000})
		idle.IsPlaying = false
		sched, _, _ := newTestScheduler(newStubReader(playing, idle), &testhelpers.MockPlayer{})

		if err := sched.RecoverAll(ctx); err != nil {
			t.Fatalf("recover failed: %v", err)
		}

		if !sched.Armed("PLAY2345") {
			t.Error("playing session should be re-armed")
		}
		if sched.Armed("IDLE2345") {
			t.Error("idle session must not be armed")
		}
	})

	t.Run("Inconsistent Row Is Marked Stopped", func(t *testing.T) {
		broken := playingSession("BRKN2345", models.Track{ID: "spotify:track:a", DurationMS: 200000})
		broken.Current = nil
		sched, advancer, _ := newTestScheduler(newStubReader(broken), &testhelpers.MockPlayer{})

		if err := sched.RecoverAll(ctx); err != nil {
			t.Fatalf("recover failed: %v", err)
		}

		if len(advancer.Stopped) != 1 || advancer.Stopped[0] != "BRKN2345" {
			t.Errorf("expected the session marked stopped, got %v", advancer.Stopped)
		}
		if sched.Armed("BRKN2345") {
			t.Error("an inconsistent session must not be armed")
		}
	})
}

func TestShutdown(t *testing.T) {
	track := models.Track{ID: "spotify:track:a", DurationMS: 200000}
	sched, advancer, clock := newTestScheduler(newStubReader(), &testhelpers.MockPlayer{})

	sched.Arm("SESS2345", track)
	sched.Shutdown()

	if sched.Armed("SESS2345") {
		t.Error("shutdown should drop pending timers")
	}
	if clock.Fire() != 0 {
		t.Error("stopped timers must not fire")
	}
	if len(advancer.Advanced) != 0 {
		t.Errorf("no advance expected after shutdown, got %v", advancer.Advanced)
	}

	sched.Arm("OTHR2345", track)
	if sched.Armed("OTHR2345") {
		t.Error("arming after shutdown must be refused")
	}
}
