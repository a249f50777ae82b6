package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/auxfm/internal/metrics"
	"github.com/desertthunder/auxfm/internal/models"
	"github.com/desertthunder/auxfm/internal/services"
	"github.com/desertthunder/auxfm/internal/shared"
)

// Advancer is the slice of the coordinator the scheduler drives when a timer
// fires. Bound after construction via [Scheduler.Bind] because the
// coordinator in turn holds the scheduler as its timer source.
type Advancer interface {
	Advance(ctx context.Context, passcode string) error
	MarkStopped(ctx context.Context, passcode string) error
	RefreshCredentials(ctx context.Context, passcode string) (bool, error)
}

// SessionReader is the read-only store access the scheduler needs.
type SessionReader interface {
	Load(ctx context.Context, passcode string) (*models.Session, error)
	ListPlaying(ctx context.Context) ([]*models.Session, error)
}

// Scheduler owns at most one pending advance timer per session, keyed by
// passcode. Timers survive owner re-logins because the key never changes
// with credentials.
type Scheduler struct {
	mu       sync.Mutex
	timers   map[string]Timer
	sessions SessionReader
	player   services.Player
	advancer Advancer
	clock    Clock
	logger   *log.Logger
	closed   bool

	guardBand    time.Duration
	nearEnd      time.Duration
	retryBackoff time.Duration
}

// New creates a Scheduler. Call [Scheduler.Bind] before arming any timer.
func New(sessions SessionReader, player services.Player, cfg shared.RadioConfig, logger *log.Logger) *Scheduler {
	return &Scheduler{
		timers:       make(map[string]Timer),
		sessions:     sessions,
		player:       player,
		clock:        realClock{},
		logger:       logger,
		guardBand:    cfg.GuardBand(),
		nearEnd:      cfg.NearEnd(),
		retryBackoff: cfg.RetryBackoff(),
	}
}

// Bind attaches the advance callback target.
func (s *Scheduler) Bind(a Advancer) { s.advancer = a }

// Arm schedules a verification check shortly before the track is expected to
// end. Any previously armed timer for the session is replaced; a session
// never has more than one pending timer.
func (s *Scheduler) Arm(passcode string, track models.Track) {
	delay := track.Remaining() - s.guardBand
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.armLocked(passcode, delay)
}

// Cancel stops and removes the session's pending timer, if any.
func (s *Scheduler) Cancel(passcode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(passcode)
}

// Armed reports whether the session has a pending timer.
func (s *Scheduler) Armed(passcode string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[passcode]
	return ok
}

// RecoverAll re-arms timers for every session the store believes is playing.
// Called once on startup; the first fire corrects any drift accumulated
// while the process was down. A playing session without a current track is
// an inconsistent row and gets marked stopped instead.
func (s *Scheduler) RecoverAll(ctx context.Context) error {
	playing, err := s.sessions.ListPlaying(ctx)
	if err != nil {
		return err
	}

	recovered := 0
	for _, sess := range playing {
		if sess.Current == nil {
			s.logger.Warn("playing session has no current track, stopping", "passcode", sess.Passcode)
			if err := s.advancer.MarkStopped(ctx, sess.Passcode); err != nil {
				s.logger.Error("failed to mark session stopped", "passcode", sess.Passcode, "err", err)
			}
			continue
		}
		s.Arm(sess.Passcode, sess.Current.Track)
		recovered++
	}

	s.logger.Info("recovered playback timers", "count", recovered)
	return nil
}

// Shutdown stops every pending timer and refuses further arming.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for passcode := range s.timers {
		s.dropLocked(passcode)
	}
}

func (s *Scheduler) armLocked(passcode string, delay time.Duration) {
	if s.closed {
		return
	}
	s.dropLocked(passcode)
	// the callback compares its own handle against the table before acting:
	// a successor armed while the callback is in flight must not be touched
	var t Timer
	t = s.clock.AfterFunc(delay, func() { s.fire(passcode, t) })
	s.timers[passcode] = t
	metrics.ArmedTimers.Inc()
}

func (s *Scheduler) dropLocked(passcode string) {
	if t, ok := s.timers[passcode]; ok {
		t.Stop()
		delete(s.timers, passcode)
		metrics.ArmedTimers.Dec()
	}
}

func (s *Scheduler) fire(passcode string, own Timer) {
	s.mu.Lock()
	if cur, ok := s.timers[passcode]; !ok || cur != own {
		// superseded: an Arm or Cancel replaced this timer between the
		// clock going off and the callback running
		s.mu.Unlock()
		return
	}
	delete(s.timers, passcode)
	metrics.ArmedTimers.Dec()
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return
	}
	s.checkAndAdvance(context.Background(), passcode)
}

// checkAndAdvance verifies against the provider that the track really is
// over before advancing. The stored remaining time is a belief; the poll is
// the ground truth that absorbs pauses, seeks, and manual skips done in the
// provider's own client.
func (s *Scheduler) checkAndAdvance(ctx context.Context, passcode string) {
	sess, err := s.sessions.Load(ctx, passcode)
	if err != nil {
		if !errors.Is(err, shared.ErrSessionNotFound) {
			s.logger.Error("failed to load session for advance check", "passcode", passcode, "err", err)
		}
		return
	}
	if !sess.Active() || !sess.IsPlaying {
		return
	}

	state, err := s.player.CurrentlyPlaying(ctx, sess.Credentials.AccessToken)
	if err != nil {
		if errors.Is(err, shared.ErrUnauthorized) {
			metrics.RemotePollFailures.WithLabelValues("unauthorized").Inc()
			refreshed, rerr := s.advancer.RefreshCredentials(ctx, passcode)
			if rerr != nil || !refreshed {
				// either the refresh was rejected or the token is inside its
				// validity window yet the provider refuses it: revoked access,
				// nothing left to drive
				s.logger.Warn("credentials unusable, stopping session", "passcode", passcode, "err", rerr)
				if err := s.advancer.MarkStopped(ctx, passcode); err != nil {
					s.logger.Error("failed to mark session stopped", "passcode", passcode, "err", err)
				}
				return
			}
			// re-poll with the rotated token instead of advancing blind; the
			// track may have most of its runtime left
			s.mu.Lock()
			s.armLocked(passcode, s.retryBackoff)
			s.mu.Unlock()
			return
		}

		metrics.RemotePollFailures.WithLabelValues("transient").Inc()
		s.logger.Warn("player poll failed, retrying", "passcode", passcode, "backoff", s.retryBackoff, "err", err)
		s.mu.Lock()
		s.armLocked(passcode, s.retryBackoff)
		s.mu.Unlock()
		return
	}

	if !state.IsPlaying || state.Track.ID == "" {
		s.advanceNow(ctx, passcode)
		return
	}

	remaining := time.Duration(state.Remaining()) * time.Millisecond
	if remaining <= s.nearEnd {
		s.advanceNow(ctx, passcode)
		return
	}

	// the track has longer to run than we believed (pause or seek); re-arm
	// against the observed position
	delay := remaining - s.guardBand
	if delay < 0 {
		delay = 0
	}
	s.logger.Debug("track still playing, rescheduling", "passcode", passcode, "remaining", remaining)
	s.mu.Lock()
	s.armLocked(passcode, delay)
	s.mu.Unlock()
}

func (s *Scheduler) advanceNow(ctx context.Context, passcode string) {
	err := s.advancer.Advance(ctx, passcode)
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, shared.ErrInactiveSession), errors.Is(err, shared.ErrSessionNotFound):
		// nothing left to drive
	case errors.Is(err, shared.ErrDeviceNotFound):
		s.logger.Warn("no playable device, stopping session", "passcode", passcode)
		if err := s.advancer.MarkStopped(ctx, passcode); err != nil {
			s.logger.Error("failed to mark session stopped", "passcode", passcode, "err", err)
		}
	default:
		s.logger.Warn("advance failed, retrying", "passcode", passcode, "backoff", s.retryBackoff, "err", err)
		s.mu.Lock()
		s.armLocked(passcode, s.retryBackoff)
		s.mu.Unlock()
	}
}
