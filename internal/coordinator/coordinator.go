package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/auxfm/internal/metrics"
	"github.com/desertthunder/auxfm/internal/models"
	"github.com/desertthunder/auxfm/internal/repositories"
	"github.com/desertthunder/auxfm/internal/services"
	"github.com/desertthunder/auxfm/internal/shared"
)

// Timers is the coordinator's view of the playback scheduler: arm or cancel
// the single advance timer a session may have.
type Timers interface {
	Arm(passcode string, track models.Track)
	Cancel(passcode string)
	Armed(passcode string) bool
}

// View is the public projection of a session handed to API callers.
// Credentials never leave the coordinator.
type View struct {
	Passcode  string              `json:"passcode"`
	Active    bool                `json:"active"`
	IsPlaying bool                `json:"is_playing"`
	Current   *models.NowPlaying  `json:"current,omitempty"`
	Queue     []models.QueueEntry `json:"queue"`
	Members   []models.Member     `json:"members"`
	DeviceID  string              `json:"device_id,omitempty"`
	Settings  models.Settings     `json:"settings"`
}

// NewView projects a session into its public view.
func NewView(sess *models.Session) *View {
	return &View{
		Passcode:  sess.Passcode,
		Active:    sess.Active(),
		IsPlaying: sess.IsPlaying,
		Current:   sess.Current,
		Queue:     sess.Queue,
		Members:   sess.Members,
		DeviceID:  sess.DeviceID,
		Settings:  sess.Settings,
	}
}

// LoginResult is the outcome of an owner authentication.
type LoginResult struct {
	View        *View
	MemberID    string
	Reactivated bool
}

// JoinResult is the outcome of a join attempt. IsOwner is reported even
// when the join fails on an inactive session, so the caller can offer the
// owner a different recovery action than a guest.
type JoinResult struct {
	View     *View
	MemberID string
	IsOwner  bool
}

// Coordinator owns the session state machine. All mutations serialize on
// the session's row lock through the repository.
type Coordinator struct {
	repo      *repositories.SessionRepository
	player    services.Player
	guard     *CredentialGuard
	timers    Timers
	logger    *log.Logger
	now       func() time.Time
	passcodes func() string
}

// New creates a Coordinator.
func New(repo *repositories.SessionRepository, player services.Player, guard *CredentialGuard, timers Timers, logger *log.Logger) *Coordinator {
	return &Coordinator{
		repo:      repo,
		player:    player,
		guard:     guard,
		timers:    timers,
		logger:    logger,
		now:       time.Now,
		passcodes: shared.GeneratePasscode,
	}
}

func credentialsFrom(tokens *services.TokenSet, now time.Time) models.Credentials {
	return models.Credentials{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		AcquiredAt:   now.UTC(),
		ExpiresIn:    tokens.ExpiresIn,
	}
}

// Create exchanges an authorization code for credentials and either creates
// a new session for the account or, when one already exists, refreshes its
// credentials in place (a re-login), preserving queue and members.
func (c *Coordinator) Create(ctx context.Context, authCode string) (*LoginResult, error) {
	tokens, err := c.player.ExchangeCode(ctx, authCode)
	if err != nil {
		return nil, err
	}

	account, err := c.player.AccountID(ctx, tokens.AccessToken)
	if err != nil {
		return nil, err
	}

	existing, err := c.repo.FindByAccount(ctx, account)
	if err != nil {
		return nil, err
	}

	creds := credentialsFrom(tokens, c.now())

	if existing != nil {
		var out *LoginResult
		err := c.repo.WithSession(ctx, existing.Passcode, func(m *repositories.Mutation) error {
			sess := m.Session()
			sess.Credentials = creds
			out = &LoginResult{View: NewView(sess), MemberID: sess.OwnerID, Reactivated: true}
			return nil
		})
		if err != nil {
			return nil, err
		}

		metrics.SessionsCreated.WithLabelValues("reactivated").Inc()
		c.logger.Info("session reactivated", "passcode", existing.Passcode, "account", account)
		return out, nil
	}

	passcode, err := c.uniquePasscode(ctx)
	if err != nil {
		return nil, err
	}

	ownerID := shared.GenerateID()
	sess := models.NewSession(passcode, ownerID, account, creds)
	if err := c.repo.Create(ctx, sess); err != nil {
		return nil, err
	}

	metrics.SessionsCreated.WithLabelValues("created").Inc()
	c.logger.Info("session created", "passcode", passcode, "account", account)
	return &LoginResult{View: NewView(sess), MemberID: ownerID}, nil
}

// Reactivate re-authenticates the owner of an existing session. The
// authenticated account must match the session's owner binding; otherwise
// it fails with [shared.ErrNotOwner] and changes nothing. When the caller's
// member identity differs from the stored owner id the owner membership is
// migrated to the new id, keeping one durable owner entry across cookie
// resets.
func (c *Coordinator) Reactivate(ctx context.Context, passcode, memberID, authCode string) (*LoginResult, error) {
	tokens, err := c.player.ExchangeCode(ctx, authCode)
	if err != nil {
		return nil, err
	}

	account, err := c.player.AccountID(ctx, tokens.AccessToken)
	if err != nil {
		return nil, err
	}

	var out *LoginResult
	err = c.repo.WithSession(ctx, passcode, func(m *repositories.Mutation) error {
		sess := m.Session()
		if sess.OwnerAccount != account {
			return fmt.Errorf("%w: account %s does not own session %s", shared.ErrNotOwner, account, passcode)
		}

		sess.Credentials = credentialsFrom(tokens, c.now())
		sess.RenameOwner(memberID)
		out = &LoginResult{View: NewView(sess), MemberID: sess.OwnerID, Reactivated: true}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.SessionsCreated.WithLabelValues("reactivated").Inc()
	return out, nil
}

// Join adds a member to an active session. A missing memberID gets a
// generated one; rejoining with a known id is idempotent. Joining an
// inactive session fails with [shared.ErrInactiveSession], but the returned
// result still reports whether the caller is the owner.
func (c *Coordinator) Join(ctx context.Context, passcode, memberID string) (*JoinResult, error) {
	var out *JoinResult
	err := c.repo.WithSession(ctx, passcode, func(m *repositories.Mutation) error {
		sess := m.Session()

		if !sess.Active() {
			out = &JoinResult{MemberID: memberID, IsOwner: sess.IsOwner(memberID)}
			return fmt.Errorf("%w: %s", shared.ErrInactiveSession, passcode)
		}

		if memberID == "" {
			memberID = shared.GenerateID()
		}
		sess.AddMember(memberID)

		out = &JoinResult{View: NewView(sess), MemberID: memberID, IsOwner: sess.IsOwner(memberID)}
		return nil
	})
	return out, err
}

// Logout deactivates the session when called by the owner: the current
// track and access token are cleared and the advance timer canceled. A
// guest logout is a no-op.
func (c *Coordinator) Logout(ctx context.Context, passcode, memberID string) error {
	var deactivated bool
	err := c.repo.WithSession(ctx, passcode, func(m *repositories.Mutation) error {
		sess := m.Session()
		if !sess.IsOwner(memberID) {
			return nil
		}
		sess.Deactivate()
		deactivated = true
		return nil
	})
	if err != nil {
		return err
	}

	if deactivated {
		c.timers.Cancel(passcode)
		c.logger.Info("session deactivated", "passcode", passcode)
	}
	return nil
}

// AddTrack fetches track metadata and appends it to the pending queue.
// Requires an active session and an existing membership. Does not start
// playback.
func (c *Coordinator) AddTrack(ctx context.Context, passcode, memberID, trackURI string) (*View, error) {
	var view *View
	err := c.repo.WithSession(ctx, passcode, func(m *repositories.Mutation) error {
		sess := m.Session()

		if !sess.Active() {
			return fmt.Errorf("%w: %s", shared.ErrInactiveSession, passcode)
		}
		if sess.Member(memberID) == nil {
			return fmt.Errorf("%w: %s is not a member of %s", shared.ErrUnauthorized, memberID, passcode)
		}

		if err := c.freshen(ctx, m); err != nil {
			return err
		}

		track, err := c.player.TrackMetadata(ctx, sess.Credentials.AccessToken, trackURI)
		if err != nil {
			return err
		}

		sess.Enqueue(*track, memberID)
		view = NewView(sess)
		return nil
	})
	return view, err
}

// Vote toggles the member's vote on the current track and returns the
// resulting count. What the count means — and whether it triggers a skip —
// is the caller's policy.
func (c *Coordinator) Vote(ctx context.Context, passcode, memberID string) (int, error) {
	var count int
	err := c.repo.WithSession(ctx, passcode, func(m *repositories.Mutation) error {
		sess := m.Session()

		if !sess.Active() {
			return fmt.Errorf("%w: %s", shared.ErrInactiveSession, passcode)
		}
		if sess.Member(memberID) == nil {
			return fmt.Errorf("%w: %s is not a member of %s", shared.ErrUnauthorized, memberID, passcode)
		}
		if sess.Current == nil {
			return fmt.Errorf("%w: nothing is playing in %s", shared.ErrTrackNotFound, passcode)
		}

		count = sess.Current.ToggleVote(memberID)
		return nil
	})
	return count, err
}

// SetDevice transfers playback to the given device and persists the choice
// for subsequent playback commands. Owner only.
func (c *Coordinator) SetDevice(ctx context.Context, passcode, memberID, deviceID string) (*View, error) {
	var view *View
	err := c.repo.WithSession(ctx, passcode, func(m *repositories.Mutation) error {
		sess := m.Session()

		if !sess.Active() {
			return fmt.Errorf("%w: %s", shared.ErrInactiveSession, passcode)
		}
		if !sess.IsOwner(memberID) {
			return fmt.Errorf("%w: only the owner may move playback", shared.ErrNotOwner)
		}

		if err := c.freshen(ctx, m); err != nil {
			return err
		}

		if err := c.player.SetDevice(ctx, sess.Credentials.AccessToken, deviceID, sess.IsPlaying); err != nil {
			return err
		}

		sess.DeviceID = deviceID
		view = NewView(sess)
		return nil
	})
	return view, err
}

// Skip is an owner-initiated advance to the next track.
func (c *Coordinator) Skip(ctx context.Context, passcode, memberID string) (*View, error) {
	sess, err := c.repo.Load(ctx, passcode)
	if err != nil {
		return nil, err
	}
	if !sess.IsOwner(memberID) {
		return nil, fmt.Errorf("%w: only the owner may skip", shared.ErrNotOwner)
	}
	return c.advance(ctx, passcode, "manual")
}

// AdvanceToNext pops the queue head and starts it, or transitions the
// session to idle when the queue is empty. Called for manual skips; the
// scheduler uses [Coordinator.Advance].
func (c *Coordinator) AdvanceToNext(ctx context.Context, passcode string) (*View, error) {
	return c.advance(ctx, passcode, "manual")
}

// Advance is the scheduler-facing advance trigger.
func (c *Coordinator) Advance(ctx context.Context, passcode string) error {
	_, err := c.advance(ctx, passcode, "timer")
	return err
}

func (c *Coordinator) advance(ctx context.Context, passcode, trigger string) (*View, error) {
	var (
		view      *View
		armTrack  *models.Track
		exhausted bool
	)

	err := c.repo.WithSession(ctx, passcode, func(m *repositories.Mutation) error {
		sess := m.Session()

		if !sess.Active() {
			return fmt.Errorf("%w: %s", shared.ErrInactiveSession, passcode)
		}

		entry, ok := sess.PopQueue()
		if !ok {
			sess.Current = nil
			sess.IsPlaying = false
			exhausted = true
			view = NewView(sess)
			return nil
		}

		// refreshed tokens land in the store before the playback command
		// that uses them
		if err := c.freshen(ctx, m); err != nil {
			return err
		}

		sess.SetCurrent(entry)
		if sess.Settings.Gamify {
			if proposer := sess.Member(entry.ProposedBy); proposer != nil {
				proposer.Points++
			}
		}

		if err := c.player.StartTrack(ctx, sess.Credentials.AccessToken, entry.Track.ID, sess.DeviceID); err != nil {
			return err
		}

		sess.IsPlaying = true
		armTrack = &sess.Current.Track
		view = NewView(sess)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if exhausted {
		c.timers.Cancel(passcode)
		c.logger.Info("queue exhausted", "passcode", passcode)
		return view, nil
	}

	c.timers.Arm(passcode, *armTrack)
	metrics.TrackAdvances.WithLabelValues(trigger).Inc()
	c.logger.Info("advanced to next track", "passcode", passcode, "track", armTrack.ID, "trigger", trigger)
	return view, nil
}

// MarkStopped persists that the session is no longer playing. Used by the
// scheduler when the provider definitively reports no playable target.
func (c *Coordinator) MarkStopped(ctx context.Context, passcode string) error {
	return c.repo.WithSession(ctx, passcode, func(m *repositories.Mutation) error {
		m.Session().IsPlaying = false
		return nil
	})
}

// RefreshCredentials runs the credential guard for the session under its
// lock, persisting rotated tokens. Reports whether a refresh happened; false
// with a nil error means the stored tokens are still inside their validity
// window. Used by the scheduler when a state poll is rejected.
func (c *Coordinator) RefreshCredentials(ctx context.Context, passcode string) (bool, error) {
	var refreshed bool
	err := c.repo.WithSession(ctx, passcode, func(m *repositories.Mutation) error {
		var err error
		refreshed, err = c.guard.EnsureFresh(ctx, m.Session())
		return err
	})
	return refreshed, err
}

// SyncWithRemote reconciles local belief with a fresh provider poll.
//
// A differing remote track is adopted as current, attributed to the
// requesting member (best effort); votes survive only when the track id is
// unchanged. A failed poll returns the last known local state — remote
// flakiness never fails a status check. When the remote is playing but no
// timer is armed the scheduler is re-armed: the self-healing path after a
// process restart.
func (c *Coordinator) SyncWithRemote(ctx context.Context, passcode, memberID string) (*View, error) {
	var (
		view     *View
		armTrack *models.Track
	)

	err := c.repo.WithSession(ctx, passcode, func(m *repositories.Mutation) error {
		sess := m.Session()
		view = NewView(sess)

		if !sess.Active() {
			return nil
		}

		if err := c.freshen(ctx, m); err != nil {
			return err
		}

		state, err := c.player.CurrentlyPlaying(ctx, sess.Credentials.AccessToken)
		if err != nil {
			metrics.RemotePollFailures.WithLabelValues("transient").Inc()
			c.logger.Warn("player poll failed, serving local state", "passcode", passcode, "err", err)
			return nil
		}

		if state.Track.ID == "" {
			// remote reports no active item; a paused player and a track
			// gap look identical here, so keep the local belief
			return nil
		}

		if memberID == "" || sess.Member(memberID) == nil {
			memberID = sess.OwnerID
		}

		trackChanged := sess.Current == nil || sess.Current.Track.ID != state.Track.ID
		sess.AdoptTrack(state.Track, memberID)
		sess.IsPlaying = state.IsPlaying

		if state.IsPlaying && (trackChanged || !c.timers.Armed(passcode)) {
			armTrack = &sess.Current.Track
		}

		view = NewView(sess)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if armTrack != nil {
		c.timers.Arm(passcode, *armTrack)
	}
	return view, nil
}

// freshen runs the credential guard and flushes rotated tokens inside the
// open transaction before they are used.
func (c *Coordinator) freshen(ctx context.Context, m *repositories.Mutation) error {
	refreshed, err := c.guard.EnsureFresh(ctx, m.Session())
	if err != nil {
		return err
	}
	if refreshed {
		return m.Flush(ctx)
	}
	return nil
}
