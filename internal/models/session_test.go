package models

import (
	"testing"
	"time"
)

func testCreds() Credentials {
	return Credentials{
		AccessToken:  "access",
		RefreshToken: "refresh",
		AcquiredAt:   time.Now().UTC(),
		ExpiresIn:    3600,
	}
}

func TestCredentials(t *testing.T) {
	acquired := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	creds := Credentials{AccessToken: "tok", AcquiredAt: acquired, ExpiresIn: 3600}

	t.Run("Fresh", func(t *testing.T) {
		if creds.Expired(acquired.Add(30 * time.Minute)) {
			t.Error("token should still be valid after 30m of a 1h window")
		}
	})

	t.Run("Expired", func(t *testing.T) {
		if !creds.Expired(acquired.Add(2 * time.Hour)) {
			t.Error("token should be expired after 2h of a 1h window")
		}
	})

	t.Run("Boundary", func(t *testing.T) {
		if !creds.Expired(acquired.Add(time.Hour)) {
			t.Error("token should be expired exactly at the window edge")
		}
	})
}

func TestSession(t *testing.T) {
	t.Run("NewSession", func(t *testing.T) {
		sess := NewSession("ABCD2345", "owner-1", "spotify-user", testCreds())

		if !sess.Active() {
			t.Error("new session should be active")
		}
		if len(sess.Members) != 1 {
			t.Fatalf("expected 1 member, got %d", len(sess.Members))
		}
		if sess.Members[0].AccountID != "spotify-user" {
			t.Errorf("owner member should carry the account id, got %q", sess.Members[0].AccountID)
		}
		if sess.Members[0].Points != 0 {
			t.Errorf("owner should start with 0 points, got %d", sess.Members[0].Points)
		}
		if len(sess.Queue) != 0 {
			t.Errorf("expected empty queue, got %d entries", len(sess.Queue))
		}
		if sess.Current != nil {
			t.Error("expected no current track")
		}
		if err := sess.Validate(); err != nil {
			t.Errorf("new session should validate: %v", err)
		}
	})

	t.Run("AddMember Idempotent", func(t *testing.T) {
		sess := NewSession("ABCD2345", "owner-1", "acct", testCreds())

		sess.AddMember("guest-1")
		sess.AddMember("guest-1")

		if len(sess.Members) != 2 {
			t.Errorf("expected 2 members, got %d", len(sess.Members))
		}
	})

	t.Run("Queue FIFO", func(t *testing.T) {
		sess := NewSession("ABCD2345", "owner-1", "acct", testCreds())
		sess.Enqueue(Track{ID: "spotify:track:a"}, "owner-1")
		sess.Enqueue(Track{ID: "spotify:track:b"}, "guest-1")

		head, ok := sess.PopQueue()
		if !ok || head.Track.ID != "spotify:track:a" {
			t.Errorf("expected first enqueued track, got %+v", head)
		}

		head, ok = sess.PopQueue()
		if !ok || head.Track.ID != "spotify:track:b" {
			t.Errorf("expected second enqueued track, got %+v", head)
		}

		if _, ok := sess.PopQueue(); ok {
			t.Error("expected empty queue")
		}
	})

	t.Run("SetCurrent Resets Votes", func(t *testing.T) {
		sess := NewSession("ABCD2345", "owner-1", "acct", testCreds())
		sess.SetCurrent(QueueEntry{Track: Track{ID: "spotify:track:a"}, ProposedBy: "owner-1"})
		sess.Current.ToggleVote("guest-1")
		sess.Current.ToggleVote("guest-2")

		sess.SetCurrent(QueueEntry{Track: Track{ID: "spotify:track:b"}, ProposedBy: "guest-1"})

		if len(sess.Current.Votes) != 0 {
			t.Errorf("votes should reset on track change, got %v", sess.Current.Votes)
		}
	})

	t.Run("RenameOwner", func(t *testing.T) {
		sess := NewSession("ABCD2345", "owner-1", "acct", testCreds())
		sess.AddMember("guest-1")
		sess.Owner().Points = 7

		sess.RenameOwner("owner-2")

		if sess.OwnerID != "owner-2" {
			t.Errorf("expected owner id owner-2, got %s", sess.OwnerID)
		}
		owner := sess.Owner()
		if owner == nil {
			t.Fatal("owner entry missing after rename")
		}
		if owner.AccountID != "acct" {
			t.Errorf("account binding should survive rename, got %q", owner.AccountID)
		}
		if owner.Points != 7 {
			t.Errorf("points should survive rename, got %d", owner.Points)
		}
		if err := sess.Validate(); err != nil {
			t.Errorf("session should validate after rename: %v", err)
		}
	})

	t.Run("RenameOwner Absorbs Existing Guest", func(t *testing.T) {
		sess := NewSession("ABCD2345", "owner-1", "acct", testCreds())
		sess.AddMember("guest-1")

		sess.RenameOwner("guest-1")

		if len(sess.Members) != 1 {
			t.Errorf("expected 1 member after absorbing guest, got %d", len(sess.Members))
		}
		if sess.Owner() == nil || sess.Owner().AccountID != "acct" {
			t.Error("owner entry should keep the account binding")
		}
	})

	t.Run("Deactivate", func(t *testing.T) {
		sess := NewSession("ABCD2345", "owner-1", "acct", testCreds())
		sess.SetCurrent(QueueEntry{Track: Track{ID: "spotify:track:a"}})
		sess.IsPlaying = true

		sess.Deactivate()

		if sess.Active() {
			t.Error("session should be inactive")
		}
		if sess.Current != nil || sess.IsPlaying {
			t.Error("playback state should be cleared")
		}
		if sess.Credentials.RefreshToken != "refresh" {
			t.Error("refresh token should survive deactivation")
		}
	})
}

func TestNowPlaying(t *testing.T) {
	t.Run("ToggleVote Round Trip", func(t *testing.T) {
		np := &NowPlaying{Track: Track{ID: "spotify:track:a"}, Votes: []string{}}

		if count := np.ToggleVote("guest-1"); count != 1 {
			t.Errorf("expected 1 vote, got %d", count)
		}
		if !np.HasVote("guest-1") {
			t.Error("vote should be recorded")
		}

		if count := np.ToggleVote("guest-1"); count != 0 {
			t.Errorf("expected 0 votes after toggle back, got %d", count)
		}
		if np.HasVote("guest-1") {
			t.Error("vote should be removed")
		}
	})

	t.Run("Votes Are A Set", func(t *testing.T) {
		np := &NowPlaying{Votes: []string{}}
		np.ToggleVote("a")
		np.ToggleVote("b")
		np.ToggleVote("a")
		np.ToggleVote("a")

		if len(np.Votes) != 2 {
			t.Errorf("expected votes {a, b}, got %v", np.Votes)
		}
	})
}

func TestAdoptTrack(t *testing.T) {
	t.Run("Same Track Preserves Votes", func(t *testing.T) {
		sess := NewSession("ABCD2345", "owner-1", "acct", testCreds())
		sess.SetCurrent(QueueEntry{Track: Track{ID: "spotify:track:a", DurationMS: 200000}, ProposedBy: "owner-1"})
		sess.Current.ToggleVote("guest-1")

		sess.AdoptTrack(Track{ID: "spotify:track:a", DurationMS: 200000, ProgressMS: 60000}, "guest-2")

		if !sess.Current.HasVote("guest-1") {
			t.Error("votes should survive when the track id is unchanged")
		}
		if sess.Current.ProposedBy != "owner-1" {
			t.Error("attribution should survive when the track id is unchanged")
		}
		if sess.Current.Track.ProgressMS != 60000 {
			t.Errorf("progress should be updated, got %d", sess.Current.Track.ProgressMS)
		}
	})

	t.Run("Different Track Resets Votes", func(t *testing.T) {
		sess := NewSession("ABCD2345", "owner-1", "acct", testCreds())
		sess.SetCurrent(QueueEntry{Track: Track{ID: "spotify:track:a"}, ProposedBy: "owner-1"})
		sess.Current.ToggleVote("guest-1")

		sess.AdoptTrack(Track{ID: "spotify:track:b"}, "guest-2")

		if len(sess.Current.Votes) != 0 {
			t.Errorf("votes should reset on adoption, got %v", sess.Current.Votes)
		}
		if sess.Current.ProposedBy != "guest-2" {
			t.Errorf("adopted track should be attributed to the requester, got %s", sess.Current.ProposedBy)
		}
	})
}

func TestTrackRemaining(t *testing.T) {
	tc := []struct {
		name  string
		track Track
		want  time.Duration
	}{
		{name: "from start", track: Track{DurationMS: 180000}, want: 3 * time.Minute},
		{name: "mid track", track: Track{DurationMS: 180000, ProgressMS: 60000}, want: 2 * time.Minute},
		{name: "overrun clamps to zero", track: Track{DurationMS: 180000, ProgressMS: 181000}, want: 0},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.track.Remaining(); got != tt.want {
				t.Errorf("Remaining() = %v, want %v", got, tt.want)
			}
		})
	}
}
