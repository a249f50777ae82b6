package models

import (
	"fmt"
	"time"
)

// Credentials holds the provider OAuth tokens for a session's owner account.
//
// An empty AccessToken marks the session inactive: the document survives but
// no playback-affecting action is possible until the owner logs in again.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	AcquiredAt   time.Time `json:"acquired_at"`
	ExpiresIn    int       `json:"expires_in"` // seconds
}

// Expired reports whether the access token has outlived its validity window.
func (c Credentials) Expired(now time.Time) bool {
	return now.Sub(c.AcquiredAt) >= time.Duration(c.ExpiresIn)*time.Second
}

// Member is a participant in a session. Exactly one member per session
// carries a non-empty AccountID: the owner, bound to the authenticated
// streaming account.
type Member struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id,omitempty"`
	Points    int    `json:"points"`
}

// QueueEntry is a pending track and the member who proposed it.
type QueueEntry struct {
	Track      Track  `json:"track"`
	ProposedBy string `json:"proposed_by"`
}

// NowPlaying is the track the session believes is currently playing.
type NowPlaying struct {
	Track      Track    `json:"track"`
	ProposedBy string   `json:"proposed_by"`
	Votes      []string `json:"votes"`
}

// HasVote reports whether the given member has voted on the current track.
func (n *NowPlaying) HasVote(memberID string) bool {
	for _, v := range n.Votes {
		if v == memberID {
			return true
		}
	}
	return false
}

// ToggleVote adds the member's vote if absent and removes it if present,
// returning the resulting vote count.
func (n *NowPlaying) ToggleVote(memberID string) int {
	for i, v := range n.Votes {
		if v == memberID {
			n.Votes = append(n.Votes[:i], n.Votes[i+1:]...)
			return len(n.Votes)
		}
	}
	n.Votes = append(n.Votes, memberID)
	return len(n.Votes)
}

// Settings holds per-session queue options.
type Settings struct {
	AutoplayPlaylistID string `json:"autoplay_playlist_id,omitempty"`
	AutoplayRandom     bool   `json:"autoplay_random"`
	Gamify             bool   `json:"gamify"`
}

// Session is the durable unit of collaborative state for one passcode.
//
// All mutation happens through the coordinator under the passcode's
// exclusive lock; the struct itself carries no synchronization.
type Session struct {
	Passcode     string       `json:"passcode"`
	OwnerID      string       `json:"owner_id"`
	OwnerAccount string       `json:"owner_account"`
	Credentials  Credentials  `json:"credentials"`
	DeviceID     string       `json:"device_id,omitempty"`
	Current      *NowPlaying  `json:"current,omitempty"`
	Queue        []QueueEntry `json:"queue"`
	Members      []Member     `json:"members"`
	Settings     Settings     `json:"settings"`
	IsPlaying    bool         `json:"is_playing"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// NewSession creates a session for a freshly authenticated owner account.
// The owner is the first member.
func NewSession(passcode, ownerID, ownerAccount string, creds Credentials) *Session {
	now := time.Now().UTC()
	return &Session{
		Passcode:     passcode,
		OwnerID:      ownerID,
		OwnerAccount: ownerAccount,
		Credentials:  creds,
		Queue:        []QueueEntry{},
		Members:      []Member{{ID: ownerID, AccountID: ownerAccount}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Active reports whether the session holds live credentials. Every queue
// mutation other than join/create/reactivate requires an active session.
func (s *Session) Active() bool {
	return s.Credentials.AccessToken != ""
}

// Member returns the member with the given id, or nil.
func (s *Session) Member(id string) *Member {
	for i := range s.Members {
		if s.Members[i].ID == id {
			return &s.Members[i]
		}
	}
	return nil
}

// Owner returns the owner member entry, or nil if the roster is corrupt.
func (s *Session) Owner() *Member {
	return s.Member(s.OwnerID)
}

// IsOwner reports whether the given member id is the session owner.
func (s *Session) IsOwner(memberID string) bool {
	return memberID != "" && memberID == s.OwnerID
}

// AddMember adds a member with zero points. Idempotent: re-adding an
// existing id returns the stored entry unchanged.
func (s *Session) AddMember(id string) *Member {
	if m := s.Member(id); m != nil {
		return m
	}
	s.Members = append(s.Members, Member{ID: id})
	return &s.Members[len(s.Members)-1]
}

// RenameOwner migrates the owner's member identity to a new id, keeping a
// single durable owner membership across browser or cookie resets. Votes
// and proposals recorded under the old id are left as-is.
func (s *Session) RenameOwner(newID string) {
	if newID == "" || newID == s.OwnerID {
		return
	}
	// drop a pre-existing guest entry for the new id so ids stay unique
	for i := range s.Members {
		if s.Members[i].ID == newID {
			s.Members = append(s.Members[:i], s.Members[i+1:]...)
			break
		}
	}
	if owner := s.Member(s.OwnerID); owner != nil {
		owner.ID = newID
	}
	s.OwnerID = newID
}

// Enqueue appends a pending entry. The queue is FIFO: insertion order is
// advancement order.
func (s *Session) Enqueue(track Track, proposedBy string) {
	s.Queue = append(s.Queue, QueueEntry{Track: track, ProposedBy: proposedBy})
}

// PopQueue removes and returns the head of the pending queue.
func (s *Session) PopQueue() (QueueEntry, bool) {
	if len(s.Queue) == 0 {
		return QueueEntry{}, false
	}
	head := s.Queue[0]
	s.Queue = s.Queue[1:]
	return head, true
}

// SetCurrent replaces the currently playing track with a queue entry,
// resetting the vote set.
func (s *Session) SetCurrent(entry QueueEntry) {
	s.Current = &NowPlaying{
		Track:      entry.Track,
		ProposedBy: entry.ProposedBy,
		Votes:      []string{},
	}
}

// AdoptTrack reconciles the session with a remotely observed track.
//
// When the track id matches the local current track only the playback
// position is updated and votes survive. A different track replaces the
// current entry with an empty vote set, attributed to proposedBy (best
// effort: the remote player cannot tell us who picked it).
func (s *Session) AdoptTrack(track Track, proposedBy string) {
	if s.Current != nil && s.Current.Track.ID == track.ID {
		s.Current.Track.ProgressMS = track.ProgressMS
		return
	}
	s.Current = &NowPlaying{Track: track, ProposedBy: proposedBy, Votes: []string{}}
}

// Deactivate clears playback state and live credentials; the document
// survives for later reactivation.
func (s *Session) Deactivate() {
	s.Current = nil
	s.Credentials.AccessToken = ""
	s.IsPlaying = false
}

// Validate checks structural invariants before persistence.
func (s *Session) Validate() error {
	if s.Passcode == "" {
		return fmt.Errorf("session has no passcode")
	}
	if s.OwnerID == "" {
		return fmt.Errorf("session %s has no owner", s.Passcode)
	}
	if s.Member(s.OwnerID) == nil {
		return fmt.Errorf("session %s owner %s missing from members", s.Passcode, s.OwnerID)
	}
	seen := make(map[string]bool, len(s.Members))
	for _, m := range s.Members {
		if m.ID == "" {
			return fmt.Errorf("session %s has a member without an id", s.Passcode)
		}
		if seen[m.ID] {
			return fmt.Errorf("session %s has duplicate member %s", s.Passcode, m.ID)
		}
		seen[m.ID] = true
	}
	return nil
}
