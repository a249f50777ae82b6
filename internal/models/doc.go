// Package models defines the domain entities for shared playback sessions.
//
// The central type is [Session]: the durable unit of collaborative state for
// one passcode, containing the authenticated owner's provider credentials,
// the currently playing track with its votes, the pending queue, and the
// member roster. Sessions are persisted as a single document per passcode
// and mutated only under that passcode's exclusive lock (see the
// repositories package).
//
// Supporting types:
//   - [Track] : provider track metadata with playback position
//   - [Credentials] : provider OAuth tokens with expiry bookkeeping
//   - [Member] : a session participant; the owner carries the external account id
//   - [QueueEntry] : a pending track with its proposer
//   - [NowPlaying] : the current track, its proposer, and the vote set
//   - [Settings] : per-session queue and gamification options
package models
