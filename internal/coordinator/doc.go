// Package coordinator implements the session state machine: lifecycle
// (create, reactivate, join, logout), queue mutation (add track, advance),
// vote bookkeeping, and reconciliation against the remote player.
//
// Externally a session moves between three states: Uninitialized (no
// document), Active (live access token), and Inactive (document without a
// token). An active session is Idle when no track is current, Playing when
// a track is current and a timer is armed, and Stalled when a track is
// current but the provider is unreachable.
//
// Every mutating operation runs inside the session's exclusive row lock via
// [repositories.SessionRepository.WithSession]; the lock spans any remote
// call performed mid-operation, so an expiring timer and a manual skip can
// never both advance past the same track. The vote threshold that turns
// votes into a skip is deliberately not implemented here — the coordinator
// exposes consistent vote state and leaves the policy to its callers.
package coordinator
