// Package scheduler drives automatic track advancement. Each playing
// session holds at most one pending timer, armed for the track's remaining
// time minus a guard band. When the timer fires the scheduler polls the
// provider: a finished or near-end track triggers an advance, a track with
// time left re-arms against the observed position, and a transient poll
// failure re-arms with a fixed backoff. On startup RecoverAll rebuilds
// timers from the sessions the store believes are playing.
package scheduler
