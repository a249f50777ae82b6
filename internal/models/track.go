package models

import "time"

// Track represents a playable track as known to the streaming provider.
//
// ID is the provider URI (e.g. "spotify:track:..."). ProgressMS is the last
// observed playback position; DurationMS - ProgressMS is the authoritative
// remaining time used for scheduling.
type Track struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Artist     string `json:"artist"`
	DurationMS int    `json:"duration_ms"`
	ProgressMS int    `json:"progress_ms"`
	CoverURL   string `json:"cover_url"`
}

// Remaining returns the time left until the track is expected to end.
// Never negative.
func (t Track) Remaining() time.Duration {
	remaining := t.DurationMS - t.ProgressMS
	if remaining < 0 {
		remaining = 0
	}
	return time.Duration(remaining) * time.Millisecond
}
