// Package services wraps the streaming provider's HTTP API behind the
// [Player] interface.
//
// The only implementation is [SpotifyService], a thin request/response
// wrapper with no internal state beyond OAuth client configuration and a
// request rate limiter. Authentication uses the authorization code flow via
// [golang.org/x/oauth2]; all playback calls take the access token
// explicitly so one client instance serves every session.
package services
