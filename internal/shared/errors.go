package shared

import "fmt"

var (
	// Configuration errors
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication and ownership errors
	ErrUnauthorized    = fmt.Errorf("unauthorized")
	ErrNotOwner        = fmt.Errorf("caller is not the session owner")
	ErrRefreshFailed   = fmt.Errorf("token refresh failed")
	ErrNoRefreshToken  = fmt.Errorf("no refresh token available")
	ErrInactiveSession = fmt.Errorf("session is inactive")

	// Session and playback errors
	ErrSessionNotFound   = fmt.Errorf("session not found")
	ErrTrackNotFound     = fmt.Errorf("track not found")
	ErrDeviceNotFound    = fmt.Errorf("playback device not found")
	ErrPasscodeExhausted = fmt.Errorf("could not generate a unique passcode")

	// Remote service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")

	// Input validation errors
	ErrInvalidInput = fmt.Errorf("invalid input")
)
