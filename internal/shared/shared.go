// package shared defines shared helpers
package shared

import (
	"crypto/rand"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// PasscodeLength is the length of the public session identifier handed to guests.
const PasscodeLength = 8

// passcodeAlphabet omits characters that are easy to misread when a passcode
// is shared out loud (0/O, 1/I/L).
const passcodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// NewLogger creates a new [log.Logger] instance with the specified [io.Writer], with timestamps and caller reporting enabled.
//
// The writer defaults to [os.Stderr]
func NewLogger(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := log.Options{ReportTimestamp: true, ReportCaller: true}
	return log.NewWithOptions(w, opts)
}

// WithLogger creates a child [log.Logger] with the specified key-value pairs added to all log entries.
func WithLogger(l *log.Logger, kv ...any) *log.Logger {
	return l.With(kv...)
}

// SetLogLevel sets the [log.Level] for the given [log.Logger].
func SetLogLevel(l *log.Logger, ll log.Level) {
	l.SetLevel(ll)
}

// GenerateID generates a new v4 [uuid.UUID] as a string
func GenerateID() string {
	return uuid.New().String()
}

// GeneratePasscode generates a random passcode of [PasscodeLength] characters
// drawn from an unambiguous upper-alphanumeric alphabet.
func GeneratePasscode() string {
	buf := make([]byte, PasscodeLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the OS entropy source is unavailable
		panic(err)
	}
	for i, b := range buf {
		buf[i] = passcodeAlphabet[int(b)%len(passcodeAlphabet)]
	}
	return string(buf)
}
