package coordinator

import (
	"context"
	"fmt"

	"github.com/desertthunder/auxfm/internal/shared"
)

// maxPasscodeAttempts bounds passcode generation retries before giving up
// with [shared.ErrPasscodeExhausted].
const maxPasscodeAttempts = 10

// uniquePasscode generates a passcode that no existing session uses. The
// generator is a Coordinator field so collision behavior is testable.
func (c *Coordinator) uniquePasscode(ctx context.Context) (string, error) {
	for i := 0; i < maxPasscodeAttempts; i++ {
		passcode := c.passcodes()

		exists, err := c.repo.Exists(ctx, passcode)
		if err != nil {
			return "", err
		}
		if !exists {
			return passcode, nil
		}

		c.logger.Warn("passcode collision", "passcode", passcode)
	}

	return "", fmt.Errorf("%w: gave up after %d attempts", shared.ErrPasscodeExhausted, maxPasscodeAttempts)
}
