// Package clock abstracts the time operations used while waiting on
// devices so grace intervals, retry cadences and timeouts can be driven
// deterministically in tests.
//
// Production code uses Real(). Tests use Fake(), whose After advances the
// fake time by the requested duration and fires immediately, so a poller
// that "waits" 90 seconds completes instantly while observing the same
// elapsed time it would in the field.
package clock

import (
	"context"
	"time"
)

// Clock is the subset of the time package the provisioner depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d has
	// elapsed. If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the standard library.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Sleep blocks for d on the given clock or until ctx is done, whichever
// comes first. It returns ctx.Err() when the context ends the wait.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.After(d):
		return nil
	}
}
