package scheduler

import (
	"sync"
	"time"
)

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// Clock abstracts timer creation so tests can fire callbacks deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type mockTimer struct {
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *mockTimer) Stop() bool {
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// MockClock collects scheduled callbacks instead of running them. Tests call
// [MockClock.Fire] to run every pending callback synchronously.
type MockClock struct {
	mu      sync.Mutex
	Current time.Time
	timers  []*mockTimer
}

func NewMockClock(now time.Time) *MockClock {
	return &MockClock{Current: now}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Current
}

func (c *MockClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &mockTimer{delay: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Fire runs every pending callback and returns how many ran. Callbacks run
// outside the clock's lock so they may schedule new timers.
func (c *MockClock) Fire() int {
	c.mu.Lock()
	var due []*mockTimer
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
	return len(due)
}

// Pending returns the delays of timers that have neither fired nor been
// stopped, in scheduling order.
func (c *MockClock) Pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var delays []time.Duration
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			delays = append(delays, t.delay)
		}
	}
	return delays
}
