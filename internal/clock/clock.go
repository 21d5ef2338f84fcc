// Package clock provides the per-question countdown used by quiz sessions.
package clock

import "time"

// Timer is the subset of *time.Timer the clock needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run once after d.
type AfterFunc func(d time.Duration, f func()) Timer

// Clock is a single-shot countdown that can be frozen and re-armed.
// It is not safe for concurrent use: the owning session serializes every call,
// and expiry callbacks must route back through that session before touching state.
type Clock struct {
	now       func() time.Time
	afterFunc AfterFunc

	timer    Timer
	deadline time.Time
	gen      uint64
}

// New returns a Clock backed by the runtime timer.
func New() *Clock {
	return NewWithTimers(time.Now, func(d time.Duration, f func()) Timer {
		return time.AfterFunc(d, f)
	})
}

// NewWithTimers allows tests to drive time and timer fires by hand.
func NewWithTimers(now func() time.Time, afterFunc AfterFunc) *Clock {
	return &Clock{now: now, afterFunc: afterFunc}
}

// Arm starts a countdown of d, cancelling any armed one first. onExpire receives the
// generation of the arm that fired so callers can discard fires that lost a race with Cancel.
func (c *Clock) Arm(d time.Duration, onExpire func(gen uint64)) uint64 {
	c.Cancel()
	if d < 0 {
		d = 0
	}
	c.gen++
	gen := c.gen
	c.deadline = c.now().Add(d)
	c.timer = c.afterFunc(d, func() { onExpire(gen) })
	return gen
}

// Cancel stops the armed countdown without firing it.
func (c *Clock) Cancel() bool {
	if c.timer == nil {
		return false
	}
	stopped := c.timer.Stop()
	c.timer = nil
	return stopped
}

// Freeze cancels the countdown and returns what was left of it.
func (c *Clock) Freeze() time.Duration {
	remaining := c.Remaining()
	c.Cancel()
	return remaining
}

// Rearm resumes a frozen countdown.
func (c *Clock) Rearm(remaining time.Duration, onExpire func(gen uint64)) uint64 {
	return c.Arm(remaining, onExpire)
}

// Remaining returns the time left on the armed countdown, or zero when disarmed.
func (c *Clock) Remaining() time.Duration {
	if c.timer == nil {
		return 0
	}
	left := c.deadline.Sub(c.now())
	if left < 0 {
		return 0
	}
	return left
}

// Armed reports whether a countdown is pending.
func (c *Clock) Armed() bool {
	return c.timer != nil
}

// Current reports whether gen belongs to the countdown that is still armed.
func (c *Clock) Current(gen uint64) bool {
	return c.timer != nil && gen == c.gen
}

// Disarm forgets the countdown after its expiry was handled.
func (c *Clock) Disarm() {
	c.timer = nil
}
