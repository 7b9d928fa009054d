package session

import (
	"sync"
	"time"
)

// Countdown tracks the absolute session lifetime: a fixed duration from the
// moment the credential was issued. Remaining time is recomputed from the
// wall clock on every call rather than armed as a fire-once timer, so clock
// drift or a suspended process cannot desynchronize the displayed value.
// Callers poll it at roughly 1 Hz and must tolerate one-second granularity.
type Countdown struct {
	issuedAt time.Time
	lifetime time.Duration
}

// NewCountdown starts a countdown of the given lifetime from issuedAt.
func NewCountdown(issuedAt time.Time, lifetime time.Duration) Countdown {
	return Countdown{issuedAt: issuedAt, lifetime: lifetime}
}

// Remaining returns the time left before the session lifetime elapses, never
// negative.
func (c Countdown) Remaining(now time.Time) time.Duration {
	left := c.lifetime - now.Sub(c.issuedAt)
	if left < 0 {
		return 0
	}
	return left
}

// SecondsRemaining returns Remaining truncated to whole seconds.
func (c Countdown) SecondsRemaining(now time.Time) int {
	return int(c.Remaining(now) / time.Second)
}

// Expired reports whether the lifetime has fully elapsed.
func (c Countdown) Expired(now time.Time) bool {
	return c.Remaining(now) == 0
}

// Deadline returns the instant the session lifetime elapses.
func (c Countdown) Deadline() time.Time {
	return c.issuedAt.Add(c.lifetime)
}

// IdleWatch fires a callback exactly once after a fixed period without
// observed user activity. Every Touch cancels the pending deadline and
// schedules a fresh one; cancel-then-schedule happens under one lock, so a
// racing expiry can never double-fire. The timeout is fixed for the lifetime
// of the watch: it is read from system configuration once per session start.
type IdleWatch struct {
	mu      sync.Mutex
	timeout time.Duration
	onIdle  func()
	timer   *time.Timer
	gen     uint64
	fired   bool
	stopped bool
}

// NewIdleWatch returns an armed watch that calls onIdle after timeout of
// inactivity.
func NewIdleWatch(timeout time.Duration, onIdle func()) *IdleWatch {
	w := &IdleWatch{timeout: timeout, onIdle: onIdle}
	w.mu.Lock()
	w.schedule()
	w.mu.Unlock()
	return w
}

// Touch records an activity signal (pointer movement, key press, scroll,
// click) and pushes the idle deadline out by the full timeout. Touches after
// the watch fired or stopped are ignored.
func (w *IdleWatch) Touch() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fired || w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.schedule()
}

// Stop cancels the watch. The callback is guaranteed not to run afterwards.
func (w *IdleWatch) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// schedule arms a new deadline. Caller holds w.mu. The generation counter
// invalidates any already-running timer callback from a previous arming.
func (w *IdleWatch) schedule() {
	w.gen++
	gen := w.gen
	w.timer = time.AfterFunc(w.timeout, func() {
		w.fire(gen)
	})
}

func (w *IdleWatch) fire(gen uint64) {
	w.mu.Lock()
	if w.fired || w.stopped || gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.fired = true
	w.mu.Unlock()

	w.onIdle()
}
