// Package session implements the console's authentication session state
// machine and its two expiry clocks. The machine is the single writer of the
// credential store; every other component observes the session through store
// reads and transition events.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stackworks/panelauth/pkg/credstore"
	"github.com/stackworks/panelauth/pkg/idx"
	"github.com/stackworks/panelauth/pkg/panelapi"
)

// State is the machine's position in the login lifecycle.
type State int

const (
	// StateAnonymous means no session exists.
	StateAnonymous State = iota

	// StateAwaitingOTP means the collaborator challenged the login with a
	// one-time-password request; the username is retained, the password is
	// not.
	StateAwaitingOTP

	// StateAuthenticated means a credential is stored and both expiry clocks
	// are running.
	StateAuthenticated

	// StateExpired means the session ended without a user-initiated logout
	// (lifetime or idle deadline elapsed, or the collaborator answered 401).
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAwaitingOTP:
		return "awaiting_otp"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Reason explains a state transition. The UI distinguishes a user-initiated
// logout from the expiry variants.
type Reason string

const (
	ReasonLogin          Reason = "login"
	ReasonResumed        Reason = "resumed"
	ReasonOTPChallenge   Reason = "otp_challenge"
	ReasonOTPAborted     Reason = "otp_aborted"
	ReasonLogout         Reason = "logout"
	ReasonSessionExpired Reason = "session_expired"
	ReasonIdleExpired    Reason = "idle_expired"
	ReasonUnauthorized   Reason = "unauthorized"
)

// Event is an observed state transition.
type Event struct {
	ID     idx.ID
	From   State
	To     State
	Reason Reason
	At     time.Time
}

// Expiry reasons are informational, never blocking errors.
func (e Event) Expiry() bool {
	switch e.Reason {
	case ReasonSessionExpired, ReasonIdleExpired, ReasonUnauthorized:
		return true
	default:
		return false
	}
}

var (
	// ErrOTPRequired reports that the collaborator requires the one-time
	// password factor; the machine is now awaiting SubmitOTP.
	ErrOTPRequired = errors.New("session: one-time password required")

	// ErrNotAwaitingOTP reports SubmitOTP without a pending challenge.
	ErrNotAwaitingOTP = errors.New("session: no one-time password challenge pending")

	// ErrAlreadyAuthenticated reports Login while a session is active.
	ErrAlreadyAuthenticated = errors.New("session: already authenticated")
)

const (
	// DefaultLifetime is the absolute session lifetime when the collaborator
	// does not state one.
	DefaultLifetime = 900 * time.Second

	// DefaultIdleTimeout applies when the system settings cannot be fetched
	// at session start.
	DefaultIdleTimeout = 15 * time.Minute

	defaultPollInterval = time.Second
)

// Config tunes a Machine. The zero value is usable.
type Config struct {
	// Lifetime overrides the absolute session lifetime. The collaborator's
	// expires_in, when present, wins over this.
	Lifetime time.Duration

	// IdleTimeout is the fallback idle deadline used when the system
	// settings fetch fails at session start.
	IdleTimeout time.Duration

	// PollInterval is the expiry recheck period, 1s by default.
	PollInterval time.Duration

	Logger *slog.Logger

	// Now is the time source, overridable in tests.
	Now func() time.Time
}

// Machine governs login, the OTP challenge, session validity and forced
// logout. Its observable side effects are credential-store mutations and the
// transition events delivered to subscribers.
type Machine struct {
	api    *panelapi.Client
	store  credstore.Store
	logger *slog.Logger
	now    func() time.Time

	lifetime     time.Duration
	fallbackIdle time.Duration
	pollInterval time.Duration

	mu         sync.Mutex
	state      State
	pending    string // username retained across the OTP challenge
	sid        idx.ID
	countdown  Countdown
	idle       *IdleWatch
	cancelPoll context.CancelFunc
	subs       []func(Event)
}

// New wires a machine to the collaborator client and the credential store.
// The client's OnUnauthorized hook is claimed by the machine: any 401 on an
// authenticated call forces the local expiry path.
func New(api *panelapi.Client, store credstore.Store, cfg Config) *Machine {
	m := &Machine{
		api:          api,
		store:        store,
		logger:       cfg.Logger,
		now:          cfg.Now,
		lifetime:     cfg.Lifetime,
		fallbackIdle: cfg.IdleTimeout,
		pollInterval: cfg.PollInterval,
		state:        StateAnonymous,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.lifetime <= 0 {
		m.lifetime = DefaultLifetime
	}
	if m.fallbackIdle <= 0 {
		m.fallbackIdle = DefaultIdleTimeout
	}
	if m.pollInterval <= 0 {
		m.pollInterval = defaultPollInterval
	}

	api.OnUnauthorized = func() { m.expire(ReasonUnauthorized) }

	return m
}

// State returns the machine's current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SessionID returns the ULID of the current authenticated session, or the
// zero ID outside one.
func (m *Machine) SessionID() idx.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sid
}

// Subscribe registers fn for transition notifications. Subscribers are
// invoked synchronously, in registration order, after the transition took
// effect.
func (m *Machine) Subscribe(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Resume restores a persisted session on startup. A stored credential whose
// lifetime already elapsed (or whose token expired) is cleared instead of
// resumed. Returns true when an authenticated session is now active.
func (m *Machine) Resume(ctx context.Context) (bool, error) {
	m.mu.Lock()
	if m.state != StateAnonymous {
		m.mu.Unlock()
		return m.state == StateAuthenticated, nil
	}
	m.mu.Unlock()

	cred, err := m.store.Get()
	if errors.Is(err, credstore.ErrNoCredential) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	now := m.now()
	countdown := NewCountdown(cred.StoredAt, m.lifetime)
	if countdown.Expired(now) || cred.Identity.Expired(now) {
		if err := m.store.Clear(); err != nil {
			return false, err
		}
		return false, nil
	}

	// The local checks passed; let the collaborator confirm the token is
	// still accepted. An unreachable collaborator does not block the resume,
	// the first authenticated call will settle it either way.
	if err := m.api.VerifyToken(ctx); err != nil {
		if panelapi.IsUnauthorized(err) {
			if clearErr := m.store.Clear(); clearErr != nil {
				return false, clearErr
			}
			return false, nil
		}
		m.logger.Warn("token verification unavailable, resuming locally", "error", err)
	}

	m.startSession(ctx, countdown, ReasonResumed)
	return true, nil
}

// Login submits the password factor. Valid from StateAnonymous and
// StateExpired; a fresh login supersedes an expired session, and the emitted
// transition event reports StateExpired as its origin. Outcomes: nil error
// and a transition to StateAuthenticated; ErrOTPRequired and a transition to
// StateAwaitingOTP; a *panelapi.APIError rejection with the state unchanged
// (the collaborator does not reveal which factor was wrong); or a transport
// error with the state unchanged.
func (m *Machine) Login(ctx context.Context, username, password string) error {
	m.mu.Lock()
	switch m.state {
	case StateAuthenticated:
		m.mu.Unlock()
		return ErrAlreadyAuthenticated
	case StateAwaitingOTP:
		m.mu.Unlock()
		return ErrOTPRequired
	}
	m.mu.Unlock()

	resp, err := m.api.Login(ctx, panelapi.LoginRequest{Username: username, Password: password})
	if err != nil {
		return err
	}

	if resp.RequiresOTP {
		m.transition(StateAwaitingOTP, ReasonOTPChallenge, func() {
			m.pending = username
		})
		return ErrOTPRequired
	}

	return m.establish(ctx, resp, ReasonLogin)
}

// SubmitOTP completes a pending one-time-password challenge. Only valid from
// StateAwaitingOTP. A rejected OTP leaves the machine awaiting another
// attempt; AbortOTP returns to anonymous for a fresh password entry.
func (m *Machine) SubmitOTP(ctx context.Context, otp string) error {
	m.mu.Lock()
	if m.state != StateAwaitingOTP {
		m.mu.Unlock()
		return ErrNotAwaitingOTP
	}
	username := m.pending
	m.mu.Unlock()

	resp, err := m.api.Login(ctx, panelapi.LoginRequest{Username: username, OTPAnswer: otp})
	if err != nil {
		return err
	}
	if resp.RequiresOTP {
		// Collaborator re-issued the challenge; stay put.
		return ErrOTPRequired
	}

	return m.establish(ctx, resp, ReasonLogin)
}

// AbortOTP cancels a pending challenge and returns to anonymous. No-op in
// any other state.
func (m *Machine) AbortOTP() {
	m.transitionFrom(StateAwaitingOTP, StateAnonymous, ReasonOTPAborted, func() {
		m.pending = ""
	})
}

// Logout ends the session. The collaborator is notified best-effort; local
// state is cleared unconditionally, so logout never gets stuck on a network
// failure. Safe to call repeatedly and from any state.
func (m *Machine) Logout(ctx context.Context) error {
	if _, err := m.store.Get(); err == nil {
		if err := m.api.Logout(ctx); err != nil {
			m.logger.Warn("logout notification failed, clearing locally", "error", err)
		}
	}

	if err := m.store.Clear(); err != nil {
		return err
	}

	m.mu.Lock()
	from := m.state
	m.stopClocksLocked()
	m.pending = ""
	m.sid = idx.Zero
	m.state = StateAnonymous
	m.mu.Unlock()

	if from != StateAnonymous {
		m.emit(from, StateAnonymous, ReasonLogout)
	}
	return nil
}

// Activity records a user-activity signal, pushing the idle deadline out.
// Ignored outside an authenticated session.
func (m *Machine) Activity() {
	m.mu.Lock()
	idle := m.idle
	m.mu.Unlock()

	if idle != nil {
		idle.Touch()
	}
}

// SecondsRemaining returns the whole seconds left of the absolute session
// lifetime, zero outside an authenticated session.
func (m *Machine) SecondsRemaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateAuthenticated {
		return 0
	}
	return m.countdown.SecondsRemaining(m.now())
}

// Close detaches both clocks without touching the stored credential. Used
// when the session view is torn down; a later Resume picks the session back
// up. Subscribers are not notified.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopClocksLocked()
}

// establish stores the fresh credential and starts the session clocks.
func (m *Machine) establish(ctx context.Context, resp *panelapi.LoginResponse, reason Reason) error {
	if !resp.Success || resp.Token == "" {
		return fmt.Errorf("session: collaborator returned neither token nor challenge")
	}

	identity, err := credstore.IdentityFromToken(resp.Token)
	if err != nil {
		return fmt.Errorf("session: reject credential: %w", err)
	}

	now := m.now()
	cred := credstore.Credential{
		Token:    resp.Token,
		Identity: identity,
		StoredAt: now,
	}
	if err := m.store.Set(cred); err != nil {
		return err
	}

	lifetime := m.lifetime
	if resp.ExpiresIn > 0 {
		lifetime = time.Duration(resp.ExpiresIn) * time.Second
	}

	m.startSession(ctx, NewCountdown(now, lifetime), reason)
	return nil
}

// startSession arms the idle watch and the 1 Hz expiry poll, then moves to
// StateAuthenticated. The idle timeout is fetched from system configuration
// once here and held constant for the session's lifetime.
func (m *Machine) startSession(ctx context.Context, countdown Countdown, reason Reason) {
	idleTimeout := m.fallbackIdle
	if settings, err := m.api.GetSystemSettings(ctx); err == nil && settings.IdleTimeoutMinutes > 0 {
		idleTimeout = time.Duration(settings.IdleTimeoutMinutes) * time.Minute
	} else if err != nil {
		m.logger.Warn("idle timeout fetch failed, using fallback",
			"fallback", m.fallbackIdle, "error", err)
	}

	pollCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	from := m.state
	m.stopClocksLocked()
	m.state = StateAuthenticated
	m.pending = ""
	m.sid = idx.New()
	m.countdown = countdown
	m.idle = NewIdleWatch(idleTimeout, func() { m.expire(ReasonIdleExpired) })
	m.cancelPoll = cancel
	m.mu.Unlock()

	go m.poll(pollCtx, countdown)

	m.logger.Info("session established",
		"sid", m.SessionID().String(),
		"lifetime", countdown.Remaining(m.now()),
		"idle_timeout", idleTimeout)
	m.emit(from, StateAuthenticated, reason)
}

// poll rechecks the absolute lifetime once per interval. The deadline is
// recomputed from the wall clock each tick, so a slept tab catches up on the
// next tick instead of drifting.
func (m *Machine) poll(ctx context.Context, countdown Countdown) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if countdown.Expired(m.now()) {
				m.expire(ReasonSessionExpired)
				return
			}
		}
	}
}

// expire forces the logout-equivalent clear with a distinguished reason. The
// two clocks and the 401 hook all funnel here; whichever fires first wins and
// the rest become no-ops.
func (m *Machine) expire(reason Reason) {
	m.mu.Lock()
	if m.state != StateAuthenticated {
		m.mu.Unlock()
		return
	}
	m.stopClocksLocked()
	m.state = StateExpired
	m.sid = idx.Zero
	m.mu.Unlock()

	if err := m.store.Clear(); err != nil {
		m.logger.Error("clearing expired credential failed", "error", err)
	}

	m.logger.Info("session expired", "reason", string(reason))
	m.emit(StateAuthenticated, StateExpired, reason)
}

// stopClocksLocked cancels the poll and the idle watch. Caller holds m.mu.
func (m *Machine) stopClocksLocked() {
	if m.cancelPoll != nil {
		m.cancelPoll()
		m.cancelPoll = nil
	}
	if m.idle != nil {
		m.idle.Stop()
		m.idle = nil
	}
}

// transition moves to a new state unconditionally, running apply under the
// lock, and notifies subscribers.
func (m *Machine) transition(to State, reason Reason, apply func()) {
	m.mu.Lock()
	from := m.state
	m.state = to
	if apply != nil {
		apply()
	}
	m.mu.Unlock()

	m.emit(from, to, reason)
}

// transitionFrom is like transition but only fires when the machine is in
// the expected source state.
func (m *Machine) transitionFrom(from, to State, reason Reason, apply func()) {
	m.mu.Lock()
	if m.state != from {
		m.mu.Unlock()
		return
	}
	m.state = to
	if apply != nil {
		apply()
	}
	m.mu.Unlock()

	m.emit(from, to, reason)
}

func (m *Machine) emit(from, to State, reason Reason) {
	m.mu.Lock()
	subs := make([]func(Event), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	event := Event{
		ID:     idx.New(),
		From:   from,
		To:     to,
		Reason: reason,
		At:     m.now(),
	}
	for _, fn := range subs {
		fn(event)
	}
}
