package session_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stackworks/panelauth/pkg/credstore"
	"github.com/stackworks/panelauth/pkg/panelapi"
	"github.com/stackworks/panelauth/pkg/session"
	"github.com/stretchr/testify/require"
)

// fakeClock is a controllable time source for the lifetime countdown.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// collaborator fakes the remote authentication service.
type collaborator struct {
	mu           sync.Mutex
	password     string
	otp          string // non-empty enables the OTP challenge flow
	idleMinutes  int    // 0 makes the settings endpoint fail
	failLogout   bool
	rejectVerify bool
	logouts      int
	requests     int
}

func (c *collaborator) token() string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload, _ := json.Marshal(map[string]any{
		"user_id":  1,
		"username": "alice",
		"is_admin": 1,
		"iat":      time.Now().Unix(),
		"exp":      time.Now().Add(15 * time.Minute).Unix(),
	})
	return fmt.Sprintf("%s.%s.sig", header, base64.RawURLEncoding.EncodeToString(payload))
}

func (c *collaborator) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/login", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.requests++

		var req panelapi.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		switch {
		case req.OTPAnswer != "":
			if c.otp != "" && req.OTPAnswer == c.otp {
				json.NewEncoder(w).Encode(map[string]any{
					"success": true, "token": c.token(), "expires_in": 900,
					"user": map[string]any{"id": 1, "username": req.Username, "is_admin": 1},
				})
				return
			}
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"error": "invalid one-time password"})
		case c.otp != "":
			json.NewEncoder(w).Encode(map[string]any{"requires_otp": true})
		case req.Password == c.password:
			json.NewEncoder(w).Encode(map[string]any{
				"success": true, "token": c.token(), "expires_in": 900,
				"user": map[string]any{"id": 1, "username": req.Username, "is_admin": 1},
			})
		default:
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"error": "invalid username or password"})
		}
	})

	mux.HandleFunc("POST /api/logout", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.requests++
		c.logouts++
		if c.failLogout {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	})

	mux.HandleFunc("GET /api/system-settings", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.requests++
		if c.idleMinutes == 0 {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]any{"error": "settings unavailable"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"failed_login_limit": 5, "idle_timeout_minutes": c.idleMinutes,
		})
	})

	mux.HandleFunc("GET /api/verify-token", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.requests++
		if c.rejectVerify {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"error": "token expired"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"valid": true})
	})

	mux.HandleFunc("GET /api/users", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.requests++
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"error": "token expired"})
	})

	return mux
}

type fixture struct {
	machine *session.Machine
	store   *credstore.MemStore
	api     *panelapi.Client
	clock   *fakeClock
	remote  *collaborator
}

func newFixture(t *testing.T, remote *collaborator, cfg session.Config) *fixture {
	t.Helper()

	srv := httptest.NewServer(remote.handler())
	t.Cleanup(srv.Close)

	store := credstore.NewMemStore()
	api := panelapi.NewClient(srv.URL)
	api.Tokens = panelapi.TokenFunc(func() string { return credstore.Token(store) })

	clock := newFakeClock()
	if cfg.Now == nil {
		cfg.Now = clock.Now
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}

	machine := session.New(api, store, cfg)
	t.Cleanup(machine.Close)

	return &fixture{machine: machine, store: store, api: api, clock: clock, remote: remote}
}

// eventLog captures transition events; subscribers may fire from the clock
// goroutines, so access goes through the mutex.
type eventLog struct {
	mu     sync.Mutex
	events []session.Event
}

func (l *eventLog) record(e session.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) at(i int) session.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[i]
}

func (l *eventLog) last() (session.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return session.Event{}, false
	}
	return l.events[len(l.events)-1], true
}

func (f *fixture) events(t *testing.T) *eventLog {
	t.Helper()

	log := &eventLog{}
	f.machine.Subscribe(log.record)
	return log
}

func TestLoginRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &collaborator{password: "Correct1!"}, session.Config{})

	err := f.machine.Login(context.Background(), "alice", "wrongpass")
	require.True(t, panelapi.IsUnauthorized(err))
	require.Equal(t, session.StateAnonymous, f.machine.State())

	_, storeErr := f.store.Get()
	require.ErrorIs(t, storeErr, credstore.ErrNoCredential)
}

func TestLoginChallengeAndOTP(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &collaborator{otp: "123456", idleMinutes: 15}, session.Config{})
	events := f.events(t)

	err := f.machine.Login(context.Background(), "alice", "Correct1!")
	require.ErrorIs(t, err, session.ErrOTPRequired)
	require.Equal(t, session.StateAwaitingOTP, f.machine.State())

	// A rejected OTP leaves the challenge pending.
	err = f.machine.SubmitOTP(context.Background(), "000000")
	require.True(t, panelapi.IsUnauthorized(err))
	require.Equal(t, session.StateAwaitingOTP, f.machine.State())

	require.NoError(t, f.machine.SubmitOTP(context.Background(), "123456"))
	require.Equal(t, session.StateAuthenticated, f.machine.State())
	require.False(t, f.machine.SessionID().IsZero())

	cred, err := f.store.Get()
	require.NoError(t, err)
	require.Equal(t, "alice", cred.Identity.Username)
	require.True(t, cred.Identity.Admin)

	remaining := f.machine.SecondsRemaining()
	require.Positive(t, remaining)
	require.LessOrEqual(t, remaining, 900)

	require.Equal(t, session.ReasonOTPChallenge, events.at(0).Reason)
	require.Equal(t, session.ReasonLogin, events.at(1).Reason)
	require.Equal(t, session.StateAuthenticated, events.at(1).To)
}

func TestSubmitOTPWithoutChallenge(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &collaborator{password: "pw"}, session.Config{})
	err := f.machine.SubmitOTP(context.Background(), "123456")
	require.ErrorIs(t, err, session.ErrNotAwaitingOTP)
}

func TestAbortOTPReturnsToAnonymous(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &collaborator{otp: "123456"}, session.Config{})

	require.ErrorIs(t, f.machine.Login(context.Background(), "alice", "pw"), session.ErrOTPRequired)
	f.machine.AbortOTP()
	require.Equal(t, session.StateAnonymous, f.machine.State())

	// Aborting again is a no-op.
	f.machine.AbortOTP()
	require.Equal(t, session.StateAnonymous, f.machine.State())
}

func TestLogoutIdempotent(t *testing.T) {
	t.Parallel()

	remote := &collaborator{password: "Correct1!", idleMinutes: 15}
	f := newFixture(t, remote, session.Config{})

	require.NoError(t, f.machine.Login(context.Background(), "alice", "Correct1!"))

	require.NoError(t, f.machine.Logout(context.Background()))
	require.Equal(t, session.StateAnonymous, f.machine.State())
	_, err := f.store.Get()
	require.ErrorIs(t, err, credstore.ErrNoCredential)

	// Second logout neither errors nor resurrects anything.
	require.NoError(t, f.machine.Logout(context.Background()))
	_, err = f.store.Get()
	require.ErrorIs(t, err, credstore.ErrNoCredential)

	remote.mu.Lock()
	defer remote.mu.Unlock()
	require.Equal(t, 1, remote.logouts)
}

func TestLogoutClearsEvenWhenNotificationFails(t *testing.T) {
	t.Parallel()

	remote := &collaborator{password: "Correct1!", idleMinutes: 15, failLogout: true}
	f := newFixture(t, remote, session.Config{})

	require.NoError(t, f.machine.Login(context.Background(), "alice", "Correct1!"))
	require.NoError(t, f.machine.Logout(context.Background()))

	require.Equal(t, session.StateAnonymous, f.machine.State())
	_, err := f.store.Get()
	require.ErrorIs(t, err, credstore.ErrNoCredential)
}

func TestSessionLifetimeExpiry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &collaborator{password: "Correct1!", idleMinutes: 15}, session.Config{})
	events := f.events(t)

	require.NoError(t, f.machine.Login(context.Background(), "alice", "Correct1!"))
	require.Equal(t, 900, f.machine.SecondsRemaining())

	// One second past the absolute lifetime: the next poll must notice.
	f.clock.Advance(901 * time.Second)

	require.Eventually(t, func() bool {
		last, ok := events.last()
		return ok && last.To == session.StateExpired
	}, time.Second, 10*time.Millisecond)

	require.Equal(t, session.StateExpired, f.machine.State())
	_, err := f.store.Get()
	require.ErrorIs(t, err, credstore.ErrNoCredential)
	require.Zero(t, f.machine.SecondsRemaining())

	last, _ := events.last()
	require.Equal(t, session.ReasonSessionExpired, last.Reason)
	require.True(t, last.Expiry())
}

func TestIdleExpiry(t *testing.T) {
	t.Parallel()

	// Settings endpoint fails, so the configured fallback applies.
	f := newFixture(t, &collaborator{password: "Correct1!"}, session.Config{
		IdleTimeout: 50 * time.Millisecond,
	})
	events := f.events(t)

	require.NoError(t, f.machine.Login(context.Background(), "alice", "Correct1!"))

	require.Eventually(t, func() bool {
		last, ok := events.last()
		return ok && last.To == session.StateExpired
	}, time.Second, 10*time.Millisecond)

	_, err := f.store.Get()
	require.ErrorIs(t, err, credstore.ErrNoCredential)
	last, _ := events.last()
	require.Equal(t, session.ReasonIdleExpired, last.Reason)
}

func TestActivityDefersIdleExpiry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &collaborator{password: "Correct1!"}, session.Config{
		IdleTimeout: 80 * time.Millisecond,
	})

	require.NoError(t, f.machine.Login(context.Background(), "alice", "Correct1!"))

	for i := 0; i < 5; i++ {
		time.Sleep(30 * time.Millisecond)
		f.machine.Activity()
	}
	require.Equal(t, session.StateAuthenticated, f.machine.State())
}

func TestUnauthorizedResponseEndsSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &collaborator{password: "Correct1!", idleMinutes: 15}, session.Config{})
	events := f.events(t)

	require.NoError(t, f.machine.Login(context.Background(), "alice", "Correct1!"))

	// The collaborator rejects the token on the next authenticated call.
	_, err := f.api.ListUsers(context.Background())
	require.True(t, panelapi.IsUnauthorized(err))

	require.Equal(t, session.StateExpired, f.machine.State())
	_, storeErr := f.store.Get()
	require.ErrorIs(t, storeErr, credstore.ErrNoCredential)
	last, _ := events.last()
	require.Equal(t, session.ReasonUnauthorized, last.Reason)
}

func TestResume(t *testing.T) {
	t.Parallel()

	t.Run("fresh credential resumes", func(t *testing.T) {
		t.Parallel()

		remote := &collaborator{idleMinutes: 15}
		f := newFixture(t, remote, session.Config{})

		require.NoError(t, f.store.Set(credstore.Credential{
			Token: remote.token(),
			Identity: credstore.Identity{
				UserID: 1, Username: "alice",
				Expiry: f.clock.Now().Add(14 * time.Minute),
			},
			StoredAt: f.clock.Now(),
		}))

		ok, err := f.machine.Resume(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, session.StateAuthenticated, f.machine.State())
	})

	t.Run("stale credential is cleared, not resumed", func(t *testing.T) {
		t.Parallel()

		remote := &collaborator{idleMinutes: 15}
		f := newFixture(t, remote, session.Config{})

		require.NoError(t, f.store.Set(credstore.Credential{
			Token: remote.token(),
			Identity: credstore.Identity{
				UserID: 1, Username: "alice",
				Expiry: f.clock.Now().Add(14 * time.Minute),
			},
			StoredAt: f.clock.Now().Add(-901 * time.Second),
		}))

		ok, err := f.machine.Resume(context.Background())
		require.NoError(t, err)
		require.False(t, ok)
		require.Equal(t, session.StateAnonymous, f.machine.State())
		_, storeErr := f.store.Get()
		require.ErrorIs(t, storeErr, credstore.ErrNoCredential)
	})

	t.Run("collaborator-rejected token is cleared", func(t *testing.T) {
		t.Parallel()

		remote := &collaborator{idleMinutes: 15, rejectVerify: true}
		f := newFixture(t, remote, session.Config{})

		require.NoError(t, f.store.Set(credstore.Credential{
			Token: remote.token(),
			Identity: credstore.Identity{
				UserID: 1, Username: "alice",
				Expiry: f.clock.Now().Add(14 * time.Minute),
			},
			StoredAt: f.clock.Now(),
		}))

		ok, err := f.machine.Resume(context.Background())
		require.NoError(t, err)
		require.False(t, ok)
		require.Equal(t, session.StateAnonymous, f.machine.State())
		_, storeErr := f.store.Get()
		require.ErrorIs(t, storeErr, credstore.ErrNoCredential)
	})

	t.Run("empty store stays anonymous", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, &collaborator{}, session.Config{})
		ok, err := f.machine.Resume(context.Background())
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestLoginAfterExpiryReportsOrigin(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &collaborator{password: "Correct1!", idleMinutes: 15}, session.Config{})
	events := f.events(t)

	require.NoError(t, f.machine.Login(context.Background(), "alice", "Correct1!"))

	f.clock.Advance(901 * time.Second)
	require.Eventually(t, func() bool {
		last, ok := events.last()
		return ok && last.To == session.StateExpired
	}, time.Second, 10*time.Millisecond)

	// The fresh login supersedes the expired session, and its event names
	// the expired state as the origin.
	require.NoError(t, f.machine.Login(context.Background(), "alice", "Correct1!"))
	require.Equal(t, session.StateAuthenticated, f.machine.State())

	last, _ := events.last()
	require.Equal(t, session.ReasonLogin, last.Reason)
	require.Equal(t, session.StateExpired, last.From)
	require.Equal(t, session.StateAuthenticated, last.To)
}

func TestCloseDetachesClocksWithoutClearing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &collaborator{password: "Correct1!", idleMinutes: 15}, session.Config{})
	events := f.events(t)

	require.NoError(t, f.machine.Login(context.Background(), "alice", "Correct1!"))
	f.machine.Close()

	// With the poll goroutine detached, sailing past the lifetime must not
	// expire the session or touch the stored credential.
	f.clock.Advance(901 * time.Second)
	time.Sleep(100 * time.Millisecond)

	require.Equal(t, session.StateAuthenticated, f.machine.State())
	_, err := f.store.Get()
	require.NoError(t, err)

	last, ok := events.last()
	require.True(t, ok)
	require.Equal(t, session.ReasonLogin, last.Reason)
}

func TestLoginWhileAuthenticated(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &collaborator{password: "Correct1!", idleMinutes: 15}, session.Config{})

	require.NoError(t, f.machine.Login(context.Background(), "alice", "Correct1!"))
	err := f.machine.Login(context.Background(), "alice", "Correct1!")
	require.ErrorIs(t, err, session.ErrAlreadyAuthenticated)
}
