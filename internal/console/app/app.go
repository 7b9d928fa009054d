// Package app wires the console application: credential store, collaborator
// client, session machine and provisioning engine, plus the interactive
// command loop.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/term"
	"golang.org/x/time/rate"

	"github.com/stackworks/panelauth/pkg/credstore"
	"github.com/stackworks/panelauth/pkg/panelapi"
	"github.com/stackworks/panelauth/pkg/provision"
	"github.com/stackworks/panelauth/pkg/session"
	"github.com/stackworks/panelauth/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application holds the console's long-lived components.
type Application struct {
	cfg    Config
	logger *slog.Logger

	store   credstore.Store
	api     *panelapi.Client
	machine *session.Machine
	engine  *provision.Engine

	in *bufio.Reader
}

// New builds the application from configuration.
func New(cfg Config) (*Application, error) {
	if cfg.APIBaseURL == "" {
		return nil, errors.New("app: API base URL is required")
	}

	logger := slogx.New(slogx.Config{
		Service: "panelctl",
		Version: BuildVersion,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})

	store := credstore.NewFileStore(cfg.CredentialFile)
	api := panelapi.NewClient(cfg.APIBaseURL)
	api.Tokens = panelapi.TokenFunc(func() string { return credstore.Token(store) })
	// Stay under the collaborator's per-client request limits.
	api.Limiter = rate.NewLimiter(rate.Limit(10), 20)

	machine := session.New(api, store, session.Config{
		Lifetime:    cfg.Lifetime,
		IdleTimeout: cfg.IdleTimeout,
		Logger:      logger,
	})

	return &Application{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		api:     api,
		machine: machine,
		engine:  provision.NewEngine(api, logger),
		in:      bufio.NewReader(os.Stdin),
	}, nil
}

// Run resumes or establishes a session, then serves the command loop until
// the session ends or the process is interrupted.
func (app *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer app.machine.Close()

	done := make(chan struct{})
	app.machine.Subscribe(func(e session.Event) {
		switch {
		case e.Reason == session.ReasonLogout:
			fmt.Println("Logged out.")
		case e.Expiry():
			switch e.Reason {
			case session.ReasonIdleExpired:
				fmt.Println("Session ended after a period of inactivity. Please log in again.")
			case session.ReasonUnauthorized:
				fmt.Println("Session rejected by the server. Please log in again.")
			default:
				fmt.Println("Session expired. Please log in again.")
			}
			close(done)
		}
	})

	resumed, err := app.machine.Resume(ctx)
	if err != nil {
		return fmt.Errorf("app: resume: %w", err)
	}
	if resumed {
		fmt.Println("Session resumed.")
	} else if err := app.loginFlow(ctx); err != nil {
		return err
	}

	ctx = slogx.WithContext(ctx, app.logger)
	ctx = slogx.WithSessionID(ctx, app.machine.SessionID().String())

	if err := app.showProfile(ctx); err != nil {
		slogx.FromContext(ctx).Warn("profile fetch failed", "error", err)
	}

	return app.commandLoop(ctx, done)
}

// loginFlow prompts for credentials and drives the optional OTP challenge.
func (app *Application) loginFlow(ctx context.Context) error {
	for {
		username, err := app.prompt("Username: ")
		if err != nil {
			return err
		}
		password, err := app.promptSecret("Password: ")
		if err != nil {
			return err
		}

		err = app.machine.Login(ctx, username, password)
		switch {
		case err == nil:
			fmt.Printf("Logged in. Session expires in %d seconds.\n", app.machine.SecondsRemaining())
			return nil
		case errors.Is(err, session.ErrOTPRequired):
			if err := app.otpFlow(ctx); err != nil {
				return err
			}
			if app.machine.State() == session.StateAuthenticated {
				return nil
			}
			// Challenge aborted, back to the password prompt.
		case panelapi.IsUnauthorized(err):
			fmt.Println("Invalid username or password.")
		case panelapi.IsTransport(err):
			return fmt.Errorf("app: cannot reach %s: %w", app.cfg.APIBaseURL, err)
		default:
			return err
		}
	}
}

// otpFlow collects one-time-password attempts. An empty answer aborts the
// challenge and falls back to password entry.
func (app *Application) otpFlow(ctx context.Context) error {
	for {
		otp, err := app.promptSecret("One-time password (empty to cancel): ")
		if err != nil {
			return err
		}
		if otp == "" {
			app.machine.AbortOTP()
			return nil
		}

		err = app.machine.SubmitOTP(ctx, otp)
		switch {
		case err == nil:
			fmt.Printf("Logged in. Session expires in %d seconds.\n", app.machine.SecondsRemaining())
			return nil
		case panelapi.IsUnauthorized(err):
			fmt.Println("One-time password rejected.")
		case panelapi.IsTransport(err):
			return fmt.Errorf("app: cannot reach %s: %w", app.cfg.APIBaseURL, err)
		default:
			return err
		}
	}
}

// commandLoop reads admin commands until quit, interrupt or session end.
// Every accepted input line counts as user activity.
func (app *Application) commandLoop(ctx context.Context, done <-chan struct{}) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := app.in.ReadString('\n')
			if err != nil {
				return
			}
			select {
			case lines <- strings.TrimSpace(line):
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Println(`Commands: status, profile, users, otp, reset <id>, logout, quit.`)
	fmt.Print("> ")
	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return app.machine.Logout(context.Background())
		case <-done:
			return nil
		case line, ok := <-lines:
			if !ok {
				return app.machine.Logout(context.Background())
			}
			app.machine.Activity()
			if err := app.dispatch(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return app.machine.Logout(context.Background())
				}
				fmt.Println("Error:", err)
			}
			fmt.Print("> ")
		}
	}
}

var errQuit = errors.New("quit")

func (app *Application) dispatch(ctx context.Context, line string) error {
	cmd, rest, _ := strings.Cut(line, " ")
	switch cmd {
	case "":
		return nil
	case "status":
		fmt.Printf("State: %s, %d seconds remaining.\n",
			app.machine.State(), app.machine.SecondsRemaining())
		return nil
	case "profile":
		return app.showProfile(ctx)
	case "users":
		return app.listUsers(ctx)
	case "otp":
		otp, err := provision.GenerateOneTimePassword()
		if err != nil {
			return err
		}
		fmt.Println("Generated one-time password:", otp)
		return nil
	case "reset":
		return app.resetPassword(ctx, rest)
	case "logout":
		if err := app.machine.Logout(ctx); err != nil {
			return err
		}
		return errQuit
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (app *Application) showProfile(ctx context.Context) error {
	profile, err := app.api.GetProfile(ctx)
	if err != nil {
		return err
	}
	role := "user"
	if profile.IsAdmin.Bool() {
		role = "administrator"
	}
	fmt.Printf("Signed in as %s (%s), %s.\n", profile.Username, profile.FullName, role)
	if profile.MustChangePassword.Bool() {
		fmt.Println("Your password must be changed before further use.")
	}
	return nil
}

func (app *Application) listUsers(ctx context.Context) error {
	users, err := app.engine.Accounts(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		flags := make([]string, 0, 2)
		if u.IsAdmin.Bool() {
			flags = append(flags, "admin")
		}
		if u.IsBlocked.Bool() {
			flags = append(flags, "blocked")
		}
		suffix := ""
		if len(flags) > 0 {
			suffix = " [" + strings.Join(flags, ", ") + "]"
		}
		fmt.Printf("%4d  %-20s %s%s\n", u.ID, u.Username, u.FullName, suffix)
	}
	return nil
}

// resetPassword arms a generated one-time password for the given account id.
func (app *Application) resetPassword(ctx context.Context, arg string) error {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil {
		return fmt.Errorf("usage: reset <account id>")
	}

	otp, err := provision.GenerateOneTimePassword()
	if err != nil {
		return err
	}
	disclosed, err := app.engine.ResetPassword(ctx, id, provision.OneTimePassword(otp))
	if err != nil {
		return err
	}
	fmt.Println("One-time password (shown once):", disclosed)
	return nil
}

func (app *Application) prompt(label string) (string, error) {
	fmt.Print(label)
	line, err := app.in.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// promptSecret reads without echo when stdin is a terminal, falling back to a
// plain line read when it is not (tests, pipes).
func (app *Application) promptSecret(label string) (string, error) {
	fmt.Print(label)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return "", err
		}
		return string(secret), nil
	}
	return app.prompt("")
}
