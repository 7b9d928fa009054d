// Package provision issues and rotates credentials for managed accounts. All
// policy and safety checks that do not need server state run locally, so a
// request that is known to fail is never sent.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/stackworks/panelauth/pkg/panelapi"
	"github.com/stackworks/panelauth/pkg/passpolicy"
)

// builtinAdmin is the distinguished account that ships with every install.
const builtinAdmin = "ADMIN"

var (
	// ErrBuiltinAdmin reports a destructive operation aimed at the built-in
	// administrator account. Refused locally, independent of server-side
	// enforcement.
	ErrBuiltinAdmin = errors.New("provision: the built-in administrator account cannot be modified this way")

	// ErrOTPMissing reports one-time-password mode selected without a value.
	ErrOTPMissing = errors.New("provision: one-time password mode requires a value")

	// ErrIdleTimeoutRange reports an idle timeout below one minute.
	ErrIdleTimeoutRange = errors.New("provision: idle timeout must be at least 1 minute")
)

// PolicyViolationError carries the full violation list for a rejected
// password candidate. The request was not sent.
type PolicyViolationError struct {
	Violations []passpolicy.Violation
}

func (e *PolicyViolationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Message
	}
	return "provision: password rejected by policy: " + strings.Join(msgs, "; ")
}

// IsPolicyViolation reports whether err is a policy rejection and returns the
// violation list when it is.
func IsPolicyViolation(err error) ([]passpolicy.Violation, bool) {
	var pv *PolicyViolationError
	if errors.As(err, &pv) {
		return pv.Violations, true
	}
	return nil, false
}

// AccountSpec describes a new account. With UseOneTimePassword set the OTP
// value is armed for a single login; otherwise the collaborator assigns its
// default password.
type AccountSpec struct {
	Username           string `validate:"required,max=64"`
	FullName           string `validate:"required,max=128"`
	Admin              bool
	PasswordExpiryDays int `validate:"gte=0"`
	UseOneTimePassword bool
	OneTimePassword    string
}

// AccountUpdate edits an existing account. The username is immutable after
// creation and has no field here. Arming a one-time password forces a
// password change on the account's next login.
type AccountUpdate struct {
	FullName           string
	PasswordExpiryDays *int
	UseOneTimePassword bool
	OneTimePassword    string
}

// CreateResult reports the provisioned account. OTP is the disclose-once
// value; the engine does not retain it after returning.
type CreateResult struct {
	UserID int64
	OTP    string
}

// ResetMode selects how a password reset replaces the credential: a fixed
// password validated against the live policy, or a disclose-once OTP.
type ResetMode struct {
	fixed   string
	otp     string
	oneTime bool
}

// FixedPassword resets to a known password. The candidate is validated
// against the current policy before any request is sent.
func FixedPassword(password string) ResetMode {
	return ResetMode{fixed: password}
}

// OneTimePassword arms a disclose-once password. Exempt from the password
// policy but required non-empty.
func OneTimePassword(otp string) ResetMode {
	return ResetMode{otp: otp, oneTime: true}
}

// Engine performs the admin-facing account lifecycle operations through the
// collaborator client.
type Engine struct {
	api      *panelapi.Client
	logger   *slog.Logger
	validate *validator.Validate
}

// NewEngine wires an engine to the collaborator client.
func NewEngine(api *panelapi.Client, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		api:      api,
		logger:   logger,
		validate: validator.New(),
	}
}

// Accounts lists every managed account.
func (e *Engine) Accounts(ctx context.Context) ([]panelapi.User, error) {
	return e.api.ListUsers(ctx)
}

// CreateAccount provisions a new account. One-time mode with an empty OTP is
// rejected before any request is sent.
func (e *Engine) CreateAccount(ctx context.Context, spec AccountSpec) (*CreateResult, error) {
	if err := e.validate.Struct(spec); err != nil {
		return nil, fmt.Errorf("provision: invalid account spec: %w", err)
	}
	if spec.UseOneTimePassword && spec.OneTimePassword == "" {
		return nil, ErrOTPMissing
	}

	resp, err := e.api.CreateUser(ctx, panelapi.CreateUserRequest{
		Username:           spec.Username,
		FullName:           spec.FullName,
		IsAdmin:            panelapi.FlagOf(spec.Admin),
		PasswordExpiryDays: spec.PasswordExpiryDays,
		UseOneTimePassword: spec.UseOneTimePassword,
		OneTimePassword:    spec.OneTimePassword,
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("account created",
		"username", spec.Username, "admin", spec.Admin, "otp_mode", spec.UseOneTimePassword)
	return &CreateResult{UserID: resp.UserID, OTP: resp.OTP}, nil
}

// UpdateAccount edits an account's mutable fields. Returns the OTP disclosure
// when the update armed a one-time password, otherwise the empty string.
func (e *Engine) UpdateAccount(ctx context.Context, id int64, update AccountUpdate) (string, error) {
	if update.UseOneTimePassword && update.OneTimePassword == "" {
		return "", ErrOTPMissing
	}

	resp, err := e.api.UpdateUser(ctx, id, panelapi.UpdateUserRequest{
		FullName:           update.FullName,
		PasswordExpiryDays: update.PasswordExpiryDays,
		UseOneTimePassword: update.UseOneTimePassword,
		OneTimePassword:    update.OneTimePassword,
	})
	if err != nil {
		return "", err
	}

	e.logger.Info("account updated", "id", id, "otp_mode", update.UseOneTimePassword)
	return resp.OTP, nil
}

// ResetPassword replaces an account's credential. Fixed mode is validated
// against the live policy first and fails closed when the policy cannot be
// fetched; one-time mode bypasses the policy but requires a value.
func (e *Engine) ResetPassword(ctx context.Context, id int64, mode ResetMode) (string, error) {
	req := panelapi.ResetPasswordRequest{}

	if mode.oneTime {
		if mode.otp == "" {
			return "", ErrOTPMissing
		}
		req.UseOneTimePassword = true
		req.OneTimePassword = mode.otp
	} else {
		policy, err := e.PasswordPolicy(ctx)
		if err != nil {
			return "", fmt.Errorf("provision: cannot verify password against policy: %w", err)
		}
		if violations := passpolicy.Validate(mode.fixed, policy); len(violations) > 0 {
			return "", &PolicyViolationError{Violations: violations}
		}
		req.NewPassword = mode.fixed
	}

	resp, err := e.api.ResetPassword(ctx, id, req)
	if err != nil {
		return "", err
	}

	e.logger.Info("password reset", "id", id, "otp_mode", mode.oneTime)
	return resp.OTP, nil
}

// BlockAccount blocks an account. The built-in administrator cannot be
// blocked.
func (e *Engine) BlockAccount(ctx context.Context, id int64, username string) error {
	if username == builtinAdmin {
		return ErrBuiltinAdmin
	}
	if err := e.api.BlockUser(ctx, id, true); err != nil {
		return err
	}
	e.logger.Info("account blocked", "id", id, "username", username)
	return nil
}

// UnblockAccount lifts an account's block.
func (e *Engine) UnblockAccount(ctx context.Context, id int64, username string) error {
	if err := e.api.BlockUser(ctx, id, false); err != nil {
		return err
	}
	e.logger.Info("account unblocked", "id", id, "username", username)
	return nil
}

// DeleteAccount removes an account. The built-in administrator cannot be
// deleted.
func (e *Engine) DeleteAccount(ctx context.Context, id int64, username string) error {
	if username == builtinAdmin {
		return ErrBuiltinAdmin
	}
	if err := e.api.DeleteUser(ctx, id); err != nil {
		return err
	}
	e.logger.Info("account deleted", "id", id, "username", username)
	return nil
}

// ChangeOwnPassword rotates the caller's own password, validating the new
// candidate against the live policy first.
func (e *Engine) ChangeOwnPassword(ctx context.Context, userID int64, oldPassword, newPassword string) error {
	policy, err := e.PasswordPolicy(ctx)
	if err != nil {
		return fmt.Errorf("provision: cannot verify password against policy: %w", err)
	}
	if violations := passpolicy.Validate(newPassword, policy); len(violations) > 0 {
		return &PolicyViolationError{Violations: violations}
	}

	return e.api.ChangePassword(ctx, panelapi.ChangePasswordRequest{
		UserID:      userID,
		OldPassword: oldPassword,
		NewPassword: newPassword,
	})
}

// PasswordPolicy fetches the current global password policy.
func (e *Engine) PasswordPolicy(ctx context.Context) (passpolicy.Policy, error) {
	settings, err := e.api.GetPasswordSettings(ctx)
	if err != nil {
		return passpolicy.Policy{}, err
	}
	return passpolicy.Policy{
		MinLength:      settings.MinLength,
		RequireUpper:   settings.RequireCapitalLetter.Bool(),
		RequireSpecial: settings.RequireSpecialChar.Bool(),
		MinDigits:      settings.RequireDigits,
	}, nil
}

// SetPasswordPolicy replaces the global password policy. Bounds are checked
// locally before the request.
func (e *Engine) SetPasswordPolicy(ctx context.Context, policy passpolicy.Policy) error {
	if err := policy.CheckBounds(); err != nil {
		return err
	}
	err := e.api.UpdatePasswordSettings(ctx, panelapi.PasswordSettings{
		MinLength:            policy.MinLength,
		RequireCapitalLetter: panelapi.FlagOf(policy.RequireUpper),
		RequireSpecialChar:   panelapi.FlagOf(policy.RequireSpecial),
		RequireDigits:        policy.MinDigits,
	})
	if err != nil {
		return err
	}
	e.logger.Info("password policy updated", "min_length", policy.MinLength)
	return nil
}

// SystemSettings fetches the console-wide operational settings.
func (e *Engine) SystemSettings(ctx context.Context) (*panelapi.SystemSettings, error) {
	return e.api.GetSystemSettings(ctx)
}

// SetSystemSettings replaces the console-wide settings. The failed-login
// limit is passed through as configuration data; its enforcement lives with
// the collaborator.
func (e *Engine) SetSystemSettings(ctx context.Context, settings panelapi.SystemSettings) error {
	if settings.IdleTimeoutMinutes < 1 {
		return ErrIdleTimeoutRange
	}
	if err := e.api.UpdateSystemSettings(ctx, settings); err != nil {
		return err
	}
	e.logger.Info("system settings updated",
		"failed_login_limit", settings.FailedLoginLimit,
		"idle_timeout_minutes", settings.IdleTimeoutMinutes)
	return nil
}
