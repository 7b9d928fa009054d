package panelapi

import "encoding/json"

// Flag is a boolean transmitted as 0/1 on the wire. The collaborator mixes
// integer and boolean encodings across endpoints, so decoding accepts both.
type Flag int

// Bool reports whether the flag is set.
func (f Flag) Bool() bool { return f != 0 }

// FlagOf converts a bool to its wire form.
func FlagOf(b bool) Flag {
	if b {
		return 1
	}
	return 0
}

func (f *Flag) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = FlagOf(b)
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if n != 0 {
		*f = 1
	} else {
		*f = 0
	}
	return nil
}

// ============================================================================
// Authentication
// ============================================================================

// LoginRequest carries one authentication factor: either the account password
// or, after a challenge, the one-time password answer.
type LoginRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password,omitempty"`
	OTPAnswer string `json:"otp_answer,omitempty"`
}

// LoginUser is the account summary returned alongside a fresh token.
type LoginUser struct {
	ID                 int64  `json:"id"`
	Username           string `json:"username"`
	FullName           string `json:"full_name"`
	IsAdmin            Flag   `json:"is_admin"`
	MustChangePassword Flag   `json:"must_change_password"`
	PasswordExpired    Flag   `json:"password_expired"`
}

// LoginResponse is the login endpoint's answer. Exactly one of Success or
// RequiresOTP is set on a 200; rejections arrive as *APIError instead.
type LoginResponse struct {
	Success     bool       `json:"success"`
	RequiresOTP bool       `json:"requires_otp"`
	Token       string     `json:"token"`
	ExpiresIn   int        `json:"expires_in"`
	User        *LoginUser `json:"user"`
}

// ============================================================================
// Accounts
// ============================================================================

// User is a managed account record as listed by the collaborator.
type User struct {
	ID                     int64  `json:"id"`
	Username               string `json:"username"`
	FullName               string `json:"full_name"`
	IsAdmin                Flag   `json:"is_admin"`
	IsBlocked              Flag   `json:"is_blocked"`
	PasswordExpiryDays     int    `json:"password_expiry_days"`
	MustChangePassword     Flag   `json:"must_change_password"`
	OneTimePasswordEnabled Flag   `json:"one_time_password_enabled"`
	CreatedAt              string `json:"created_at"`
	LastPasswordChange     string `json:"last_password_change"`
}

// Profile is the authenticated account's own record.
type Profile struct {
	ID                 int64  `json:"id"`
	Username           string `json:"username"`
	FullName           string `json:"full_name"`
	IsAdmin            Flag   `json:"is_admin"`
	IsBlocked          Flag   `json:"is_blocked"`
	PasswordExpiryDays int    `json:"password_expiry_days"`
	CreatedAt          string `json:"created_at"`
	LastPasswordChange string `json:"last_password_change"`
	MustChangePassword Flag   `json:"must_change_password"`
}

// CreateUserRequest provisions a new account. When UseOneTimePassword is set
// the OneTimePassword value is armed server-side and disclosed exactly once
// in the response; otherwise the collaborator assigns its default password.
type CreateUserRequest struct {
	Username           string `json:"username"`
	FullName           string `json:"full_name"`
	IsAdmin            Flag   `json:"is_admin"`
	PasswordExpiryDays int    `json:"password_expiry_days"`
	UseOneTimePassword bool   `json:"use_one_time_password,omitempty"`
	OneTimePassword    string `json:"one_time_password,omitempty"`
}

// CreateUserResponse reports the new account id and, in one-time-password
// mode, the disclose-once OTP value.
type CreateUserResponse struct {
	Success bool   `json:"success"`
	UserID  int64  `json:"user_id"`
	Message string `json:"message"`
	OTP     string `json:"otp,omitempty"`
}

// UpdateUserRequest edits an existing account. The username is immutable
// after creation and deliberately has no field here.
type UpdateUserRequest struct {
	FullName           string `json:"full_name,omitempty"`
	PasswordExpiryDays *int   `json:"password_expiry_days,omitempty"`
	UseOneTimePassword bool   `json:"use_one_time_password,omitempty"`
	OneTimePassword    string `json:"one_time_password,omitempty"`
}

// UpdateUserResponse mirrors CreateUserResponse for edits that arm an OTP.
type UpdateUserResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	OTP     string `json:"otp,omitempty"`
}

// ResetPasswordRequest resets an account's credential. Exactly one mode is
// used: a fixed NewPassword, or a disclose-once OneTimePassword.
type ResetPasswordRequest struct {
	NewPassword        string `json:"new_password,omitempty"`
	UseOneTimePassword bool   `json:"use_one_time_password,omitempty"`
	OneTimePassword    string `json:"one_time_password,omitempty"`
}

// ResetPasswordResponse carries the OTP disclosure when one-time mode was
// requested.
type ResetPasswordResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	OTP     string `json:"otp,omitempty"`
}

// ChangePasswordRequest rotates the caller's own password.
type ChangePasswordRequest struct {
	UserID      int64  `json:"user_id"`
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ============================================================================
// Settings
// ============================================================================

// PasswordSettings is the wire form of the global password policy.
type PasswordSettings struct {
	MinLength            int  `json:"min_length"`
	RequireCapitalLetter Flag `json:"require_capital_letter"`
	RequireSpecialChar   Flag `json:"require_special_char"`
	RequireDigits        int  `json:"require_digits"`
}

// SystemSettings holds console-wide operational settings. The failed-login
// limit is enforced by the collaborator; the idle timeout is consumed by the
// session clock once per session start.
type SystemSettings struct {
	FailedLoginLimit   int `json:"failed_login_limit"`
	IdleTimeoutMinutes int `json:"idle_timeout_minutes"`
}

// statusResponse is the generic {"success": ..., "message": ...} ack.
type statusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
