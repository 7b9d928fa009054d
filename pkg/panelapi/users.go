package panelapi

import (
	"context"
	"fmt"
	"net/http"
)

// ListUsers returns every managed account. Requires administrator privileges
// server-side.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.doJSON(ctx, http.MethodGet, "/api/users", nil, true, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// CreateUser provisions a new account.
func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) (*CreateUserResponse, error) {
	var resp CreateUserResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/users", req, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateUser edits an existing account. The username cannot be changed.
func (c *Client) UpdateUser(ctx context.Context, id int64, req UpdateUserRequest) (*UpdateUserResponse, error) {
	var resp UpdateUserResponse
	path := fmt.Sprintf("/api/users/%d", id)
	if err := c.doJSON(ctx, http.MethodPut, path, req, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BlockUser sets or clears an account's blocked flag.
func (c *Client) BlockUser(ctx context.Context, id int64, blocked bool) error {
	path := fmt.Sprintf("/api/users/%d/block", id)
	body := struct {
		IsBlocked Flag `json:"is_blocked"`
	}{IsBlocked: FlagOf(blocked)}
	return c.doJSON(ctx, http.MethodPut, path, body, true, nil)
}

// DeleteUser removes an account.
func (c *Client) DeleteUser(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/api/users/%d", id)
	return c.doJSON(ctx, http.MethodDelete, path, nil, true, nil)
}

// ResetPassword resets an account's credential in either fixed or one-time
// mode. The OTP disclosure, when present, appears only in this response.
func (c *Client) ResetPassword(ctx context.Context, id int64, req ResetPasswordRequest) (*ResetPasswordResponse, error) {
	var resp ResetPasswordResponse
	path := fmt.Sprintf("/api/users/%d/reset-password", id)
	if err := c.doJSON(ctx, http.MethodPut, path, req, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
