package panelapi

import (
	"context"
	"net/http"
)

// Login submits one authentication factor. A 200 answer either carries the
// token (Success) or requests the one-time-password factor (RequiresOTP).
// Bad credentials come back as an *APIError; the collaborator deliberately
// does not reveal which factor was wrong.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/login", req, false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout notifies the collaborator that the session ended. Best effort: the
// caller clears local state regardless of the outcome.
func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/logout", nil, true, nil)
}

// VerifyToken asks the collaborator whether the current token is still
// accepted. A 401 answer fires the OnUnauthorized hook like any other
// authenticated call.
func (c *Client) VerifyToken(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/api/verify-token", nil, true, nil)
}
