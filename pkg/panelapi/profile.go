package panelapi

import (
	"context"
	"net/http"
)

// GetProfile fetches the authenticated account's own record, including the
// must-change-password flag.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	var profile Profile
	if err := c.doJSON(ctx, http.MethodGet, "/api/user/profile", nil, true, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// ChangePassword rotates the caller's own password. The caller validates the
// new password against the policy before invoking this.
func (c *Client) ChangePassword(ctx context.Context, req ChangePasswordRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/api/change-password", req, true, nil)
}
