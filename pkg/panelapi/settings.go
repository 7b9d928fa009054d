package panelapi

import (
	"context"
	"net/http"
)

// GetPasswordSettings fetches the global password policy.
func (c *Client) GetPasswordSettings(ctx context.Context) (*PasswordSettings, error) {
	var settings PasswordSettings
	if err := c.doJSON(ctx, http.MethodGet, "/api/password-settings", nil, true, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// UpdatePasswordSettings replaces the global password policy. Administrator
// only.
func (c *Client) UpdatePasswordSettings(ctx context.Context, settings PasswordSettings) error {
	return c.doJSON(ctx, http.MethodPut, "/api/password-settings", settings, true, nil)
}

// GetSystemSettings fetches operational settings: the failed-login lockout
// limit and the idle timeout in minutes.
func (c *Client) GetSystemSettings(ctx context.Context) (*SystemSettings, error) {
	var settings SystemSettings
	if err := c.doJSON(ctx, http.MethodGet, "/api/system-settings", nil, true, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// UpdateSystemSettings replaces the operational settings. Administrator only.
func (c *Client) UpdateSystemSettings(ctx context.Context, settings SystemSettings) error {
	return c.doJSON(ctx, http.MethodPut, "/api/system-settings", settings, true, nil)
}
