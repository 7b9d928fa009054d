// Package panelapi is the HTTP client for the console's remote authentication
// collaborator. It covers login and logout, profile and password operations,
// managed-account provisioning and the global settings endpoints.
//
// The client performs no retries and holds no session state of its own: the
// bearer token is pulled from a TokenSource on every authenticated call, and
// a 401-class response triggers the OnUnauthorized hook so the session layer
// can tear down locally.
package panelapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// TokenSource supplies the current bearer token, or "" when no session is
// established.
type TokenSource interface {
	Token() string
}

// TokenFunc adapts a plain function to a TokenSource.
type TokenFunc func() string

func (f TokenFunc) Token() string { return f() }

// Client talks to the collaborator. All methods are safe for concurrent use
// once the exported fields are set.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// Tokens supplies the bearer token for authenticated calls. Optional for
	// clients that only ever call Login.
	Tokens TokenSource

	// OnUnauthorized fires when an authenticated call is answered with 401.
	// The login endpoint's own 401 (bad credentials) does not fire it.
	OnUnauthorized func()

	// Limiter, when set, gates every outgoing request. Mirrors the
	// collaborator's own per-client limits so a busy console does not trip
	// them.
	Limiter *rate.Limiter
}

// NewClient creates a collaborator client with a 10 second request timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) url(path string) string {
	return c.BaseURL + path
}

func (c *Client) bearer() string {
	if c.Tokens == nil {
		return ""
	}
	return c.Tokens.Token()
}

// doJSON performs one request/response cycle. A non-nil body is sent as JSON.
// When authed is set the bearer token is attached and a 401 answer fires the
// OnUnauthorized hook. The decoded success body lands in out when out is
// non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, authed bool, out any) error {
	op := method + " " + path

	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return &TransportError{Op: op, Err: err}
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("panelapi: %s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return fmt.Errorf("panelapi: %s: create request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		token := c.bearer()
		if token == "" {
			return &APIError{
				StatusCode: http.StatusUnauthorized,
				Messages:   []string{"no session token available"},
			}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseErrorResponse(resp.StatusCode, respBody)
		if authed && apiErr.Unauthorized() && c.OnUnauthorized != nil {
			c.OnUnauthorized()
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("panelapi: %s: decode response: %w", op, err)
		}
	}

	return nil
}
