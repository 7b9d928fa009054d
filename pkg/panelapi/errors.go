package panelapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a rejection returned by the collaborator: bad credentials,
// blocked account, lockout, server-side validation, and so on. It is surfaced
// verbatim to the presentation layer and never retried automatically.
type APIError struct {
	// StatusCode is the HTTP status the collaborator answered with.
	StatusCode int

	// Messages holds the error text. The collaborator returns either a single
	// string or a list (server-side validation results).
	Messages []string
}

func (e *APIError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("panelapi: request rejected with status %d", e.StatusCode)
	}
	return strings.Join(e.Messages, "; ")
}

// Unauthorized reports a 401-class rejection. Any such response on an
// authenticated call must end the local session.
func (e *APIError) Unauthorized() bool { return e.StatusCode == http.StatusUnauthorized }

// Forbidden reports a 403 rejection (blocked account, missing privileges,
// temporary lockout).
func (e *APIError) Forbidden() bool { return e.StatusCode == http.StatusForbidden }

// TransportError wraps a network-level failure: the collaborator was
// unreachable or the connection broke before a response arrived. Callers may
// retry manually; the client never retries on its own.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("panelapi: %s: collaborator unreachable: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a transport failure as opposed to a
// rejection.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsUnauthorized reports whether err is a 401-class rejection.
func IsUnauthorized(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Unauthorized()
}

// errorBody matches the collaborator's error envelope. The "error" member is
// either a plain string or an array of strings.
type errorBody struct {
	Error json.RawMessage `json:"error"`
}

// parseErrorResponse turns a non-2xx response body into an *APIError.
func parseErrorResponse(statusCode int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode}

	var envelope errorBody
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Error) > 0 {
		var single string
		if err := json.Unmarshal(envelope.Error, &single); err == nil {
			apiErr.Messages = []string{single}
			return apiErr
		}

		var many []string
		if err := json.Unmarshal(envelope.Error, &many); err == nil {
			apiErr.Messages = many
			return apiErr
		}
	}

	apiErr.Messages = []string{fmt.Sprintf("HTTP %d: %s", statusCode, http.StatusText(statusCode))}
	return apiErr
}
