package auth

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrNoRefreshToken     = errors.New("no refresh token stored")
	ErrMissingTokens      = errors.New("response did not contain an access token")
	ErrMissingCredentials = errors.New("email and password are required")
	ErrRequestFailed      = errors.New("request failed")
	ErrRefreshFailed      = errors.New("token refresh failed")
	ErrEmptyProfile       = errors.New("profile response was empty")
)

// HTTPError is returned when the backend answers with a non-2xx status.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// APIError is returned when a 2xx envelope carries a non-zero code.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// IsUnauthorized reports whether err is an HTTP 401, or an envelope whose code
// is 401.
func IsUnauthorized(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusUnauthorized
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusUnauthorized
	}
	return false
}
