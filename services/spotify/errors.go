package spotify

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnresolvable is returned when no resolver step produced a reference
var ErrUnresolvable = errors.New("could not parse Spotify URL or unsupported link provider")

// ConfigError reports missing client credentials
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("spotify credentials not configured: missing %s", strings.Join(e.Missing, ", "))
}

// AuthError reports a failed client-credentials exchange. Body is the
// upstream response and is only meant for logs.
type AuthError struct {
	Status int
	Body   string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("spotify token exchange failed: %v", e.Err)
	}
	return fmt.Sprintf("spotify token exchange failed: HTTP %d", e.Status)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// APIError reports a non-2xx answer (or transport failure, Status 0) from the Web API
type APIError struct {
	Status   int
	Resource string
	Err      error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("spotify API error on %s: %v", e.Resource, e.Err)
	}
	return fmt.Sprintf("spotify API error: %d on %s", e.Status, e.Resource)
}

func (e *APIError) Unwrap() error {
	return e.Err
}
