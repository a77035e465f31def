package search

import (
	"fmt"
	"net/http"
)

// HTTPError is returned by providers when the search API answers with a
// non-200 status. Auth and rate-limit failures are distinguishable so the
// tool can report them precisely.
type HTTPError struct {
	Provider   string
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Auth reports whether the provider rejected the credentials.
func (e *HTTPError) Auth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// RateLimited reports whether the provider throttled the request.
func (e *HTTPError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}
