// Package llm provides the reasoning-provider clients: Ollama, the
// Anthropic Messages API, and any OpenAI-compatible endpoint.
//
// Clients only move text. Prompt construction and parsing of the
// model's reply belong to the reasoning package.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	// An empty completion is a valid response, not an error.
	Chat(ctx context.Context, model string, messages []Message, opts *Options) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// ErrUnavailable reports that the provider could not serve the request:
// connection refused, model not found, overload, or a server error.
// Callers may retry; an empty completion is never reported this way.
var ErrUnavailable = errors.New("reasoning backend unavailable")

// unavailable wraps cause so that errors.Is(err, ErrUnavailable) holds.
func unavailable(provider string, cause error) error {
	return fmt.Errorf("%s: %w: %w", provider, ErrUnavailable, cause)
}

// transportError classifies an error from the HTTP round trip. When the
// caller's context ended the context error is returned as-is so callers
// can tell cancellation from an outage.
func transportError(ctx context.Context, provider string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: request failed: %w", provider, err)
	}
	return unavailable(provider, err)
}

// statusError classifies a non-200 response status.
func statusError(provider string, status int, body string) error {
	err := fmt.Errorf("API error %d: %s", status, body)
	if unavailableStatus(status) {
		return unavailable(provider, err)
	}
	return fmt.Errorf("%s: %w", provider, err)
}

// unavailableStatus reports whether an HTTP status means the provider
// cannot serve the model right now.
func unavailableStatus(status int) bool {
	switch {
	case status == http.StatusNotFound,
		status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		return true
	}
	return false
}
