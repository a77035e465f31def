package tools

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseHTTPURL parses raw as an absolute http or https URL with a host.
// Relative references, other schemes, and embedded whitespace are
// rejected.
func ParseHTTPURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty URL")
	}
	if strings.ContainsAny(raw, " \t\r\n") {
		return nil, fmt.Errorf("URL %q contains whitespace", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, fmt.Errorf("URL %q is not an absolute http(s) URL", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("URL %q has no host", raw)
	}
	return u, nil
}
