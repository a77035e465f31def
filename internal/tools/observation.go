package tools

import (
	"fmt"
	"log/slog"
)

// ErrorKind classifies a tool failure.
type ErrorKind string

const (
	// KindSearchUnavailable covers transport, timeout, rate-limit, and
	// auth failures of the search capability.
	KindSearchUnavailable ErrorKind = "SearchUnavailable"

	// KindFetchFailed covers transport errors, timeouts, non-2xx
	// statuses, and redirect loops while fetching a page.
	KindFetchFailed ErrorKind = "FetchFailed"

	// KindInvalidInput is reported when the action input cannot be used
	// at all (empty query, malformed URL).
	KindInvalidInput ErrorKind = "InvalidInput"

	// KindToolMissing is reported when no tool is registered for an action.
	KindToolMissing ErrorKind = "ToolMissing"

	// KindToolPanicked is reported when a tool body panics.
	KindToolPanicked ErrorKind = "ToolPanicked"

	// KindCanceled is reported when the run context ended before or
	// during the invocation.
	KindCanceled ErrorKind = "Canceled"
)

// Failure marks an observation as a failed invocation.
type Failure struct {
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail"`
}

// String renders the failure for prompts and logs.
func (f Failure) String() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
}

// SearchHit is one ranked search result.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Page is the structured record extracted from one scraped URL. Every
// field except URL is best-effort: an empty Price, nil Specs, or nil
// Reviews mean "not found on the page", never an error.
type Page struct {
	URL     string            `json:"url"`
	Title   string            `json:"title,omitempty"`
	Price   string            `json:"price,omitempty"`
	Specs   map[string]string `json:"specs,omitempty"`
	Reviews []string          `json:"review_fragments,omitempty"`
}

// HasPrice reports whether a price was extracted.
func (p *Page) HasPrice() bool {
	return p != nil && p.Price != ""
}

// Empty reports whether extraction found nothing at all.
func (p *Page) Empty() bool {
	return p == nil || (p.Price == "" && len(p.Specs) == 0 && len(p.Reviews) == 0)
}

// Observation is the result of executing one action. Exactly one of
// Hits (search), Page (scrape), or Failure is meaningful. A search that
// found nothing has a nil Failure and an empty Hits slice.
type Observation struct {
	Tool    string      `json:"tool"`
	Hits    []SearchHit `json:"hits,omitempty"`
	Page    *Page       `json:"page,omitempty"`
	Failure *Failure    `json:"failure,omitempty"`
}

// Fail builds a failure observation.
func Fail(tool string, kind ErrorKind, format string, args ...any) Observation {
	return Observation{
		Tool: tool,
		Failure: &Failure{
			Kind:   kind,
			Detail: fmt.Sprintf(format, args...),
		},
	}
}

// Failed reports whether the observation carries a failure marker.
func (o Observation) Failed() bool {
	return o.Failure != nil
}

// FailedWith reports whether the observation failed with the given kind.
func (o Observation) FailedWith(kind ErrorKind) bool {
	return o.Failure != nil && o.Failure.Kind == kind
}

// LogValue implements slog.LogValuer with a compact summary so
// observation payloads do not flood the logs.
func (o Observation) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("tool", o.Tool)}
	switch {
	case o.Failure != nil:
		attrs = append(attrs,
			slog.String("failure", string(o.Failure.Kind)),
			slog.String("detail", o.Failure.Detail),
		)
	case o.Page != nil:
		attrs = append(attrs,
			slog.String("url", o.Page.URL),
			slog.Bool("price", o.Page.HasPrice()),
			slog.Int("specs", len(o.Page.Specs)),
			slog.Int("reviews", len(o.Page.Reviews)),
		)
	default:
		attrs = append(attrs, slog.Int("hits", len(o.Hits)))
	}
	return slog.GroupValue(attrs...)
}
