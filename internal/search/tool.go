package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/cortexcart/internal/tools"
)

// ToolName is the action name the search tool answers to.
const ToolName = "search"

// DefaultLimit is the number of hits kept per query.
const DefaultLimit = 5

// Tool adapts a [Manager] to the agent tool contract.
type Tool struct {
	mgr      *Manager
	limit    int
	timeout  time.Duration
	language string
	logger   *slog.Logger
}

// NewTool creates a search tool. A limit of zero selects [DefaultLimit];
// a zero timeout leaves the deadline to the caller's context.
func NewTool(mgr *Manager, limit int, timeout time.Duration, logger *slog.Logger) *Tool {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tool{
		mgr:     mgr,
		limit:   limit,
		timeout: timeout,
		logger:  logger,
	}
}

// SetLanguage restricts results to an ISO 639-1 language code. An empty
// code leaves the choice to the provider.
func (t *Tool) SetLanguage(lang string) {
	t.language = strings.ToLower(strings.TrimSpace(lang))
}

// Name implements tools.Tool.
func (t *Tool) Name() string { return ToolName }

// Invoke runs one query against the primary provider.
func (t *Tool) Invoke(ctx context.Context, input string) tools.Observation {
	query := strings.TrimSpace(input)
	if query == "" {
		return tools.Fail(ToolName, tools.KindInvalidInput, "empty search query")
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := time.Now()
	results, err := t.mgr.Search(ctx, query, Options{Count: t.limit, Language: t.language})
	if err != nil {
		t.logger.Warn("search failed",
			"provider", t.mgr.Primary(),
			"query", query,
			"elapsed", time.Since(start),
			"error", err,
		)
		return tools.Fail(ToolName, tools.KindSearchUnavailable, "%s", describe(err))
	}

	hits := Rank(results, t.limit)
	t.logger.Debug("search completed",
		"provider", t.mgr.Primary(),
		"query", query,
		"raw", len(results),
		"hits", len(hits),
		"elapsed", time.Since(start),
	)
	return tools.Observation{Tool: ToolName, Hits: hits}
}

// Rank converts provider results into hits, preserving provider order.
// Results without a URL are dropped, a URL seen twice keeps its first
// (higher) rank, and at most limit hits are returned. The result is never
// nil so callers can tell "no results" from "no search".
func Rank(results []Result, limit int) []tools.SearchHit {
	hits := make([]tools.SearchHit, 0, min(len(results), max(limit, 0)))
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		if len(hits) >= limit {
			break
		}
		u := strings.TrimSpace(r.URL)
		if u == "" {
			continue
		}
		key := canonicalURL(u)
		if seen[key] {
			continue
		}
		seen[key] = true
		hits = append(hits, tools.SearchHit{
			Title:   strings.TrimSpace(r.Title),
			URL:     u,
			Snippet: strings.TrimSpace(r.Snippet),
		})
	}
	return hits
}

// canonicalURL folds the differences that do not change which page a
// URL names: scheme and host case, the fragment, and a trailing slash.
func canonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	return u.String()
}

// describe turns a provider error into the detail string the reasoning
// backend sees.
func describe(err error) string {
	var he *HTTPError
	switch {
	case errors.As(err, &he) && he.Auth():
		return fmt.Sprintf("%s rejected the API credentials (HTTP %d)", he.Provider, he.StatusCode)
	case errors.As(err, &he) && he.RateLimited():
		return fmt.Sprintf("%s rate limit exceeded (HTTP %d)", he.Provider, he.StatusCode)
	case errors.As(err, &he):
		return fmt.Sprintf("%s returned HTTP %d", he.Provider, he.StatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		return "search timed out"
	case errors.Is(err, context.Canceled):
		return "search canceled"
	default:
		return err.Error()
	}
}
