package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/cortexcart/internal/httpkit"
	"github.com/nugget/cortexcart/internal/tools"
)

// ToolName is the action name the scrape tool answers to.
const ToolName = "scrape"

// ScrapeTool adapts a [Fetcher] to the agent tool contract.
type ScrapeTool struct {
	fetcher *Fetcher
	timeout time.Duration
	logger  *slog.Logger
}

// NewScrapeTool creates a scrape tool. A zero timeout leaves the deadline
// to the fetcher's client and the caller's context.
func NewScrapeTool(f *Fetcher, timeout time.Duration, logger *slog.Logger) *ScrapeTool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ScrapeTool{fetcher: f, timeout: timeout, logger: logger}
}

// Name implements tools.Tool.
func (t *ScrapeTool) Name() string { return ToolName }

// Invoke fetches one absolute http(s) URL and returns the extracted page.
// A page that parses but yields nothing is a success with empty fields.
func (t *ScrapeTool) Invoke(ctx context.Context, input string) tools.Observation {
	u, err := tools.ParseHTTPURL(input)
	if err != nil {
		return tools.Fail(ToolName, tools.KindInvalidInput, "%v", err)
	}
	target := u.String()

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := t.fetcher.Fetch(ctx, target, 0)
	if err != nil {
		t.logger.Warn("scrape failed",
			"url", target,
			"elapsed", time.Since(start),
			"error", err,
		)
		return tools.Fail(ToolName, tools.KindFetchFailed, "%s", describe(err))
	}

	page := res.Page(target)
	t.logger.Debug("scrape completed",
		"url", target,
		"final_url", res.URL,
		"status", res.StatusCode,
		"price", page.HasPrice(),
		"specs", len(page.Specs),
		"reviews", len(page.Reviews),
		"elapsed", time.Since(start),
	)
	return tools.Observation{Tool: ToolName, Page: page}
}

// describe turns a fetch error into the detail string the reasoning
// backend sees.
func describe(err error) string {
	var se *StatusError
	switch {
	case errors.As(err, &se):
		return fmt.Sprintf("HTTP %d %s", se.StatusCode, httpStatusText(se.StatusCode))
	case errors.Is(err, httpkit.ErrTooManyRedirects):
		return "redirect loop (too many redirects)"
	case errors.Is(err, context.DeadlineExceeded):
		return "page fetch timed out"
	case errors.Is(err, context.Canceled):
		return "page fetch canceled"
	default:
		return err.Error()
	}
}
