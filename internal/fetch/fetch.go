// Package fetch downloads product pages and extracts the structured
// record the agent reasons over: title, price, specification pairs, and
// review fragments. Readable page text is extracted as well and serves
// as the last-resort source for a price.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nugget/cortexcart/internal/httpkit"
	"github.com/nugget/cortexcart/internal/tools"
)

// DefaultTimeout is the HTTP request timeout for fetching pages.
const DefaultTimeout = 10 * time.Second

// DefaultMaxBytes is the maximum response body size (5 MB).
const DefaultMaxBytes int64 = 5 * 1024 * 1024

// DefaultMaxChars is the default character limit for extracted text.
const DefaultMaxChars = 50000

// DefaultMaxRedirects is the redirect hop limit; one more hop is a
// redirect loop as far as the scrape tool is concerned.
const DefaultMaxRedirects = 10

// BrowserUserAgent is sent instead of the project User-Agent when the
// fetcher is configured to look like a desktop browser. Some retailers
// serve a stripped page to unknown agents.
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"

// Result holds the fetched and extracted content from a URL.
type Result struct {
	URL         string            `json:"url"`
	Title       string            `json:"title,omitempty"`
	Content     string            `json:"content"`
	ContentType string            `json:"content_type,omitempty"`
	Truncated   bool              `json:"truncated,omitempty"`
	Length      int               `json:"length"`
	StatusCode  int               `json:"status_code"`
	Price       string            `json:"price,omitempty"`
	Specs       map[string]string `json:"specs,omitempty"`
	Reviews     []string          `json:"reviews,omitempty"`
}

// Page converts the result into the tool-level page record, keyed by
// the URL the agent asked for.
func (r *Result) Page(requested string) *tools.Page {
	return &tools.Page{
		URL:     requested,
		Title:   r.Title,
		Price:   r.Price,
		Specs:   r.Specs,
		Reviews: r.Reviews,
	}
}

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: HTTP %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Option configures a Fetcher.
type Option func(*options)

type options struct {
	timeout      time.Duration
	userAgent    string
	maxBytes     int64
	maxRedirects int
	maxChars     int
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithBrowserUserAgent makes requests identify as a desktop browser.
func WithBrowserUserAgent() Option {
	return func(o *options) { o.userAgent = BrowserUserAgent }
}

// WithMaxBytes caps the response body size read from the server.
func WithMaxBytes(n int64) Option {
	return func(o *options) { o.maxBytes = n }
}

// WithMaxChars sets the text limit used when Fetch is called with 0.
func WithMaxChars(n int) Option {
	return func(o *options) { o.maxChars = n }
}

// WithMaxRedirects sets the redirect hop limit.
func WithMaxRedirects(n int) Option {
	return func(o *options) { o.maxRedirects = n }
}

// Fetcher downloads and extracts content from web pages. It holds no
// per-request state and is safe for concurrent use.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	maxChars int
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	o := options{
		timeout:      DefaultTimeout,
		maxBytes:     DefaultMaxBytes,
		maxRedirects: DefaultMaxRedirects,
		maxChars:     DefaultMaxChars,
	}
	for _, fn := range opts {
		fn(&o)
	}

	clientOpts := []httpkit.ClientOption{
		httpkit.WithTimeout(o.timeout),
		httpkit.WithMaxRedirects(o.maxRedirects),
	}
	if o.userAgent != "" {
		clientOpts = append(clientOpts, httpkit.WithUserAgent(o.userAgent))
	}

	return &Fetcher{
		client:   httpkit.NewClient(clientOpts...),
		maxBytes: o.maxBytes,
		maxChars: o.maxChars,
	}
}

// Fetch downloads the URL and extracts readable text plus product data.
// maxChars limits the text length; 0 uses the fetcher's limit. A non-2xx
// status is reported as a *StatusError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxChars int) (*Result, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("fetch: url is required")
	}

	// Normalize URL
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}

	if maxChars <= 0 {
		maxChars = f.maxChars
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: invalid url: %w", err)
	}

	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,text/plain;q=0.8,*/*;q=0.7")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpkit.DrainAndClose(resp.Body, 4096)
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	// Limit body size
	limited := io.LimitReader(resp.Body, f.maxBytes)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("fetch: failed to read response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	result := &Result{
		URL:         resp.Request.URL.String(),
		ContentType: contentType,
		StatusCode:  resp.StatusCode,
	}

	var content string
	switch {
	case isHTML(contentType):
		doc := extractHTML(string(body))
		result.Title = doc.title
		content = doc.text
		result.Price = doc.product.price
		result.Specs = doc.product.specs
		result.Reviews = doc.product.reviews
		if result.Price == "" {
			result.Price = findPriceInText(content)
		}
	case isPlainText(contentType):
		content = string(body)
	case utf8.Valid(body):
		content = string(body)
	default:
		result.Content = fmt.Sprintf("Binary content (%s), %d bytes", contentType, len(body))
		result.Length = len(body)
		return result, nil
	}

	// Truncate if needed
	if utf8.RuneCountInString(content) > maxChars {
		content = truncateUTF8(content, maxChars)
		result.Truncated = true
	}
	result.Content = content
	result.Length = len(content)
	return result, nil
}

func isHTML(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

func isPlainText(ct string) bool {
	return strings.Contains(strings.ToLower(ct), "text/plain")
}

// truncateUTF8 truncates a string to maxChars runes, ensuring it doesn't
// break in the middle of a multi-byte character.
func truncateUTF8(s string, maxChars int) string {
	count := 0
	for i := range s {
		if count >= maxChars {
			return s[:i]
		}
		count++
	}
	return s
}

func httpStatusText(code int) string {
	if s := http.StatusText(code); s != "" {
		return s
	}
	return "error"
}
