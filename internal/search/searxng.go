package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/cortexcart/internal/httpkit"
)

// SearXNG queries a self-hosted SearXNG instance through its JSON API.
// The instance must have the json output format enabled.
type SearXNG struct {
	baseURL    string
	categories string
	httpClient *http.Client
}

// SearXNGOption configures a SearXNG provider.
type SearXNGOption func(*SearXNG)

// WithSearXNGCategories restricts results to the given comma-separated
// SearXNG categories, for example "general,shopping".
func WithSearXNGCategories(categories string) SearXNGOption {
	return func(s *SearXNG) { s.categories = categories }
}

// WithSearXNGHTTPClient replaces the HTTP client.
func WithSearXNGHTTPClient(c *http.Client) SearXNGOption {
	return func(s *SearXNG) { s.httpClient = c }
}

// NewSearXNG creates a SearXNG provider rooted at baseURL, for example
// "http://localhost:8888".
func NewSearXNG(baseURL string, opts ...SearXNGOption) *SearXNG {
	s := &SearXNG{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(httpkit.WithTimeout(15 * time.Second)),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *SearXNG) Name() string { return "searxng" }

type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (s *SearXNG) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	params := url.Values{"q": {query}, "format": {"json"}}
	if opts.Language != "" {
		params.Set("language", opts.Language)
	}
	if s.categories != "" {
		params.Set("categories", s.categories)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("searxng: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searxng: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{
			Provider:   s.Name(),
			StatusCode: resp.StatusCode,
			Body:       httpkit.ReadErrorBody(resp.Body, 512),
		}
	}

	var sr searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("searxng: decode response: %w", err)
	}

	count := opts.Count
	if count <= 0 {
		count = DefaultLimit
	}
	results := make([]Result, 0, min(count, len(sr.Results)))
	for _, r := range sr.Results {
		if len(results) == count {
			break
		}
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return results, nil
}

// SearXNGConfig holds configuration for the SearXNG provider.
type SearXNGConfig struct {
	URL        string `yaml:"url"`
	Categories string `yaml:"categories"` // optional, comma-separated
}

// Configured reports whether a SearXNG URL is set.
func (c SearXNGConfig) Configured() bool {
	return c.URL != ""
}
