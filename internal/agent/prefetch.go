package agent

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/cortexcart/internal/tools"
)

// pageCache holds scrape observations fetched ahead of time for one run.
// Entries are keyed by the exact URL from the search hit; a scrape action
// for that URL waits for the in-flight fetch instead of starting another.
type pageCache struct {
	tool   tools.Tool
	limit  int
	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	done chan struct{}
	obs  tools.Observation
}

func newPageCache(ctx context.Context, scrape tools.Tool, limit int) *pageCache {
	ctx, cancel := context.WithCancel(ctx)
	g := &errgroup.Group{}
	g.SetLimit(limit)
	return &pageCache{
		tool:    scrape,
		limit:   limit,
		ctx:     ctx,
		cancel:  cancel,
		g:       g,
		entries: make(map[string]*cacheEntry),
	}
}

// prefetch starts background scrapes for the first limit hits that are
// valid URLs and not already visited or cached. It never blocks: when
// every worker is busy the remaining hits are skipped.
func (c *pageCache) prefetch(hits []tools.SearchHit, visited map[string]bool) int {
	started := 0
	for _, h := range hits {
		if started == c.limit {
			break
		}
		url := strings.TrimSpace(h.URL)
		if visited[url] {
			continue
		}
		if _, err := tools.ParseHTTPURL(url); err != nil {
			continue
		}

		c.mu.Lock()
		if _, ok := c.entries[url]; ok {
			c.mu.Unlock()
			continue
		}
		e := &cacheEntry{done: make(chan struct{})}
		c.entries[url] = e
		c.mu.Unlock()

		ok := c.g.TryGo(func() error {
			defer close(e.done)
			e.obs = tools.Safe(c.ctx, c.tool, url)
			return nil
		})
		if !ok {
			c.mu.Lock()
			delete(c.entries, url)
			c.mu.Unlock()
			break
		}
		started++
	}
	return started
}

// get returns the prefetched observation for url, waiting for an
// in-flight fetch. Only successful fetches are served; a failed prefetch
// is reported as a miss so the scrape runs live.
func (c *pageCache) get(ctx context.Context, url string) (tools.Observation, bool) {
	c.mu.Lock()
	e, ok := c.entries[strings.TrimSpace(url)]
	c.mu.Unlock()
	if !ok {
		return tools.Observation{}, false
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return tools.Observation{}, false
	}
	if e.obs.Failed() {
		return tools.Observation{}, false
	}
	return e.obs, true
}

// stop cancels outstanding fetches and waits for their goroutines.
func (c *pageCache) stop() {
	c.cancel()
	_ = c.g.Wait()
}
