// Package scratchpad holds the per-run record of actions taken and what
// they returned, and renders it back into the planning prompt.
//
// A [Pad] is append-only: entries keep the order in which their actions
// executed and are never edited or reordered. Rendering is bounded so a
// long run cannot grow the prompt without limit.
package scratchpad

import (
	"fmt"
	"strings"

	"github.com/nugget/cortexcart/internal/tools"
)

// Kind is the type of action chosen by the reasoning backend.
type Kind string

const (
	// Search looks up candidate pages for a query.
	Search Kind = "search"
	// Scrape extracts product data from one URL.
	Scrape Kind = "scrape"
	// Finish ends the loop; Input is the draft answer.
	Finish Kind = "finish"
)

// ParseKind maps an action keyword to a Kind, case-insensitively.
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case Search:
		return Search, true
	case Scrape:
		return Scrape, true
	case Finish:
		return Finish, true
	}
	return "", false
}

// Action is one decision of the reasoning backend.
type Action struct {
	Kind  Kind   `json:"kind"`
	Input string `json:"input"`

	// Thought is the backend's optional reasoning line. It is kept for
	// logging and never replayed.
	Thought string `json:"thought,omitempty"`
}

// String renders the action for logs and prompts.
func (a Action) String() string {
	return fmt.Sprintf("%s: %s", a.Kind, a.Input)
}

// Entry pairs an executed action with its observation.
type Entry struct {
	Index       int               `json:"index"`
	Action      Action            `json:"action"`
	Observation tools.Observation `json:"observation"`
}

// Pad is the ordered record of one run. It is owned by a single run and
// is not safe for concurrent mutation.
type Pad struct {
	entries []Entry
}

// New returns an empty pad.
func New() *Pad {
	return &Pad{}
}

// Append records an executed action. Entries are numbered from 1.
func (p *Pad) Append(a Action, obs tools.Observation) Entry {
	e := Entry{
		Index:       len(p.entries) + 1,
		Action:      a,
		Observation: obs,
	}
	p.entries = append(p.entries, e)
	return e
}

// Len returns the number of entries.
func (p *Pad) Len() int {
	return len(p.entries)
}

// Entries returns a copy of the entries in execution order.
func (p *Pad) Entries() []Entry {
	out := make([]Entry, len(p.entries))
	copy(out, p.entries)
	return out
}

// Pages returns the successfully scraped pages in execution order.
func (p *Pad) Pages() []*tools.Page {
	var pages []*tools.Page
	for _, e := range p.entries {
		if e.Action.Kind == Scrape && e.Observation.Page != nil && !e.Observation.Failed() {
			pages = append(pages, e.Observation.Page)
		}
	}
	return pages
}

// Visited returns the URLs of all scrape actions, in order, without
// repeats.
func (p *Pad) Visited() []string {
	return visited(p.entries)
}

func visited(entries []Entry) []string {
	seen := make(map[string]bool)
	var urls []string
	for _, e := range entries {
		if e.Action.Kind != Scrape || seen[e.Action.Input] {
			continue
		}
		seen[e.Action.Input] = true
		urls = append(urls, e.Action.Input)
	}
	return urls
}
