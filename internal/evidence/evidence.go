// Package evidence turns the review fragments collected during a run into
// a bounded digest of pros, cons, and neutral observations.
//
// The aggregator is deterministic: the same pages in the same order, with
// the same classification decisions, always produce the same digest.
package evidence

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/nugget/cortexcart/internal/tools"
)

// Label is the stance of one fragment toward the product.
type Label string

const (
	Pro     Label = "pro"
	Con     Label = "con"
	Neutral Label = "neutral"
)

// ParseLabel maps a label word to a Label, case-insensitively.
func ParseLabel(s string) (Label, bool) {
	switch Label(strings.ToLower(strings.TrimSpace(s))) {
	case Pro:
		return Pro, true
	case Con:
		return Con, true
	case Neutral:
		return Neutral, true
	}
	return "", false
}

// Classifier labels fragments in one batch. It must return exactly one
// label per fragment, in order, or an error.
type Classifier interface {
	Classify(ctx context.Context, fragments []string) ([]Label, error)
}

// Defaults.
const (
	DefaultCharBudget       = 4000
	DefaultNearDupThreshold = 0.85
)

// Options tune an Aggregator.
type Options struct {
	// CharBudget is the total number of characters of fragment text the
	// digest may carry. Zero selects DefaultCharBudget.
	CharBudget int

	// NearDupThreshold is the word-shingle Jaccard similarity at or above
	// which a fragment counts as a near duplicate of an earlier one.
	// Zero disables near-duplicate detection; exact duplicates are always
	// removed.
	NearDupThreshold float64
}

// Digest is the per-turn summary of collected evidence.
type Digest struct {
	Pros    []string `json:"pros"`
	Cons    []string `json:"cons"`
	Neutral []string `json:"neutral"`

	// SourceCount is the number of distinct page URLs that contributed
	// at least one fragment before deduplication.
	SourceCount int `json:"source_count"`

	// Truncated is set when fragments were dropped to honor the budget.
	Truncated bool `json:"truncated"`
}

// Len returns the number of fragments in the digest.
func (d Digest) Len() int {
	return len(d.Pros) + len(d.Cons) + len(d.Neutral)
}

// Empty reports whether the digest carries no fragments.
func (d Digest) Empty() bool {
	return d.Len() == 0
}

// Render formats the digest as prompt text.
func (d Digest) Render() string {
	if d.Empty() {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Review evidence from %d source(s):\n", d.SourceCount)
	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		sb.WriteString(title)
		sb.WriteString(":\n")
		for _, it := range items {
			sb.WriteString("- ")
			sb.WriteString(it)
			sb.WriteString("\n")
		}
	}
	section("Pros", d.Pros)
	section("Cons", d.Cons)
	section("Neutral", d.Neutral)
	if d.Truncated {
		sb.WriteString("(Further review text was omitted for length.)\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Aggregator builds digests. It holds no per-run state and may be shared
// by concurrent runs.
type Aggregator struct {
	classifier Classifier
	budget     int
	threshold  float64
	logger     *slog.Logger
}

// New creates an Aggregator. A nil classifier uses the lexical
// heuristic for every fragment.
func New(c Classifier, opts Options, logger *slog.Logger) *Aggregator {
	if opts.CharBudget <= 0 {
		opts.CharBudget = DefaultCharBudget
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Aggregator{
		classifier: c,
		budget:     opts.CharBudget,
		threshold:  opts.NearDupThreshold,
		logger:     logger,
	}
}

// fragment is one review excerpt and the page it came from.
type fragment struct {
	text string
	url  string
}

// Build produces the digest for the given pages, in the order given.
func (a *Aggregator) Build(ctx context.Context, pages []*tools.Page) Digest {
	frags, sources := collect(pages)
	var d Digest
	d.SourceCount = sources
	if len(frags) == 0 {
		return d
	}

	kept := dedup(frags, a.threshold)
	kept, d.Truncated = a.fit(kept)
	if len(kept) == 0 {
		return d
	}

	texts := make([]string, len(kept))
	for i, f := range kept {
		texts[i] = f.text
	}
	labels := a.classify(ctx, texts)

	for i, text := range texts {
		switch labels[i] {
		case Pro:
			d.Pros = append(d.Pros, text)
		case Con:
			d.Cons = append(d.Cons, text)
		default:
			d.Neutral = append(d.Neutral, text)
		}
	}

	a.logger.Debug("digest built",
		"fragments", len(frags),
		"kept", len(kept),
		"sources", d.SourceCount,
		"pros", len(d.Pros),
		"cons", len(d.Cons),
		"neutral", len(d.Neutral),
		"truncated", d.Truncated,
	)
	return d
}

// collect flattens the pages' review fragments in order and counts the
// distinct URLs that contributed at least one.
func collect(pages []*tools.Page) ([]fragment, int) {
	var frags []fragment
	sources := make(map[string]bool)
	for _, p := range pages {
		if p == nil {
			continue
		}
		for _, r := range p.Reviews {
			text := strings.Join(strings.Fields(r), " ")
			if text == "" {
				continue
			}
			frags = append(frags, fragment{text: text, url: p.URL})
			sources[p.URL] = true
		}
	}
	return frags, len(sources)
}

// fit keeps fragments in order while they fit the budget. A fragment
// that would overflow it is dropped and filling continues with the
// next, so one long review cannot empty the digest.
func (a *Aggregator) fit(frags []fragment) ([]fragment, bool) {
	kept := make([]fragment, 0, len(frags))
	used := 0
	for _, f := range frags {
		n := utf8.RuneCountInString(f.text)
		if used+n > a.budget {
			continue
		}
		used += n
		kept = append(kept, f)
	}
	return kept, len(kept) < len(frags)
}

// classify labels texts with the configured classifier, falling back to
// the lexical heuristic on any error or malformed reply.
func (a *Aggregator) classify(ctx context.Context, texts []string) []Label {
	if a.classifier != nil {
		labels, err := a.classifier.Classify(ctx, texts)
		if err == nil && len(labels) == len(texts) {
			return labels
		}
		if err == nil {
			err = fmt.Errorf("got %d labels for %d fragments", len(labels), len(texts))
		}
		a.logger.Warn("classifier failed, using lexical fallback", "error", err)
	}

	labels := make([]Label, len(texts))
	for i, t := range texts {
		labels[i] = LexicalLabel(t)
	}
	return labels
}
