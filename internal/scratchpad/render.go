package scratchpad

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nugget/cortexcart/internal/tools"
)

// DefaultObservationChars caps the rendering of a single observation.
const DefaultObservationChars = 1200

// Render writes the pad for the planning prompt. The most recent window
// entries are rendered in full (each observation capped at maxObsChars);
// older entries collapse into one summary line naming the queries run and
// the URLs visited. A window of zero or less renders every entry.
func (p *Pad) Render(window, maxObsChars int) string {
	if len(p.entries) == 0 {
		return ""
	}
	if maxObsChars <= 0 {
		maxObsChars = DefaultObservationChars
	}

	recent := p.entries
	var older []Entry
	if window > 0 && len(p.entries) > window {
		older = p.entries[:len(p.entries)-window]
		recent = p.entries[len(p.entries)-window:]
	}

	var sb strings.Builder
	if len(older) > 0 {
		sb.WriteString(summarize(older))
		sb.WriteString("\n")
	}
	for _, e := range recent {
		fmt.Fprintf(&sb, "%d. %s %s\n", e.Index, e.Action.Kind, quoteInput(e.Action))
		obs := truncate(RenderObservation(e.Observation), maxObsChars)
		for _, line := range strings.Split(obs, "\n") {
			sb.WriteString("   ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// summarize collapses entries into a single line.
func summarize(entries []Entry) string {
	var queries []string
	for _, e := range entries {
		if e.Action.Kind == Search {
			queries = append(queries, fmt.Sprintf("%q", e.Action.Input))
		}
	}
	parts := []string{fmt.Sprintf("Earlier actions 1-%d (summarized)", entries[len(entries)-1].Index)}
	if len(queries) > 0 {
		parts = append(parts, "searched "+strings.Join(queries, ", "))
	}
	if urls := visited(entries); len(urls) > 0 {
		parts = append(parts, "visited "+strings.Join(urls, ", "))
	}
	return strings.Join(parts, "; ") + "."
}

func quoteInput(a Action) string {
	if a.Kind == Search {
		return fmt.Sprintf("%q", a.Input)
	}
	return a.Input
}

// RenderObservation formats one observation as prompt text. Detail
// lines are flush left; Render indents the whole block under its entry.
func RenderObservation(obs tools.Observation) string {
	switch {
	case obs.Failure != nil:
		return "-> failed: " + obs.Failure.String()
	case obs.Page != nil:
		return renderPage(obs.Page)
	case len(obs.Hits) == 0:
		return "-> no results"
	default:
		var sb strings.Builder
		fmt.Fprintf(&sb, "-> %d results:", len(obs.Hits))
		for _, h := range obs.Hits {
			fmt.Fprintf(&sb, "\n- %s <%s>", oneLine(h.Title), h.URL)
			if h.Snippet != "" {
				sb.WriteString(": ")
				sb.WriteString(oneLine(h.Snippet))
			}
		}
		return sb.String()
	}
}

func renderPage(p *tools.Page) string {
	if p.Empty() {
		if p.Title != "" {
			return fmt.Sprintf("-> page %q: no price, specifications, or reviews found", p.Title)
		}
		return "-> page: no price, specifications, or reviews found"
	}

	var sb strings.Builder
	sb.WriteString("-> page")
	if p.Title != "" {
		fmt.Fprintf(&sb, " %q", oneLine(p.Title))
	}
	if p.Price != "" {
		sb.WriteString("\nprice: ")
		sb.WriteString(p.Price)
	}
	if len(p.Specs) > 0 {
		keys := make([]string, 0, len(p.Specs))
		for k := range p.Specs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = k + ": " + p.Specs[k]
		}
		sb.WriteString("\nspecs: ")
		sb.WriteString(strings.Join(pairs, "; "))
	}
	if len(p.Reviews) > 0 {
		fmt.Fprintf(&sb, "\n%d review fragments:", len(p.Reviews))
		for _, r := range p.Reviews {
			fmt.Fprintf(&sb, "\n- %q", oneLine(r))
		}
	}
	return sb.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate cuts s to at most n runes, marking the cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + " …[truncated]"
}
