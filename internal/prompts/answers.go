package prompts

import (
	"fmt"
	"strings"
)

// RunFailedAnswer is shown when a run cannot produce any recommendation
// because the reasoning backend failed.
const RunFailedAnswer = "Sorry, I ran into a problem while researching that and couldn't put together a recommendation. Please try again in a moment, or rephrase your request."

// NoEvidenceAnswer is the fallback when synthesis failed and nothing was
// collected to summarize.
const NoEvidenceAnswer = "I wasn't able to gather enough information to make a confident recommendation. Try a more specific request, such as a product type plus a budget or must-have feature."

// fallbackLimit caps each list in FallbackAnswer.
const fallbackLimit = 5

// FallbackAnswer renders the evidence digest directly when synthesis is
// unavailable. pros and cons are shown in the order given, at most five
// of each.
func FallbackAnswer(sourceCount int, pros, cons []string) string {
	if len(pros) == 0 && len(cons) == 0 {
		return NoEvidenceAnswer
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "I couldn't write up a full recommendation, but here is what reviewers across %d source(s) said.", sourceCount)
	list := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		sb.WriteString("\n\n")
		sb.WriteString(title)
		sb.WriteString(":\n")
		for i, it := range items {
			if i == fallbackLimit {
				fmt.Fprintf(&sb, "- …and %d more\n", len(items)-fallbackLimit)
				break
			}
			sb.WriteString("- ")
			sb.WriteString(it)
			sb.WriteString("\n")
		}
	}
	list("What people liked", pros)
	list("What people disliked", cons)
	return strings.TrimRight(sb.String(), "\n")
}
