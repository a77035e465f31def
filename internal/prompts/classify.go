package prompts

import (
	"fmt"
	"strings"
)

// classifyTemplate asks for one label per numbered fragment. The single
// format verb is the numbered fragment list.
const classifyTemplate = `Label each numbered product review fragment below as pro, con, or neutral
from the point of view of someone deciding whether to buy the product.

- pro: praises the product or reports a good experience
- con: criticizes the product or reports a problem
- neutral: neither, or both in equal measure

Reply with exactly one line per fragment in the form "N: label" and nothing else.

%s`

// ClassifyPrompt returns the prompt for batched fragment classification.
// Fragments are numbered from 1 in the order given.
func ClassifyPrompt(fragments []string) string {
	var sb strings.Builder
	for i, f := range fragments {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, strings.Join(strings.Fields(f), " "))
	}
	return fmt.Sprintf(classifyTemplate, strings.TrimRight(sb.String(), "\n"))
}
