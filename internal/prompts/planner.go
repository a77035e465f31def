package prompts

import (
	"fmt"
	"strings"
)

// plannerSystemTemplate is the persona and action grammar for the
// planning step. The single format verb is the step budget.
const plannerSystemTemplate = `You are Cortex Cart, a friendly and expert personal shopper.
You help people find the right product for their needs by researching the
web before you answer. You work step by step:

1. Understand the request. Which product is wanted? Note required features,
   preferred brands, and any budget.
2. Search. Use a short query built from the key terms of the request.
3. Read the results. Prefer product pages, trusted review sites, and retail
   listings over forums and ads.
4. Scrape the two or three most promising pages for price, specifications,
   and above all reviews and expert opinions.
5. Recommend. When you have enough evidence, finish with a clear answer and
   say why, citing what you found.

You have at most %d actions. Each reply must choose exactly one action
using exactly this format and nothing else:

Thought: <one or two sentences of reasoning>
Action: <search | scrape | finish>
Input: <see below>

- search: Input is the search query text.
- scrape: Input is one absolute URL starting with http:// or https://,
  copied from a search result.
- finish: Input is your draft recommendation for the user. It may span
  several lines.

Do not write anything after the Input.`

// PlannerSystemPrompt returns the system prompt for action selection.
func PlannerSystemPrompt(maxSteps int) string {
	return fmt.Sprintf(plannerSystemTemplate, maxSteps)
}

// plannerRetrySection is appended when the previous reply could not be
// parsed. The single format verb is the parse error.
const plannerRetrySection = `

Your previous reply could not be understood: %s
Reply again using exactly one Action line and one Input line.`

// PlannerPrompt returns the user prompt for one planning step. history is
// the rendered scratchpad (empty on the first step), stepsLeft the number
// of actions remaining, and hint the parse error of the previous reply,
// if any.
func PlannerPrompt(query, history string, stepsLeft int, hint string) string {
	var sb strings.Builder
	sb.WriteString("Shopper's request: ")
	sb.WriteString(strings.TrimSpace(query))
	sb.WriteString("\n\n")

	if history == "" {
		sb.WriteString("You have not taken any actions yet.")
	} else {
		sb.WriteString("Actions taken so far and what they returned:\n")
		sb.WriteString(history)
	}

	switch {
	case stepsLeft <= 1:
		sb.WriteString("\n\nThis is your last action. Unless one more lookup is essential, finish now.")
	default:
		fmt.Fprintf(&sb, "\n\nYou have %d actions left.", stepsLeft)
	}

	if hint != "" {
		fmt.Fprintf(&sb, plannerRetrySection, hint)
	}
	return sb.String()
}
