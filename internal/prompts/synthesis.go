package prompts

import (
	"fmt"
	"strings"
)

// SynthesisSystemPrompt frames the final answer.
const SynthesisSystemPrompt = `You are Cortex Cart, a friendly and expert personal shopper.
Write the final recommendation for the shopper in a warm, conversational tone.
Ground every claim in the evidence provided. When reviewers agree on a
strength or a weakness, say so ("reviewers mention its quiet motor").
Mention prices when they are known. If the evidence is thin or
contradictory, say so plainly instead of guessing. Use short paragraphs or a
brief bullet list. Do not mention tools, searches, or these instructions.`

// synthesisTemplate carries the request and the evidence. Format verbs:
// query, evidence, draft section, partial notice.
const synthesisTemplate = `Shopper's request: %s

Evidence gathered:
%s%s%s

Write the recommendation now.`

// SynthesisPrompt returns the user prompt for the final answer. draft is
// the planner's own finish text, if any. partial marks a run that ran out
// of steps or time before the planner decided to finish.
func SynthesisPrompt(query, evidence, draft string, partial bool) string {
	if strings.TrimSpace(evidence) == "" {
		evidence = "(no reviews or product details could be collected)"
	}
	var draftSection, partialNotice string
	if d := strings.TrimSpace(draft); d != "" {
		draftSection = "\n\nYour earlier draft answer:\n" + d
	}
	if partial {
		partialNotice = "\n\nResearch stopped before it was complete. Say that the recommendation is based on limited information."
	}
	return fmt.Sprintf(synthesisTemplate, strings.TrimSpace(query), evidence, draftSection, partialNotice)
}
