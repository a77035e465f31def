package reasoning

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nugget/cortexcart/internal/scratchpad"
	"github.com/nugget/cortexcart/internal/tools"
)

// PlanParseError reports a planning reply that does not follow the
// action grammar. Reason is fed back to the backend on retry.
type PlanParseError struct {
	Reason string
	Reply  string
}

func (e *PlanParseError) Error() string {
	return "unparseable plan: " + e.Reason
}

func parseErr(reply, format string, args ...any) *PlanParseError {
	return &PlanParseError{Reason: fmt.Sprintf(format, args...), Reply: reply}
}

var keyLine = regexp.MustCompile(`(?i)^\s*(thought|action|input)\s*:\s?(.*)$`)

// ParseAction parses a planning reply of the form
//
//	Thought: <optional free text>
//	Action: search | scrape | finish
//	Input: <query | URL | answer text>
//
// Keys are case-insensitive and <think> blocks are ignored. There must be
// exactly one Action line followed by exactly one Input line. Thought
// text may continue over several lines, as may the Input of a finish
// action, which runs to the end of the reply even across lines that
// look like keys; search and scrape inputs are a single line. A scrape input must
// be an absolute http(s) URL. Any other shape is a *PlanParseError.
func ParseAction(reply string) (scratchpad.Action, error) {
	var (
		a          scratchpad.Action
		thought    []string
		input      []string
		kindText   string
		seenAction bool
		seenInput  bool
		inThought  bool
	)

	body := StripThink(reply)
	if body == "" {
		return a, parseErr(reply, "the reply was empty")
	}

	for _, line := range strings.Split(body, "\n") {
		// A finish answer is prose; once it starts, key-like lines are
		// part of it.
		if seenInput && isFinish(kindText) {
			input = append(input, line)
			continue
		}
		m := keyLine.FindStringSubmatch(line)
		if m == nil {
			switch {
			case seenInput:
				input = append(input, line)
			case strings.TrimSpace(line) == "":
			case inThought:
				thought = append(thought, strings.TrimSpace(line))
			case seenAction:
				return a, parseErr(reply, "unexpected text between the Action and Input lines")
			default:
				return a, parseErr(reply, "unexpected text before the Action line: %q", clip(line))
			}
			continue
		}

		key, value := strings.ToLower(m[1]), strings.TrimSpace(m[2])
		switch key {
		case "thought":
			if seenAction || seenInput {
				return a, parseErr(reply, "Thought must come before the Action line")
			}
			if len(thought) > 0 {
				return a, parseErr(reply, "more than one Thought line")
			}
			thought = append(thought, value)
			inThought = true
		case "action":
			if seenAction {
				return a, parseErr(reply, "more than one Action line")
			}
			if seenInput {
				return a, parseErr(reply, "the Input line must follow the Action line")
			}
			seenAction, inThought = true, false
			kindText = value
		case "input":
			if seenInput {
				return a, parseErr(reply, "more than one Input line")
			}
			if !seenAction {
				return a, parseErr(reply, "the Input line must follow the Action line")
			}
			seenInput = true
			input = append(input, value)
		}
	}

	if !seenAction {
		return a, parseErr(reply, "no Action line")
	}
	if !seenInput {
		return a, parseErr(reply, "no Input line")
	}

	kind, ok := scratchpad.ParseKind(kindText)
	if !ok {
		return a, parseErr(reply, "unknown action %q (use search, scrape, or finish)", kindText)
	}
	a.Kind = kind
	a.Thought = strings.TrimSpace(strings.Join(thought, " "))

	text := strings.TrimSpace(strings.Join(input, "\n"))
	if text == "" {
		return a, parseErr(reply, "the %s input is empty", kind)
	}
	if kind != scratchpad.Finish && strings.Contains(text, "\n") {
		return a, parseErr(reply, "the %s input must be a single line", kind)
	}
	if kind == scratchpad.Scrape {
		if _, err := tools.ParseHTTPURL(text); err != nil {
			return a, parseErr(reply, "scrape input: %v", err)
		}
	}
	a.Input = text
	return a, nil
}

func isFinish(kindText string) bool {
	kind, ok := scratchpad.ParseKind(kindText)
	return ok && kind == scratchpad.Finish
}

func clip(s string) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) > 60 {
		return string(r[:60]) + "…"
	}
	return string(r)
}
