package reasoning

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nugget/cortexcart/internal/evidence"
	"github.com/nugget/cortexcart/internal/llm"
	"github.com/nugget/cortexcart/internal/prompts"
	"github.com/nugget/cortexcart/internal/scratchpad"
	"github.com/nugget/cortexcart/internal/usage"
)

// PlanRequest is the input to one planning step.
type PlanRequest struct {
	Query     string
	History   string // rendered scratchpad, empty on the first step
	MaxSteps  int
	StepsLeft int
	Hint      string // parse error of the previous reply, if any
}

// NextAction asks the backend for the next action. The error is a
// *PlanParseError when the reply did not follow the grammar, or the
// backend error (possibly wrapping [llm.ErrUnavailable]).
func (b *Backend) NextAction(ctx context.Context, req PlanRequest) (scratchpad.Action, error) {
	reply, err := b.Complete(ctx, usage.RolePlanner,
		prompts.PlannerSystemPrompt(req.MaxSteps),
		prompts.PlannerPrompt(req.Query, req.History, req.StepsLeft, req.Hint),
		nil,
	)
	if err != nil {
		return scratchpad.Action{}, err
	}
	return ParseAction(reply)
}

// Synthesize asks the backend for the final recommendation. An empty
// reply is reported as ErrEmptyReply so the caller can fall back.
func (b *Backend) Synthesize(ctx context.Context, query, digest, draft string, partial bool) (string, error) {
	text, err := b.Complete(ctx, usage.RoleSynthesis,
		prompts.SynthesisSystemPrompt,
		prompts.SynthesisPrompt(query, digest, draft, partial),
		nil,
	)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("synthesis: %w", ErrEmptyReply)
	}
	return text, nil
}

// Classifier labels review fragments with one batched backend call. It
// implements [evidence.Classifier].
type Classifier struct {
	backend *Backend
}

// NewClassifier returns a Classifier that uses b.
func NewClassifier(b *Backend) *Classifier {
	return &Classifier{backend: b}
}

// Classify implements [evidence.Classifier].
func (c *Classifier) Classify(ctx context.Context, fragments []string) ([]evidence.Label, error) {
	if len(fragments) == 0 {
		return nil, nil
	}
	reply, err := c.backend.Complete(ctx, usage.RoleClassifier, "",
		prompts.ClassifyPrompt(fragments),
		&Params{Temperature: llm.Temperature(0)},
	)
	if err != nil {
		return nil, err
	}
	return ParseLabels(reply, len(fragments))
}

var labelLine = regexp.MustCompile(`^\s*(\d+)\s*[:.)]\s*([A-Za-z]+)\s*\.?\s*$`)

// errMalformedLabels is wrapped by every ParseLabels failure.
var errMalformedLabels = errors.New("malformed classification reply")

// ParseLabels parses a classification reply of "N: label" lines into n
// labels in fragment order. Lines that are not label lines are ignored,
// but every fragment 1..n must be labeled exactly once.
func ParseLabels(reply string, n int) ([]evidence.Label, error) {
	labels := make([]evidence.Label, n)
	seen := make([]bool, n)
	count := 0

	for _, line := range strings.Split(StripThink(reply), "\n") {
		m := labelLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 1 || idx > n {
			return nil, fmt.Errorf("%w: fragment number %s out of range 1-%d", errMalformedLabels, m[1], n)
		}
		label, ok := evidence.ParseLabel(m[2])
		if !ok {
			return nil, fmt.Errorf("%w: unknown label %q for fragment %d", errMalformedLabels, m[2], idx)
		}
		if seen[idx-1] {
			return nil, fmt.Errorf("%w: fragment %d labeled twice", errMalformedLabels, idx)
		}
		seen[idx-1] = true
		labels[idx-1] = label
		count++
	}

	if count != n {
		return nil, fmt.Errorf("%w: got %d labels for %d fragments", errMalformedLabels, count, n)
	}
	return labels, nil
}
