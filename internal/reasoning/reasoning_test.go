package reasoning

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nugget/cortexcart/internal/config"
	"github.com/nugget/cortexcart/internal/evidence"
	"github.com/nugget/cortexcart/internal/llm"
	"github.com/nugget/cortexcart/internal/scratchpad"
	"github.com/nugget/cortexcart/internal/usage"
)

// fakeClient returns canned replies and records what it was sent.
type fakeClient struct {
	mu      sync.Mutex
	replies []string
	err     error
	block   bool
	calls   [][]llm.Message
	opts    []*llm.Options
}

func (f *fakeClient) Chat(ctx context.Context, _ string, msgs []llm.Message, opts *llm.Options) (*llm.ChatResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, msgs)
	f.opts = append(f.opts, opts)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	reply := ""
	if len(f.replies) > 0 {
		reply, f.replies = f.replies[0], f.replies[1:]
	}
	return &llm.ChatResponse{
		Message:      llm.Message{Role: llm.RoleAssistant, Content: reply},
		InputTokens:  100,
		OutputTokens: 20,
	}, nil
}

func (f *fakeClient) Ping(context.Context) error { return f.err }

type memRecorder struct {
	mu   sync.Mutex
	recs []usage.Record
}

func (m *memRecorder) Record(_ context.Context, rec usage.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  scratchpad.Action
	}{
		{
			name:  "search",
			reply: "Thought: find candidates\nAction: search\nInput: quiet dishwasher under $800",
			want:  scratchpad.Action{Kind: scratchpad.Search, Input: "quiet dishwasher under $800", Thought: "find candidates"},
		},
		{
			name:  "case insensitive keys",
			reply: "THOUGHT: look closer\naction: Scrape\ninput:   https://example.com/p/1  ",
			want:  scratchpad.Action{Kind: scratchpad.Scrape, Input: "https://example.com/p/1", Thought: "look closer"},
		},
		{
			name:  "no thought",
			reply: "Action: search\nInput: trail running shoes",
			want:  scratchpad.Action{Kind: scratchpad.Search, Input: "trail running shoes"},
		},
		{
			name:  "multi-line finish",
			reply: "Thought: enough evidence\nAction: finish\nInput: Get the Bosch 300.\n\nIt is quiet and well reviewed.",
			want:  scratchpad.Action{Kind: scratchpad.Finish, Input: "Get the Bosch 300.\n\nIt is quiet and well reviewed.", Thought: "enough evidence"},
		},
		{
			name:  "finish text with key-like lines",
			reply: "Action: finish\nInput: Get the Soundcore A20.\nAction: it has a good bass response.\nThought: reviewers agree.",
			want:  scratchpad.Action{Kind: scratchpad.Finish, Input: "Get the Soundcore A20.\nAction: it has a good bass response.\nThought: reviewers agree."},
		},
		{
			name:  "finish text with a second input line",
			reply: "Thought: done\nAction: finish\nInput: Buy the Acme X1.\nInput: price drops on weekends.",
			want:  scratchpad.Action{Kind: scratchpad.Finish, Input: "Buy the Acme X1.\nInput: price drops on weekends.", Thought: "done"},
		},
		{
			name:  "think block stripped",
			reply: "<think>\nAction: finish\nInput: nope\n</think>\nAction: search\nInput: espresso grinder",
			want:  scratchpad.Action{Kind: scratchpad.Search, Input: "espresso grinder"},
		},
		{
			name:  "multi-line thought",
			reply: "Thought: the first result is a forum,\nthe second is a store.\nAction: scrape\nInput: http://shop.example/x",
			want:  scratchpad.Action{Kind: scratchpad.Scrape, Input: "http://shop.example/x", Thought: "the first result is a forum, the second is a store."},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAction(tt.reply)
			if err != nil {
				t.Fatalf("ParseAction() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseAction() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseActionRejects(t *testing.T) {
	tests := []struct {
		name   string
		reply  string
		reason string
	}{
		{"empty", "   ", "empty"},
		{"only think", "<think>hmm</think>", "empty"},
		{"prose", "I think you should buy the Bosch.", "before the Action"},
		{"no input", "Action: search", "no Input"},
		{"no action", "Thought: x", "no Action"},
		{"two actions", "Action: search\nAction: scrape\nInput: x", "more than one Action"},
		{"two inputs", "Action: search\nInput: a\nInput: b", "more than one Input"},
		{"input first", "Input: a\nAction: search", "must follow"},
		{"unknown kind", "Action: buy\nInput: it", "unknown action"},
		{"empty input", "Action: search\nInput:   ", "empty"},
		{"relative url", "Action: scrape\nInput: /products/1", "scrape input"},
		{"ftp url", "Action: scrape\nInput: ftp://example.com/file", "scrape input"},
		{"multi-line search", "Action: search\nInput: a\nb", "single line"},
		{"gap text", "Action: search\nlet me think\nInput: x", "between"},
		{"thought after action", "Action: search\nThought: x\nInput: y", "before the Action"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAction(tt.reply)
			var pe *PlanParseError
			if !errors.As(err, &pe) {
				t.Fatalf("ParseAction(%q) error = %v, want *PlanParseError", tt.reply, err)
			}
			if !strings.Contains(pe.Reason, tt.reason) {
				t.Errorf("Reason = %q, want substring %q", pe.Reason, tt.reason)
			}
			if pe.Reply != tt.reply {
				t.Errorf("Reply = %q, want original reply", pe.Reply)
			}
		})
	}
}

func TestParseLabels(t *testing.T) {
	got, err := ParseLabels("Here you go:\n1: pro\n3: Neutral.\n2) con\n", 3)
	if err != nil {
		t.Fatalf("ParseLabels() error: %v", err)
	}
	want := []evidence.Label{evidence.Pro, evidence.Con, evidence.Neutral}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("label[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	bad := []struct {
		name  string
		reply string
	}{
		{"missing one", "1: pro\n2: con"},
		{"out of range", "1: pro\n2: con\n4: pro"},
		{"duplicate", "1: pro\n1: con\n2: con"},
		{"unknown label", "1: pro\n2: meh\n3: con"},
		{"empty", ""},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseLabels(tt.reply, 3); !errors.Is(err, errMalformedLabels) {
				t.Errorf("ParseLabels(%q) error = %v, want malformed", tt.reply, err)
			}
		})
	}
}

func TestCompleteRecordsUsage(t *testing.T) {
	client := &fakeClient{replies: []string{"<think>plan</think>  hello  "}}
	rec := &memRecorder{}
	b := New(client, Config{
		Model:    "claude-sonnet-4-20250514",
		Provider: "anthropic",
		Pricing: map[string]config.PricingEntry{
			"claude-sonnet-4-20250514": {InputPerMillion: 3, OutputPerMillion: 15},
		},
	}, rec, nil)

	ctx := WithRunID(context.Background(), "run-42")
	got, err := b.Complete(ctx, usage.RoleSynthesis, "sys", "prompt", nil)
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if got != "hello" {
		t.Errorf("Complete() = %q, want %q", got, "hello")
	}

	msgs := client.calls[0]
	if len(msgs) != 2 || msgs[0].Role != llm.RoleSystem || msgs[1].Content != "prompt" {
		t.Errorf("messages = %+v", msgs)
	}

	if len(rec.recs) != 1 {
		t.Fatalf("got %d usage records, want 1", len(rec.recs))
	}
	r := rec.recs[0]
	if r.RunID != "run-42" || r.Role != usage.RoleSynthesis || r.Provider != "anthropic" {
		t.Errorf("record = %+v", r)
	}
	if r.CostUSD <= 0 {
		t.Errorf("CostUSD = %v, want priced", r.CostUSD)
	}
}

func TestCompleteParams(t *testing.T) {
	client := &fakeClient{replies: []string{"a", "b"}}
	b := New(client, Config{Model: "m", Params: Params{Temperature: llm.Temperature(0.7), MaxTokens: 512}}, nil, nil)

	if _, err := b.Complete(context.Background(), usage.RolePlanner, "", "p", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Complete(context.Background(), usage.RoleClassifier, "", "p", &Params{Temperature: llm.Temperature(0)}); err != nil {
		t.Fatal(err)
	}

	if len(client.calls[0]) != 1 {
		t.Errorf("empty system prompt should send one message, got %d", len(client.calls[0]))
	}
	if o := client.opts[0]; *o.Temperature != 0.7 || o.MaxTokens != 512 {
		t.Errorf("default opts = %+v", o)
	}
	if o := client.opts[1]; *o.Temperature != 0 || o.MaxTokens != 512 {
		t.Errorf("override opts = temp %v max %d", *o.Temperature, o.MaxTokens)
	}
}

func TestCompleteTimeoutIsUnavailable(t *testing.T) {
	client := &fakeClient{block: true}
	b := New(client, Config{Model: "m", Timeout: 20 * time.Millisecond}, nil, nil)

	_, err := b.Complete(context.Background(), usage.RolePlanner, "", "p", nil)
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Errorf("timeout error = %v, want ErrUnavailable", err)
	}
}

func TestCompleteCanceledIsNotUnavailable(t *testing.T) {
	client := &fakeClient{block: true}
	b := New(client, Config{Model: "m", Timeout: time.Minute}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Complete(ctx, usage.RolePlanner, "", "p", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, llm.ErrUnavailable) {
		t.Errorf("run deadline reported as unavailable: %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want DeadlineExceeded", err)
	}
}

func TestNextAction(t *testing.T) {
	client := &fakeClient{replies: []string{
		"Action: search\nInput: usb-c hub",
		"Sure! Here's what I'd do.",
	}}
	b := New(client, Config{Model: "m"}, nil, nil)

	a, err := b.NextAction(context.Background(), PlanRequest{Query: "usb-c hub", MaxSteps: 6, StepsLeft: 6})
	if err != nil {
		t.Fatalf("NextAction() error: %v", err)
	}
	if a.Kind != scratchpad.Search || a.Input != "usb-c hub" {
		t.Errorf("NextAction() = %+v", a)
	}
	if !strings.Contains(client.calls[0][0].Content, "at most 6 actions") {
		t.Error("system prompt missing step budget")
	}

	_, err = b.NextAction(context.Background(), PlanRequest{Query: "usb-c hub", MaxSteps: 6, StepsLeft: 5, Hint: "no Action line"})
	var pe *PlanParseError
	if !errors.As(err, &pe) {
		t.Errorf("NextAction() error = %v, want *PlanParseError", err)
	}
	if !strings.Contains(client.calls[1][1].Content, "no Action line") {
		t.Error("retry hint not included in prompt")
	}
}

func TestSynthesize(t *testing.T) {
	client := &fakeClient{replies: []string{"Buy the blue one.", "<think>...</think>"}}
	b := New(client, Config{Model: "m"}, nil, nil)

	got, err := b.Synthesize(context.Background(), "kettle", "Pros:\n- fast", "", false)
	if err != nil || got != "Buy the blue one." {
		t.Errorf("Synthesize() = %q, %v", got, err)
	}

	_, err = b.Synthesize(context.Background(), "kettle", "", "", true)
	if !errors.Is(err, ErrEmptyReply) {
		t.Errorf("empty synthesis error = %v, want ErrEmptyReply", err)
	}
}

func TestClassifier(t *testing.T) {
	client := &fakeClient{replies: []string{"1: pro\n2: con"}}
	c := NewClassifier(New(client, Config{Model: "m"}, nil, nil))

	labels, err := c.Classify(context.Background(), []string{"Love it", "Broke fast"})
	if err != nil {
		t.Fatalf("Classify() error: %v", err)
	}
	if labels[0] != evidence.Pro || labels[1] != evidence.Con {
		t.Errorf("labels = %v", labels)
	}
	if o := client.opts[0]; o.Temperature == nil || *o.Temperature != 0 {
		t.Error("classification should run at temperature 0")
	}

	failing := NewClassifier(New(&fakeClient{err: llm.ErrUnavailable}, Config{Model: "m"}, nil, nil))
	if _, err := failing.Classify(context.Background(), []string{"x"}); err == nil {
		t.Error("Classify() should surface backend errors")
	}
}
