// Package reasoning adapts an [llm.Client] to the three questions the
// agent asks of it: which action to take next, how to label review
// fragments, and what to tell the shopper. It owns prompt templating,
// reply parsing, per-call timeouts, and usage accounting; the provider
// clients only move text.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/nugget/cortexcart/internal/config"
	"github.com/nugget/cortexcart/internal/llm"
	"github.com/nugget/cortexcart/internal/usage"
)

// DefaultTimeout bounds a single reasoning call.
const DefaultTimeout = 60 * time.Second

// ErrEmptyReply is returned when the backend produced no usable text.
var ErrEmptyReply = errors.New("empty completion")

// Recorder persists per-call token usage. [usage.Store] satisfies it.
type Recorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// Params are optional generation parameters. Zero fields leave the
// provider default in place.
type Params struct {
	Temperature *float64
	MaxTokens   int
}

// Config describes one backend.
type Config struct {
	Model    string
	Provider string // for usage records only
	Timeout  time.Duration
	Params   Params
	Pricing  map[string]config.PricingEntry
}

// Backend is the reasoning adapter. It is safe for concurrent use by
// independent runs.
type Backend struct {
	client   llm.Client
	model    string
	provider string
	timeout  time.Duration
	params   Params
	pricing  map[string]config.PricingEntry
	recorder Recorder
	logger   *slog.Logger
}

// New creates a Backend. recorder may be nil to disable usage tracking.
func New(client llm.Client, cfg Config, recorder Recorder, logger *slog.Logger) *Backend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Backend{
		client:   client,
		model:    cfg.Model,
		provider: cfg.Provider,
		timeout:  cfg.Timeout,
		params:   cfg.Params,
		pricing:  cfg.Pricing,
		recorder: recorder,
		logger:   logger,
	}
}

// Model returns the model name every call is sent to.
func (b *Backend) Model() string {
	return b.model
}

// Ping checks that the provider is reachable.
func (b *Backend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx)
}

// Complete sends one prompt and returns the completion text with any
// <think> blocks removed. role is one of the usage role constants and
// labels logs and usage records. p overrides the backend's default
// generation parameters field by field.
//
// When the per-call timeout fires while ctx is still live the error
// wraps [llm.ErrUnavailable]: a backend too slow to answer is treated
// like one that is down.
func (b *Backend) Complete(ctx context.Context, role, system, prompt string, p *Params) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	msgs := make([]llm.Message, 0, 2)
	if system != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: prompt})

	log := b.logger.With("role", role, "model", b.model, "run_id", RunIDFromContext(ctx))
	log.Log(ctx, llm.LevelTrace, "reasoning prompt", "system", system, "prompt", prompt)

	start := time.Now()
	resp, err := b.client.Chat(callCtx, b.model, msgs, b.options(p))
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			log.Warn("reasoning call timed out", "timeout", b.timeout)
			return "", fmt.Errorf("%s call timed out after %v: %w: %w", role, b.timeout, llm.ErrUnavailable, err)
		}
		return "", fmt.Errorf("%s call: %w", role, err)
	}

	b.record(ctx, role, resp, elapsed)

	text := StripThink(resp.Text())
	log.Log(ctx, llm.LevelTrace, "reasoning completion", "text", resp.Text())
	log.Debug("reasoning call complete",
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"elapsed", elapsed.Round(time.Millisecond),
	)
	return text, nil
}

func (b *Backend) options(p *Params) *llm.Options {
	opts := &llm.Options{
		Temperature: b.params.Temperature,
		MaxTokens:   b.params.MaxTokens,
	}
	if p != nil {
		if p.Temperature != nil {
			opts.Temperature = p.Temperature
		}
		if p.MaxTokens > 0 {
			opts.MaxTokens = p.MaxTokens
		}
	}
	return opts
}

// record writes a usage record. Failures are logged and otherwise
// ignored; accounting never fails a run.
func (b *Backend) record(ctx context.Context, role string, resp *llm.ChatResponse, elapsed time.Duration) {
	if b.recorder == nil {
		return
	}
	rec := usage.Record{
		RunID:        RunIDFromContext(ctx),
		Model:        b.model,
		Provider:     b.provider,
		Role:         role,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CostUSD:      usage.ComputeCost(b.model, resp.InputTokens, resp.OutputTokens, b.pricing),
		Duration:     elapsed,
	}
	if err := b.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		b.logger.Warn("failed to record usage", "role", role, "error", err)
	}
}

var thinkBlock = regexp.MustCompile(`(?is)<think>.*?</think>`)

// StripThink removes <think>…</think> blocks emitted by reasoning
// models and trims the result.
func StripThink(s string) string {
	return strings.TrimSpace(thinkBlock.ReplaceAllString(s, ""))
}

type contextKey string

const runIDKey contextKey = "run_id"

// WithRunID returns a context carrying the agent run ID so usage
// records and logs can be attributed to it.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext returns the run ID set by WithRunID, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}
