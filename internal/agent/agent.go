// Package agent implements the shopping assistant's turn loop.
//
// A turn is a small state machine: the reasoning backend picks one
// action at a time (search, scrape, or finish), the matching tool runs,
// and the observation is appended to the run's scratchpad before the
// backend is asked again. The orchestrator never second-guesses the
// backend's choice; it only enforces the step, retry, and time budgets.
// When the loop ends the collected reviews are folded into an evidence
// digest and the backend writes the final recommendation.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/cortexcart/internal/evidence"
	"github.com/nugget/cortexcart/internal/llm"
	"github.com/nugget/cortexcart/internal/prompts"
	"github.com/nugget/cortexcart/internal/reasoning"
	"github.com/nugget/cortexcart/internal/scratchpad"
	"github.com/nugget/cortexcart/internal/tools"
	"github.com/nugget/cortexcart/internal/usage"
)

// Planner is the reasoning side of the loop. [reasoning.Backend]
// satisfies it.
type Planner interface {
	NextAction(ctx context.Context, req reasoning.PlanRequest) (scratchpad.Action, error)
	Synthesize(ctx context.Context, query, digest, draft string, partial bool) (string, error)
}

// Aggregator folds scraped pages into a digest. [evidence.Aggregator]
// satisfies it.
type Aggregator interface {
	Build(ctx context.Context, pages []*tools.Page) evidence.Digest
}

// RunUsage totals what the reasoning calls of one run cost.
// [usage.Store] satisfies it.
type RunUsage interface {
	RunSummary(runID string) (*usage.Summary, error)
}

// Config holds the per-run budgets. Zero fields take the defaults.
type Config struct {
	MaxSteps         int
	PlanRetries      int
	ReplayWindow     int
	ObservationChars int
	PrefetchPages    int
	RunTimeout       time.Duration
	FinishTimeout    time.Duration
}

// Defaults for Config.
const (
	DefaultMaxSteps      = 6
	DefaultPlanRetries   = 2
	DefaultReplayWindow  = 6
	DefaultRunTimeout    = 2 * time.Minute
	DefaultFinishTimeout = 45 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.PlanRetries <= 0 {
		c.PlanRetries = DefaultPlanRetries
	}
	if c.ReplayWindow <= 0 {
		c.ReplayWindow = DefaultReplayWindow
	}
	if c.ObservationChars <= 0 {
		c.ObservationChars = scratchpad.DefaultObservationChars
	}
	if c.PrefetchPages < 0 {
		c.PrefetchPages = 0
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = DefaultRunTimeout
	}
	if c.FinishTimeout <= 0 {
		c.FinishTimeout = DefaultFinishTimeout
	}
	return c
}

// Orchestrator runs turns. It is safe for concurrent use once
// configured; every turn gets its own Run.
type Orchestrator struct {
	planner    Planner
	tools      *tools.Registry
	aggregator Aggregator
	usage      RunUsage
	cfg        Config
	logger     *slog.Logger
}

// New creates an Orchestrator.
func New(p Planner, reg *tools.Registry, agg Aggregator, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if agg == nil {
		agg = evidence.New(nil, evidence.Options{}, logger)
	}
	return &Orchestrator{
		planner:    p,
		tools:      reg,
		aggregator: agg,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// SetUsage adds per-run token and cost totals to the "run complete" log.
// Call it before the first turn.
func (o *Orchestrator) SetUsage(u RunUsage) {
	o.usage = u
}

// Config returns the effective budgets.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// RunTurn answers one query. It always returns an Answer; failures are
// reported through Answer.Reason and an apology text.
func (o *Orchestrator) RunTurn(ctx context.Context, query string) Answer {
	return o.Execute(ctx, query).Answer
}

// Execute runs one turn to completion and returns the terminal Run for
// inspection.
func (o *Orchestrator) Execute(ctx context.Context, query string) *Run {
	run := newRun(query)
	ctx = reasoning.WithRunID(ctx, run.ID)
	log := o.logger.With("run_id", run.ID)
	log.Info("run started", "query", query, "max_steps", o.cfg.MaxSteps)

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)
	defer cancel()

	if o.cfg.PrefetchPages > 0 {
		if scrape := o.tools.Get(string(scratchpad.Scrape)); scrape != nil {
			run.cache = newPageCache(runCtx, scrape, o.cfg.PrefetchPages)
		}
	}

	o.loop(runCtx, run, log)

	if run.cache != nil {
		run.cache.stop()
	}

	if run.State == Finishing {
		o.finish(ctx, runCtx, run, log)
	}

	run.Finished = time.Now()
	run.Answer.RunID = run.ID
	run.Answer.Steps = run.Steps
	attrs := []any{
		"state", run.State,
		"reason", run.Answer.Reason,
		"steps", run.Steps,
		"sources", run.Answer.SourceCount,
		"partial", run.Answer.IsPartial,
		"elapsed", run.Elapsed().Round(time.Millisecond),
	}
	attrs = append(attrs, o.usageAttrs(run.ID, log)...)
	log.Info("run complete", attrs...)
	return run
}

func (o *Orchestrator) usageAttrs(runID string, log *slog.Logger) []any {
	if o.usage == nil {
		return nil
	}
	sum, err := o.usage.RunSummary(runID)
	if err != nil {
		log.Debug("run usage unavailable", "error", err)
		return nil
	}
	return []any{
		"llm_calls", sum.TotalRecords,
		"input_tokens", sum.TotalInputTokens,
		"output_tokens", sum.TotalOutputTokens,
		"cost_usd", sum.TotalCostUSD,
	}
}

// loop drives Planning, Acting, and Observing until the run reaches
// Finishing or Failed.
func (o *Orchestrator) loop(ctx context.Context, run *Run, log *slog.Logger) {
	var (
		action      scratchpad.Action
		obs         tools.Observation
		hint        string
		unavailable int
	)

	for run.State != Finishing && run.State != Failed {
		switch run.State {
		case Planning:
			if run.Steps >= o.cfg.MaxSteps {
				o.toFinishing(run, ReasonStepBudget)
				continue
			}
			if ctx.Err() != nil {
				o.toFinishing(run, ReasonDeadline)
				continue
			}

			a, err := o.planner.NextAction(ctx, reasoning.PlanRequest{
				Query:     run.Query,
				History:   run.Pad.Render(o.cfg.ReplayWindow, o.cfg.ObservationChars),
				MaxSteps:  o.cfg.MaxSteps,
				StepsLeft: o.cfg.MaxSteps - run.Steps,
				Hint:      hint,
			})

			var parseErr *reasoning.PlanParseError
			switch {
			case err == nil:
				action, hint = a, ""
				run.MalformedPlans, unavailable = 0, 0
				log.Debug("action planned", "step", run.Steps+1, "action", action.Kind, "input", action.Input, "thought", action.Thought)
				run.State = Acting

			case errors.As(err, &parseErr):
				run.MalformedPlans++
				log.Warn("malformed plan", "attempt", run.MalformedPlans, "reason", parseErr.Reason)
				if run.MalformedPlans >= o.cfg.PlanRetries {
					o.fail(run, fmt.Errorf("%d malformed plans in a row: %w", run.MalformedPlans, err), log)
					continue
				}
				hint = parseErr.Reason

			case ctx.Err() != nil:
				o.toFinishing(run, ReasonDeadline)

			case errors.Is(err, llm.ErrUnavailable) && unavailable == 0:
				unavailable++
				log.Warn("reasoning backend unavailable, retrying", "error", err)

			default:
				o.fail(run, err, log)
			}

		case Acting:
			if action.Kind == scratchpad.Finish {
				run.draft = action.Input
				o.toFinishing(run, ReasonFinished)
				continue
			}
			obs = o.act(ctx, run, action)
			run.State = Observing

		case Observing:
			entry := run.Pad.Append(action, obs)
			run.Steps++
			log.Debug("observation recorded", "step", entry.Index, "action", action.Kind, "observation", obs)
			if run.cache != nil && action.Kind == scratchpad.Search && !obs.Failed() {
				if n := run.cache.prefetch(obs.Hits, visitedSet(run.Pad)); n > 0 {
					log.Debug("prefetching pages", "count", n)
				}
			}
			run.State = Planning
		}
	}
}

// act runs the tool for a search or scrape action. Scrapes are served
// from the prefetch cache when possible.
func (o *Orchestrator) act(ctx context.Context, run *Run, a scratchpad.Action) tools.Observation {
	if a.Kind == scratchpad.Scrape && run.cache != nil {
		if obs, ok := run.cache.get(ctx, a.Input); ok {
			return obs
		}
	}
	return o.tools.Invoke(ctx, string(a.Kind), a.Input)
}

func (o *Orchestrator) toFinishing(run *Run, reason Reason) {
	run.reason = reason
	run.State = Finishing
}

func (o *Orchestrator) fail(run *Run, cause error, log *slog.Logger) {
	run.State = Failed
	run.Err = fmt.Errorf("%w: %w", ErrRunFailed, cause)
	run.Answer = Answer{
		Text:      prompts.RunFailedAnswer,
		IsPartial: true,
		Reason:    ReasonFailed,
	}
	log.Error("run failed", "error", cause, "steps", run.Steps)
}

// finish builds the digest and the final answer. When the run's own
// deadline expired the work continues on a detached context bounded by
// FinishTimeout so the shopper still gets what was gathered. When the
// caller's context is gone the backend is not consulted at all.
func (o *Orchestrator) finish(ctx, runCtx context.Context, run *Run, log *slog.Logger) {
	base := ctx
	if runCtx.Err() != nil && ctx.Err() == nil {
		base = context.WithoutCancel(ctx)
	}
	fctx, cancel := context.WithTimeout(base, o.cfg.FinishTimeout)
	defer cancel()

	digest := o.aggregator.Build(fctx, run.Pad.Pages())
	partial := run.reason != ReasonFinished

	var (
		text string
		err  error
	)
	if ctx.Err() != nil {
		err = fmt.Errorf("caller gone: %w", ctx.Err())
	} else {
		text, err = o.planner.Synthesize(fctx, run.Query, digest.Render(), run.draft, partial)
	}

	reason := run.reason
	if err != nil {
		log.Warn("synthesis failed, using fallback answer", "error", err)
		text = fallbackAnswer(digest, run.draft)
		partial = true
		if ctx.Err() == nil {
			reason = ReasonSynthesisFailed
		}
	}

	run.State = Done
	run.Answer = Answer{
		Text:        text,
		IsPartial:   partial,
		SourceCount: digest.SourceCount,
		Reason:      reason,
	}
}

// fallbackAnswer is the deterministic answer used when synthesis fails:
// the backend's own draft when it finished, otherwise the digest.
func fallbackAnswer(d evidence.Digest, draft string) string {
	if draft != "" {
		return draft
	}
	return prompts.FallbackAnswer(d.SourceCount, d.Pros, d.Cons)
}

func visitedSet(p *scratchpad.Pad) map[string]bool {
	urls := p.Visited()
	set := make(map[string]bool, len(urls))
	for _, u := range urls {
		set[u] = true
	}
	return set
}
