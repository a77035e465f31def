// Package tools defines the contract every agent tool satisfies and the
// registry the orchestrator dispatches actions through.
//
// A tool never returns an error. Transport failures, timeouts, bad input,
// and even panics inside a tool body come back as an [Observation] that
// carries a [Failure], so the agent loop can record the outcome and let
// the reasoning backend decide what to try next.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Tool is a stateless capability the agent can invoke. Input is the
// action-specific argument: search text for a search tool, a URL for a
// scrape tool. Implementations must be safe to call repeatedly and from
// independent runs concurrently.
type Tool interface {
	// Name returns the action name the tool answers to (e.g., "search").
	Name() string

	// Invoke executes the tool. It must not panic and must honor ctx.
	Invoke(ctx context.Context, input string) Observation
}

// Registry holds the tools available to the agent, keyed by name.
// It is populated once at startup and read-only afterwards.
type Registry struct {
	tools  map[string]Tool
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// Register adds a tool. Registering two tools with the same name is a
// configuration error.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if _, exists := r.tools[name]; exists {
		return &ErrDuplicateTool{ToolName: name}
	}
	r.tools[name] = t
	return nil
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) Tool {
	return r.tools[name]
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the named tool. A missing tool yields a [KindToolMissing]
// failure observation rather than an error.
func (r *Registry) Invoke(ctx context.Context, name, input string) Observation {
	t := r.tools[name]
	if t == nil {
		err := &ErrToolUnavailable{ToolName: name}
		r.logger.Warn("tool not registered", "tool", name)
		return Fail(name, KindToolMissing, "%s", err.Error())
	}
	obs := Safe(ctx, t, input)
	r.logger.Debug("tool invoked", "tool", name, "observation", obs)
	return obs
}

// Safe invokes t and converts a panic into a failure observation. The
// returned observation always names the tool that produced it.
func Safe(ctx context.Context, t Tool, input string) (obs Observation) {
	defer func() {
		if p := recover(); p != nil {
			obs = Fail(t.Name(), KindToolPanicked, "tool panicked: %v", p)
		}
	}()

	if err := ctx.Err(); err != nil {
		return Fail(t.Name(), KindCanceled, "not started: %v", err)
	}

	obs = t.Invoke(ctx, input)
	if obs.Tool == "" {
		obs.Tool = t.Name()
	}
	return obs
}
