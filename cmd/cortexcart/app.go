package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/nugget/cortexcart/internal/agent"
	"github.com/nugget/cortexcart/internal/config"
	"github.com/nugget/cortexcart/internal/evidence"
	"github.com/nugget/cortexcart/internal/fetch"
	"github.com/nugget/cortexcart/internal/httpkit"
	"github.com/nugget/cortexcart/internal/llm"
	"github.com/nugget/cortexcart/internal/reasoning"
	"github.com/nugget/cortexcart/internal/search"
	"github.com/nugget/cortexcart/internal/tools"
	"github.com/nugget/cortexcart/internal/usage"
)

// app holds the collaborators shared by every turn in this process.
type app struct {
	orchestrator *agent.Orchestrator
	backend      *reasoning.Backend
	ollama       *llm.OllamaClient // set when the default model runs on Ollama
	usage        *usage.Store // nil when data_dir is unset
	logger       *slog.Logger
}

// newApp wires the reasoning backend, tools, aggregator, and
// orchestrator from cfg.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}

	var recorder reasoning.Recorder
	if dbPath := cfg.UsageDBPath(); dbPath != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		store, err := usage.Open(dbPath)
		if err != nil {
			return nil, err
		}
		a.usage = store
		recorder = store
		logger.Debug("usage tracking enabled", "path", dbPath)
	}

	client, ollama := createLLMClient(cfg, logger)
	if cfg.ProviderFor(cfg.Models.Default) == "ollama" {
		a.ollama = ollama
	}
	a.backend = reasoning.New(client, reasoning.Config{
		Model:    cfg.Models.Default,
		Provider: cfg.ProviderFor(cfg.Models.Default),
		Timeout:  cfg.Agent.ReasoningTimeout,
		Params: reasoning.Params{
			Temperature: cfg.Models.Temperature,
			MaxTokens:   cfg.Models.MaxTokens,
		},
		Pricing: cfg.Pricing,
	}, recorder, logger)

	reg, err := createToolRegistry(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	// Without a classifier every fragment is labelled lexically.
	var classifier evidence.Classifier
	if cfg.Evidence.Classify {
		classifier = reasoning.NewClassifier(a.backend)
	}
	agg := evidence.New(classifier, evidence.Options{
		CharBudget:       cfg.Evidence.DigestChars,
		NearDupThreshold: cfg.Evidence.NearDupThreshold,
	}, logger)

	a.orchestrator = agent.New(a.backend, reg, agg, agent.Config{
		MaxSteps:         cfg.Agent.MaxSteps,
		PlanRetries:      cfg.Agent.PlanRetries,
		ReplayWindow:     cfg.Agent.ReplayWindow,
		ObservationChars: cfg.Agent.ObservationChars,
		PrefetchPages:    cfg.Agent.PrefetchPages,
		RunTimeout:       cfg.Agent.RunTimeout,
		FinishTimeout:    cfg.Agent.FinishTimeout,
	}, logger)
	if a.usage != nil {
		a.orchestrator.SetUsage(a.usage)
	}

	return a, nil
}

// Close releases the usage database.
func (a *app) Close() {
	if a.usage != nil {
		if err := a.usage.Close(); err != nil {
			a.logger.Warn("failed to close usage store", "error", err)
		}
	}
}

// createLLMClient builds a multi-provider client. Each configured model
// is mapped to its provider; unmapped models go to Ollama. The Ollama
// client is returned as well for the health endpoint's model check.
func createLLMClient(cfg *config.Config, logger *slog.Logger) (llm.Client, *llm.OllamaClient) {
	ollama := llm.NewOllamaClient(cfg.Models.OllamaURL, logger)
	multi := llm.NewMultiClient(ollama)
	multi.AddProvider("ollama", ollama)

	if cfg.Anthropic.APIKey != "" {
		multi.AddProvider("anthropic", llm.NewAnthropicClient(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL, logger))
		logger.Debug("Anthropic provider configured")
	}
	if cfg.OpenAI.APIKey != "" {
		multi.AddProvider("openai", llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, logger))
		logger.Debug("OpenAI provider configured")
	}

	for _, m := range cfg.Models.Available {
		multi.AddModel(m.Name, m.Provider)
	}

	logger.Debug("LLM client initialized",
		"default_model", cfg.Models.Default,
		"default_provider", cfg.ProviderFor(cfg.Models.Default),
	)
	return multi, ollama
}

// createToolRegistry registers the search and scrape tools.
func createToolRegistry(cfg *config.Config, logger *slog.Logger) (*tools.Registry, error) {
	mgr := search.NewManager(cfg.Search.Provider)
	if cfg.Search.Brave.Configured() {
		opts := []search.BraveOption{
			search.WithBraveHTTPClient(httpkit.NewClient(
				httpkit.WithTimeout(cfg.Search.Timeout),
				httpkit.WithLogger(logger),
			)),
		}
		if cfg.Search.Brave.RateLimit > 0 {
			opts = append(opts, search.WithBraveRateLimit(cfg.Search.Brave.RateLimit))
		}
		mgr.Register(search.NewBrave(cfg.Search.Brave.APIKey, opts...))
	}
	if cfg.Search.SearXNG.Configured() {
		var opts []search.SearXNGOption
		if cfg.Search.SearXNG.Categories != "" {
			opts = append(opts, search.WithSearXNGCategories(cfg.Search.SearXNG.Categories))
		}
		mgr.Register(search.NewSearXNG(cfg.Search.SearXNG.URL, opts...))
	}
	if !mgr.Configured() {
		// The search tool still registers so the planner sees a
		// failure observation it can work around.
		logger.Warn("no search provider configured", "provider", cfg.Search.Provider)
	}

	fetchOpts := []fetch.Option{
		fetch.WithTimeout(cfg.Scrape.Timeout),
		fetch.WithMaxChars(cfg.Scrape.MaxChars),
		fetch.WithMaxBytes(cfg.Scrape.MaxBytes),
		fetch.WithMaxRedirects(cfg.Scrape.MaxRedirects),
	}
	if cfg.Scrape.BrowserUserAgent {
		fetchOpts = append(fetchOpts, fetch.WithBrowserUserAgent())
	}

	searchTool := search.NewTool(mgr, cfg.Search.Limit, cfg.Search.Timeout, logger)
	searchTool.SetLanguage(cfg.Search.Language)

	reg := tools.NewRegistry(logger)
	for _, t := range []tools.Tool{
		searchTool,
		fetch.NewScrapeTool(fetch.New(fetchOpts...), cfg.Scrape.Timeout, logger),
	} {
		if err := reg.Register(t); err != nil {
			return nil, fmt.Errorf("register tool: %w", err)
		}
	}
	return reg, nil
}
