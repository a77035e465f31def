// Package config handles Cortex Cart configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nugget/cortexcart/internal/fetch"
	"github.com/nugget/cortexcart/internal/search"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/cortexcart/config.yaml, /etc/cortexcart/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "cortexcart", "config.yaml"))
	}

	paths = append(paths, "/etc/cortexcart/config.yaml")
	return paths
}

// ErrNoConfig is returned by FindConfig when no file exists on the
// search path. Callers that can run on defaults check for it.
var ErrNoConfig = errors.New("no config file found")

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, DefaultSearchPaths())
}

// Config holds all Cortex Cart configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Models    ModelsConfig    `yaml:"models"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Search    SearchConfig    `yaml:"search"`
	Scrape    ScrapeConfig    `yaml:"scrape"`
	Agent     AgentConfig     `yaml:"agent"`
	Evidence  EvidenceConfig  `yaml:"evidence"`

	// Pricing maps model names to per-million-token prices for usage
	// cost accounting. Models not listed are treated as free.
	Pricing map[string]PricingEntry `yaml:"pricing"`

	// DataDir holds the usage database. Empty disables usage tracking.
	DataDir   string `yaml:"data_dir"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig selects the reasoning model and where it runs.
type ModelsConfig struct {
	Default   string        `yaml:"default"`
	OllamaURL string        `yaml:"ollama_url"`
	Available []ModelConfig `yaml:"available"`

	// Temperature and MaxTokens are passed on every reasoning call.
	// A nil Temperature leaves the provider default in place.
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
}

// ModelConfig routes a model name to a provider.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // ollama, anthropic, openai
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// OpenAIConfig defines settings for any OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// SearchConfig selects and tunes the web search provider.
type SearchConfig struct {
	Provider string               `yaml:"provider"` // brave (default) or searxng
	Limit    int                  `yaml:"limit"`
	Timeout  time.Duration        `yaml:"timeout"`
	Language string               `yaml:"language"` // ISO 639-1; empty lets the provider decide
	Brave    search.BraveConfig   `yaml:"brave"`
	SearXNG  search.SearXNGConfig `yaml:"searxng"`
}

// ScrapeConfig tunes page fetching.
type ScrapeConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	MaxChars         int           `yaml:"max_chars"`
	MaxBytes         int64         `yaml:"max_bytes"`
	MaxRedirects     int           `yaml:"max_redirects"`
	BrowserUserAgent bool          `yaml:"browser_user_agent"`
}

// AgentConfig holds the orchestrator budgets.
type AgentConfig struct {
	MaxSteps         int           `yaml:"max_steps"`
	PlanRetries      int           `yaml:"plan_retries"`
	ReplayWindow     int           `yaml:"replay_window"`
	ObservationChars int           `yaml:"observation_chars"`
	PrefetchPages    int           `yaml:"prefetch_pages"`
	RunTimeout       time.Duration `yaml:"run_timeout"`
	FinishTimeout    time.Duration `yaml:"finish_timeout"`
	ReasoningTimeout time.Duration `yaml:"reasoning_timeout"`
}

// EvidenceConfig tunes the review digest.
type EvidenceConfig struct {
	DigestChars      int     `yaml:"digest_chars"`
	NearDupThreshold float64 `yaml:"near_dup_threshold"` // 0 disables
	// Classify labels fragments with the reasoning backend. When false
	// the lexical heuristic is used for every fragment.
	Classify bool `yaml:"classify"`
}

// PricingEntry is the cost of one model in USD per million tokens.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// Load reads configuration from a YAML file. Values absent from the file
// keep their Default() value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// Default returns a default configuration. The Brave API key is taken
// from BRAVE_API_KEY so a bare `cortexcart ask` works without a file.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Models: ModelsConfig{
			Default:   "llama3",
			OllamaURL: "http://localhost:11434",
			Available: []ModelConfig{
				{Name: "llama3", Provider: "ollama"},
			},
		},
		Search: SearchConfig{
			Provider: "brave",
			Limit:    5,
			Timeout:  15 * time.Second,
			Brave: search.BraveConfig{
				APIKey:    os.Getenv("BRAVE_API_KEY"),
				RateLimit: 1,
			},
		},
		Scrape: ScrapeConfig{
			Timeout:      10 * time.Second,
			MaxChars:     fetch.DefaultMaxChars,
			MaxBytes:     fetch.DefaultMaxBytes,
			MaxRedirects: fetch.DefaultMaxRedirects,
		},
		Agent: AgentConfig{
			MaxSteps:         6,
			PlanRetries:      2,
			ReplayWindow:     6,
			ObservationChars: 1200,
			RunTimeout:       2 * time.Minute,
			FinishTimeout:    45 * time.Second,
			ReasoningTimeout: 60 * time.Second,
		},
		Evidence: EvidenceConfig{
			DigestChars:      4000,
			NearDupThreshold: 0.85,
			Classify:         true,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Validate reports the first nonsensical setting.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format %q: must be text or json", c.LogFormat)
	}

	if c.Models.Default == "" {
		return errors.New("models.default is required")
	}
	for _, m := range c.Models.Available {
		switch m.Provider {
		case "ollama", "anthropic", "openai":
		default:
			return fmt.Errorf("model %q: unknown provider %q", m.Name, m.Provider)
		}
	}
	if t := c.Models.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("models.temperature %v: must be between 0 and 2", *t)
	}

	switch c.Search.Provider {
	case "brave", "searxng":
	default:
		return fmt.Errorf("search.provider %q: must be brave or searxng", c.Search.Provider)
	}
	if c.Search.Limit < 1 {
		return fmt.Errorf("search.limit %d: must be at least 1", c.Search.Limit)
	}

	if c.Search.Language != "" && len(c.Search.Language) != 2 {
		return fmt.Errorf("search.language %q: must be a two-letter ISO 639-1 code", c.Search.Language)
	}
	if c.Scrape.MaxBytes < 1 {
		return fmt.Errorf("scrape.max_bytes %d: must be at least 1", c.Scrape.MaxBytes)
	}

	if c.Agent.MaxSteps < 1 {
		return fmt.Errorf("agent.max_steps %d: must be at least 1", c.Agent.MaxSteps)
	}
	if c.Agent.PlanRetries < 1 {
		return fmt.Errorf("agent.plan_retries %d: must be at least 1", c.Agent.PlanRetries)
	}
	if c.Agent.ReplayWindow < 1 {
		return fmt.Errorf("agent.replay_window %d: must be at least 1", c.Agent.ReplayWindow)
	}
	if c.Agent.PrefetchPages < 0 {
		return fmt.Errorf("agent.prefetch_pages %d: must not be negative", c.Agent.PrefetchPages)
	}

	timeouts := []struct {
		name string
		d    time.Duration
	}{
		{"search.timeout", c.Search.Timeout},
		{"scrape.timeout", c.Scrape.Timeout},
		{"agent.run_timeout", c.Agent.RunTimeout},
		{"agent.finish_timeout", c.Agent.FinishTimeout},
		{"agent.reasoning_timeout", c.Agent.ReasoningTimeout},
	}
	for _, t := range timeouts {
		if t.d <= 0 {
			return fmt.Errorf("%s %v: must be positive", t.name, t.d)
		}
	}

	if c.Evidence.DigestChars < 1 {
		return fmt.Errorf("evidence.digest_chars %d: must be at least 1", c.Evidence.DigestChars)
	}
	if c.Evidence.NearDupThreshold < 0 || c.Evidence.NearDupThreshold > 1 {
		return fmt.Errorf("evidence.near_dup_threshold %v: must be between 0 and 1", c.Evidence.NearDupThreshold)
	}
	return nil
}

// UsageDBPath returns the usage database location, or "" when usage
// tracking is disabled.
func (c *Config) UsageDBPath() string {
	if c.DataDir == "" {
		return ""
	}
	return filepath.Join(c.DataDir, "usage.db")
}

// ProviderFor returns the provider configured for model, defaulting to
// ollama for unlisted models.
func (c *Config) ProviderFor(model string) string {
	for _, m := range c.Models.Available {
		if m.Name == model {
			return m.Provider
		}
	}
	return "ollama"
}
