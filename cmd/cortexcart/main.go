// Cortex Cart is a shopping assistant that answers product questions by
// searching the web, reading product and review pages, and reasoning
// over what it found.
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]). The ask and chat
// commands fall back to built-in defaults when no file exists.
//
// Usage:
//
//	cortexcart ask <question>   Answer one question and exit
//	cortexcart chat             Answer questions read from stdin, one per line
//	cortexcart serve            Start the HTTP API server
//	cortexcart usage [hours]    Report token usage (requires data_dir)
//	cortexcart init [dir]       Write a starter config.yaml
//	cortexcart version          Print version and build information
//	cortexcart -o json ask ...  Output the answer as JSON
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/cortexcart/internal/agent"
	"github.com/nugget/cortexcart/internal/api"
	"github.com/nugget/cortexcart/internal/buildinfo"
	"github.com/nugget/cortexcart/internal/config"
	"github.com/nugget/cortexcart/internal/render"
	"github.com/nugget/cortexcart/internal/usage"
)

// main constructs the OS-level environment and delegates to [run], so
// the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the cortexcart command. Answers go to
// stdout. Logs go to stderr for ask and chat so that piped output stays
// clean, and to stdout for serve.
//
// Arguments are parsed by hand. The flag package relies on package-level
// globals, which makes it impossible to call run() concurrently from
// tests.
func run(ctx context.Context, stdin io.Reader, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default), "json", or "html"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	switch outputFmt {
	case "text", "json", "html":
	default:
		return fmt.Errorf("unknown output format: %q (expected text, json, or html)", outputFmt)
	}

	switch command {
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: cortexcart ask <question>")
		}
		return runAsk(ctx, stdout, stderr, configPath, outputFmt, strings.Join(cmdArgs, " "))
	case "chat":
		return runChat(ctx, stdin, stdout, stderr, configPath, outputFmt)
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "usage":
		hours := 24
		if len(cmdArgs) > 0 {
			n, err := strconv.Atoi(cmdArgs[0])
			if err != nil || n < 1 {
				return fmt.Errorf("usage: cortexcart usage [hours] (hours must be a positive integer)")
			}
			hours = n
		}
		return runUsage(stdout, configPath, outputFmt, hours)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Cortex Cart - research-backed shopping answers")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: cortexcart [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  ask <question>  Answer one shopping question")
	fmt.Fprintln(w, "  chat            Answer questions from stdin, one per line")
	fmt.Fprintln(w, "  serve           Start the HTTP API server")
	fmt.Fprintln(w, "  usage [hours]   Report token usage for the last N hours (default: 24)")
	fmt.Fprintln(w, "  init [dir]      Write a starter config.yaml (default: .)")
	fmt.Fprintln(w, "  version         Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default), json, or html")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/cortexcart/config.yaml, /etc/cortexcart/config.yaml")
	return nil
}

// runAsk answers a single question and prints the answer.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt, question string) error {
	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, configuredLevel(cfg), cfg.LogFormat)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	answer := a.orchestrator.RunTurn(ctx, question)
	if err := writeAnswer(stdout, question, answer, outputFmt); err != nil {
		return err
	}
	if answer.Reason == agent.ReasonFailed {
		return fmt.Errorf("ask: %w", agent.ErrRunFailed)
	}
	return nil
}

// runChat reads one question per line and answers each as an
// independent turn. It stops at EOF, on "exit" or "quit", or when ctx
// is canceled.
func runChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath, outputFmt string) error {
	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, configuredLevel(cfg), cfg.LogFormat)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	interactive := outputFmt == "text"
	scanner := bufio.NewScanner(stdin)
	for {
		if interactive {
			fmt.Fprint(stdout, "> ")
		}
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			return nil
		}

		question := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(question) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		answer := a.orchestrator.RunTurn(ctx, question)
		if err := writeAnswer(stdout, question, answer, outputFmt); err != nil {
			return err
		}
		if interactive {
			fmt.Fprintln(stdout)
		}
	}
	if interactive {
		fmt.Fprintln(stdout)
	}
	return scanner.Err()
}

// runServe starts the HTTP API and blocks until SIGINT or SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Cortex Cart", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	// Everything after this point uses the configured level and format.
	logger = newLogger(stdout, configuredLevel(cfg), cfg.LogFormat)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Models.Default,
		"search_provider", cfg.Search.Provider,
	)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, a.orchestrator, a.backend, logger)
	server.SetWriteTimeout(cfg.Agent.RunTimeout + cfg.Agent.FinishTimeout + 15*time.Second)
	if a.usage != nil {
		server.SetUsageStore(a.usage)
	}
	if a.ollama != nil {
		server.SetModelCheck(a.ollama, a.backend.Model())
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		logger.Info("shutdown signal received")

		// In-flight turns get their full budget to drain.
		drain := cfg.Agent.RunTimeout + cfg.Agent.FinishTimeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), drain)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	// Start returns as soon as Shutdown begins; wait for the drain so
	// the usage store outlives in-flight turns.
	if err := server.Start(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("server failed: %w", err)
	}
	<-stopped

	logger.Info("Cortex Cart stopped")
	return nil
}

// runUsage prints token usage from the usage database.
func runUsage(stdout io.Writer, configPath, outputFmt string, hours int) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	dbPath := cfg.UsageDBPath()
	if dbPath == "" {
		return errors.New("usage tracking is disabled (set data_dir in config)")
	}

	store, err := usage.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := api.UsageReport(store, time.Now(), hours)
	if err != nil {
		return fmt.Errorf("usage report: %w", err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintf(stdout, "Usage for the last %d hour(s)\n", hours)
	writeSummaryLine(stdout, "total", report.Total)
	for _, group := range []struct {
		title string
		m     map[string]*usage.Summary
	}{
		{"By role", report.ByRole},
		{"By model", report.ByModel},
	} {
		if len(group.m) == 0 {
			continue
		}
		fmt.Fprintf(stdout, "\n%s:\n", group.title)
		keys := make([]string, 0, len(group.m))
		for k := range group.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeSummaryLine(stdout, k, group.m[k])
		}
	}
	return nil
}

func writeSummaryLine(w io.Writer, label string, s *usage.Summary) {
	fmt.Fprintf(w, "  %-24s %5d calls  %9d in  %9d out  $%.4f\n",
		label, s.TotalRecords, s.TotalInputTokens, s.TotalOutputTokens, s.TotalCostUSD)
}

// writeAnswer prints one answer in the requested output format.
func writeAnswer(w io.Writer, question string, a agent.Answer, outputFmt string) error {
	switch outputFmt {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(a)
	case "html":
		doc, err := render.Document("Cortex Cart: "+question, a.Text)
		if err != nil {
			return fmt.Errorf("render answer: %w", err)
		}
		_, err = io.WriteString(w, doc)
		return err
	default:
		_, err := fmt.Fprintln(w, render.Plain(a.Text))
		return err
	}
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// configuredLevel returns the level named in cfg. Validate has already
// rejected unknown names.
func configuredLevel(cfg *config.Config) slog.Level {
	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		level, _ = config.ParseLogLevel(cfg.LogLevel)
	}
	return level
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// loadConfigOrDefault is loadConfig for the one-shot commands: when no
// config file exists anywhere on the search path, the built-in defaults
// are used. An explicit path that does not exist is still an error.
func loadConfigOrDefault(explicit string) (*config.Config, error) {
	cfg, cfgPath, err := loadConfig(explicit)
	switch {
	case err == nil:
	case explicit == "" && errors.Is(err, config.ErrNoConfig):
		cfg = config.Default()
	default:
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		if cfgPath == "" {
			return nil, fmt.Errorf("invalid default config: %w", err)
		}
		return nil, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}
	return cfg, nil
}
