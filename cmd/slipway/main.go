package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/slipwayci/slipway/internal/api"
	"github.com/slipwayci/slipway/internal/auth"
	"github.com/slipwayci/slipway/internal/config"
	"github.com/slipwayci/slipway/internal/doctor"
	"github.com/slipwayci/slipway/internal/event"
	"github.com/slipwayci/slipway/internal/events"
	"github.com/slipwayci/slipway/internal/executor"
	"github.com/slipwayci/slipway/internal/inspect"
	"github.com/slipwayci/slipway/internal/lock"
	"github.com/slipwayci/slipway/internal/log"
	"github.com/slipwayci/slipway/internal/pipeline"
	"github.com/slipwayci/slipway/internal/queue"
	"github.com/slipwayci/slipway/internal/registry"
	"github.com/slipwayci/slipway/internal/storage"
	"github.com/slipwayci/slipway/internal/trigger"
	"github.com/slipwayci/slipway/internal/tui"
	"github.com/slipwayci/slipway/internal/tui/watch"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "run":
		return runRunNoun(args)
	case "event":
		return runEventNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: slipway version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("slipway %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalizedBuildTime, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalizedBuildTime
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}

	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`slipway - Self-hosted CI/CD pipeline orchestrator

Usage:
  slipway <noun> <action> [flags]

Core Resources (Nouns):
  system    Orchestrator lifecycle and health
  config    Configuration and pipeline validation
  run       Pipeline run history and inspection
  event     Manual trigger event injection

System Commands:
  system start      Start the orchestrator service in foreground
  system status     Show orchestrator health
  system watch      Real-time monitoring TUI

Config Commands:
  config check      Validate configuration and pipeline definitions
  config show       Show resolved configuration

Run Commands:
  run list          List recent pipeline runs
  run inspect <id>  Show full run report with step results
  run browse        Interactive run browser TUI

Event Commands:
  event fire        Inject a trigger event and enqueue matching runs

General:
  --version         Show version information
  version           Show version information
  help              Show this help message

Use 'slipway <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	case "help":
		printSystemNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	case "help":
		printConfigNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runRunNoun(args []string) int {
	if len(args) < 1 {
		printRunNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printRunNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printRunListHelp()
			return 0
		}
		return runRunList(actionArgs)
	case "inspect":
		if hasHelpFlag(actionArgs) {
			printRunInspectHelp()
			return 0
		}
		return runRunInspect(actionArgs)
	case "browse":
		if hasHelpFlag(actionArgs) {
			printRunBrowseHelp()
			return 0
		}
		return runRunBrowse(actionArgs)
	case "help":
		printRunNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown run action: %s\n", action)
		return 1
	}
}

func runEventNoun(args []string) int {
	if len(args) < 1 {
		printEventNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printEventNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "fire":
		if hasHelpFlag(actionArgs) {
			printEventFireHelp()
			return 0
		}
		return runEventFire(actionArgs)
	case "help":
		printEventNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown event action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// --- HELP TEXT ---

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: slipway system <action>")
	fmt.Fprintln(w, "Actions: start, status, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: slipway config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, show")
}

func printRunNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: slipway run <action>")
	fmt.Fprintln(w, "Actions: list, inspect, browse")
}

func printEventNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: slipway event <action>")
	fmt.Fprintln(w, "Actions: fire")
}

func printSystemStartHelp() {
	fmt.Println("Usage: slipway system start [--config PATH]")
	fmt.Println("Start the orchestrator service in the foreground.")
}

func printSystemStatusHelp() {
	fmt.Println("Usage: slipway system status [--config PATH] [--json]")
	fmt.Println("Show orchestrator health (config, database readiness, and PID lock state).")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  All required checks passed")
	fmt.Println("  1  One or more checks failed")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: slipway system watch [flags]")
	fmt.Println()
	fmt.Println("Real-time monitoring TUI.")
	fmt.Println("Shows orchestrator health, active pipeline runs, and event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Orchestrator API URL (default: http://localhost:8080)")
	fmt.Println("  --api-key KEY    API Bearer Token (or SLIPWAY_API_KEY env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Navigate pipelines")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: slipway config check [--config PATH] [--format human|json]")
	fmt.Println("Validate configuration and compiled pipeline definitions.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: slipway config show [--config PATH]")
	fmt.Println("Show the resolved configuration and loaded pipelines.")
}

func printRunListHelp() {
	fmt.Println("Usage: slipway run list [--config PATH] [--limit N] [--json]")
	fmt.Println("List recent pipeline runs from the local run history.")
}

func printRunInspectHelp() {
	fmt.Println("Usage: slipway run inspect <run_id> [--config PATH] [--json]")
	fmt.Println("Show the full run report with per-step results and output tails.")
}

func printRunBrowseHelp() {
	fmt.Println("Usage: slipway run browse [--api-url URL] [--api-key KEY]")
	fmt.Println("Launch the interactive run browser TUI.")
}

func printEventFireHelp() {
	fmt.Println("Usage: slipway event fire --kind push|pull_request|release [flags]")
	fmt.Println()
	fmt.Println("Inject a trigger event locally and enqueue matching pipeline runs.")
	fmt.Println("A running orchestrator sharing the same state database will pick them up.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --kind KIND            Event kind (push, pull_request, release)")
	fmt.Println("  --branch NAME          Source branch (push, pull_request)")
	fmt.Println("  --target-branch NAME   Target branch (pull_request)")
	fmt.Println("  --action NAME          Release action, e.g. published (release)")
	fmt.Println("  --tag NAME             Release tag (release)")
	fmt.Println("  --commit SHA           Commit SHA")
	fmt.Println("  --json                 Output enqueued run IDs as JSON")
}

// --- ACTION IMPLEMENTATIONS ---

func resolveConfigPath(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DiscoverConfigDir()
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	resolved, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	cfg, err := config.Load(resolved)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("slipway starting", "version", version, "config", resolved)

	pidLockPath := getPIDLockPath(cfg)
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	q := queue.New(db)

	recovered, err := q.RecoverOrphans(ctx)
	if err != nil {
		logger.Error("failed to recover orphaned runs", "error", err)
		return 1
	}
	if recovered > 0 {
		logger.Warn("requeued runs left running by a previous instance", "count", recovered)
	}

	set, err := pipeline.LoadAndCompileDir(cfg.PipelinesDir)
	if err != nil {
		logger.Error("failed to load pipelines", "pipelines_dir", cfg.PipelinesDir, "error", err)
		return 1
	}
	logger.Info("pipeline discovery complete", "pipelines_dir", cfg.PipelinesDir, "pipelines_loaded", len(set.Pipelines))
	for _, name := range set.Names() {
		p := set.Pipelines[name]
		logger.Info("pipeline registered", "name", p.Name, "steps", len(p.Steps), "fingerprint", p.Fingerprint)
	}

	hub := events.NewHub(256)
	pub := registry.New(cfg.Registry)
	exec := executor.New(cfg, q, set, pub, hub)
	ingestor := trigger.NewIngestor(set, q, hub, log.WithComponent("trigger"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 3)

	go func() {
		if err := exec.Start(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("executor: %w", err)
		}
	}()

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{
				Token:  t.Token,
				Scopes: t.Scopes,
			})
		}
		apiConfig := api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
			Tokens: tokens,
		}
		apiServer := api.New(apiConfig, q, ingestor, set, hub, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	if cfg.Trigger != nil && len(cfg.Trigger.Endpoints) > 0 {
		triggerServer := trigger.New(*cfg.Trigger, ingestor, log.WithComponent("webhook"))
		go func() {
			if err := triggerServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("webhook: %w", err)
			}
		}()
		logger.Info("webhook trigger enabled", "listen", cfg.Trigger.Listen, "endpoints", len(cfg.Trigger.Endpoints))
	}

	logger.Info("slipway running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("slipway stopped")
	return 0
}

func getPIDLockPath(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.State.Path), "slipway.pid")
}

type statusReport struct {
	ConfigOK   bool   `json:"config_ok"`
	ConfigPath string `json:"config_path"`
	DatabaseOK bool   `json:"database_ok"`
	Running    bool   `json:"running"`
	Pipelines  int    `json:"pipelines"`
	Error      string `json:"error,omitempty"`
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output status as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	report := statusReport{}

	resolved, err := resolveConfigPath(*configPath)
	if err != nil {
		report.Error = err.Error()
		return printStatus(report, *jsonOut)
	}
	report.ConfigPath = resolved

	cfg, err := config.Load(resolved)
	if err != nil {
		report.Error = err.Error()
		return printStatus(report, *jsonOut)
	}
	report.ConfigOK = true

	set, err := pipeline.LoadAndCompileDir(cfg.PipelinesDir)
	if err == nil {
		report.Pipelines = len(set.Pipelines)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		report.Error = err.Error()
		return printStatus(report, *jsonOut)
	}
	defer db.Close()
	report.DatabaseOK = true

	// A held PID lock means an instance is running.
	if pidLock, err := lock.AcquirePIDLock(getPIDLockPath(cfg)); err != nil {
		report.Running = true
	} else {
		pidLock.Release()
	}

	return printStatus(report, *jsonOut)
}

func printStatus(report statusReport, jsonOut bool) int {
	code := 0
	if !report.ConfigOK || !report.DatabaseOK {
		code = 1
	}

	if jsonOut {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
		return code
	}

	fmt.Printf("Config    : %s (%s)\n", checkMark(report.ConfigOK), report.ConfigPath)
	fmt.Printf("Database  : %s\n", checkMark(report.DatabaseOK))
	fmt.Printf("Pipelines : %d\n", report.Pipelines)
	if report.Running {
		fmt.Println("Service   : running")
	} else {
		fmt.Println("Service   : not running")
	}
	if report.Error != "" {
		fmt.Printf("Error     : %s\n", report.Error)
	}
	return code
}

func checkMark(ok bool) string {
	if ok {
		return "ok"
	}
	return "FAIL"
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Orchestrator API URL")
	apiKey := fs.String("api-key", os.Getenv("SLIPWAY_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or SLIPWAY_API_KEY env var.")
		return 1
	}

	m := watch.New(*apiURL, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runRunBrowse(args []string) int {
	fs := flag.NewFlagSet("browse", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Orchestrator API URL")
	apiKey := fs.String("api-key", os.Getenv("SLIPWAY_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or SLIPWAY_API_KEY env var.")
		return 1
	}

	m := tui.NewRunBrowser(*apiURL, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	format := fs.String("format", "human", "Output format (human or json)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	resolved, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	cfg, err := config.Load(resolved)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	set, loadErr := pipeline.LoadAndCompileDir(cfg.PipelinesDir)

	d := doctor.New(cfg, set)
	result := d.Validate()
	if loadErr != nil {
		result.Valid = false
		result.Errors = append(result.Errors, doctor.Issue{
			Category: "pipelines",
			Field:    "pipelines_dir",
			Message:  loadErr.Error(),
		})
	}

	switch *format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	resolved, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	cfg, err := config.Load(resolved)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	// Secrets stay out of the output.
	shown := *cfg
	shown.API.Auth.APIKey = redactSecret(shown.API.Auth.APIKey)
	shownTokens := make([]config.APIToken, len(shown.API.Auth.Tokens))
	for i, t := range shown.API.Auth.Tokens {
		shownTokens[i] = config.APIToken{Token: redactSecret(t.Token), Scopes: t.Scopes}
	}
	shown.API.Auth.Tokens = shownTokens
	if shown.Trigger != nil {
		trig := *shown.Trigger
		trig.Endpoints = make([]config.TriggerEndpoint, len(shown.Trigger.Endpoints))
		for i, ep := range shown.Trigger.Endpoints {
			ep.Secret = redactSecret(ep.Secret)
			trig.Endpoints[i] = ep
		}
		shown.Trigger = &trig
	}

	data, err := json.MarshalIndent(shown, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func redactSecret(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

func runRunList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", 20, "Maximum number of runs to show")
	jsonOut := fs.Bool("json", false, "Output runs as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	q, db, code := openQueue(*configPath)
	if code != 0 {
		return code
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runs, err := q.ListRuns(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list runs: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(runs, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return 0
	}

	fmt.Printf("%-10s %-20s %-16s %-12s %-10s %s\n", "ID", "PIPELINE", "MATRIX", "EVENT", "STATUS", "CREATED")
	for _, run := range runs {
		fmt.Printf("%-10s %-20s %-16s %-12s %-10s %s\n",
			shortID(run.ID),
			run.Pipeline,
			axisLabel(run.Axis),
			run.Trigger.Kind,
			run.Status,
			run.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	return 0
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func axisLabel(axis map[string]string) string {
	if len(axis) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(axis))
	for k := range axis {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, axis[k])
	}
	return strings.Join(parts, ",")
}

func runRunInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output report as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: slipway run inspect <run_id> [--config PATH] [--json]")
		return 1
	}
	runID := fs.Arg(0)

	q, db, code := openQueue(*configPath)
	if code != 0 {
		return code
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var report string
	var err error
	if *jsonOut {
		report, err = inspect.BuildJSONReport(ctx, q, runID)
	} else {
		report, err = inspect.BuildReport(ctx, q, runID)
	}
	if err != nil {
		if errors.Is(err, queue.ErrRunNotFound) {
			fmt.Fprintf(os.Stderr, "Run not found: %s\n", runID)
		} else {
			fmt.Fprintf(os.Stderr, "Failed to build report: %v\n", err)
		}
		return 1
	}

	fmt.Print(report)
	return 0
}

func runEventFire(args []string) int {
	fs := flag.NewFlagSet("fire", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	kind := fs.String("kind", "", "Event kind (push, pull_request, release)")
	branch := fs.String("branch", "", "Source branch")
	targetBranch := fs.String("target-branch", "", "Target branch (pull_request)")
	action := fs.String("action", "", "Release action (release)")
	tag := fs.String("tag", "", "Release tag (release)")
	commit := fs.String("commit", "", "Commit SHA")
	jsonOut := fs.Bool("json", false, "Output enqueued run IDs as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ev := event.Event{
		Kind:          event.Kind(*kind),
		Branch:        *branch,
		TargetBranch:  *targetBranch,
		ReleaseAction: *action,
		Tag:           *tag,
		Commit:        *commit,
	}
	if err := ev.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid event: %v\n", err)
		return 1
	}

	resolved, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	cfg, err := config.Load(resolved)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)

	set, err := pipeline.LoadAndCompileDir(cfg.PipelinesDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load pipelines: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	q := queue.New(db)
	hub := events.NewHub(16)
	ingestor := trigger.NewIngestor(set, q, hub, log.WithComponent("cli"))

	stamped, runIDs, err := ingestor.Ingest(ctx, ev, "cli")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to ingest event: %v\n", err)
		return 1
	}

	if *jsonOut {
		out := map[string]any{"event_id": stamped.EventID, "runs": runIDs}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("Event %s accepted (%s)\n", stamped.EventID, stamped.Kind)
	if len(runIDs) == 0 {
		fmt.Println("No pipelines matched; nothing enqueued.")
		return 0
	}
	for _, id := range runIDs {
		fmt.Printf("  enqueued run %s\n", id)
	}
	return 0
}

func openQueue(configPath string) (*queue.Queue, interface{ Close() error }, int) {
	resolved, err := resolveConfigPath(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return nil, nil, 1
	}

	cfg, err := config.Load(resolved)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, nil, 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return nil, nil, 1
	}

	return queue.New(db), db, 0
}
