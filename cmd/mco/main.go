package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tt-a1i/mco/internal/adapter"
	"github.com/tt-a1i/mco/internal/artifact"
	"github.com/tt-a1i/mco/internal/config"
	"github.com/tt-a1i/mco/internal/dispatch"
	"github.com/tt-a1i/mco/internal/history"
	"github.com/tt-a1i/mco/internal/interrupt"
	"github.com/tt-a1i/mco/internal/lock"
	"github.com/tt-a1i/mco/internal/model"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(model.ExitUsage)
	}

	switch os.Args[1] {
	case "review":
		os.Exit(runTask(model.ModeReview, os.Args[2:]))
	case "run":
		os.Exit(runTask(model.ModeRun, os.Args[2:]))
	case "history":
		os.Exit(runHistory(os.Args[2:]))
	case "version":
		fmt.Printf("mco %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(model.ExitUsage)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `mco - multi-provider coding-agent orchestrator

usage:
  mco review --repo <path> (--prompt <s> | --prompt-file <p>) [options]
  mco run    --repo <path> (--prompt <s> | --prompt-file <p>) [options]
  mco history [--limit n] [--json]
  mco version

options:
  --providers <csv>              subset of claude,codex,gemini,opencode,qwen
  --config <path>                config file (default: ./mco.json if present)
  --json                         also emit the run document to stdout
  --result-mode <mode>           artifact | stdout | both (default artifact)
  --output-format <fmt>          json | markdown-pr | sarif (review only)
  --allow-paths <csv>            paths providers may touch
  --target-paths <csv>           paths the prompt should focus on
  --enforcement-mode <mode>      strict | lenient
  --stall-timeout <sec>          cancel a provider with no output growth
  --review-hard-timeout <sec>    review-mode wall clock cap (0 disables)
  --max-parallelism <n>          provider admission cap (0 = unbounded)
  --log-level <level>            debug | info | warn | error
`)
}

type taskFlags struct {
	repo            string
	prompt          string
	promptFile      string
	providers       string
	configPath      string
	jsonOut         bool
	resultMode      string
	outputFormat    string
	allowPaths      string
	targetPaths     string
	enforcementMode string
	stallTimeout    int
	hardTimeout     int
	maxParallelism  int
	logLevel        string
}

func runTask(mode model.Mode, args []string) int {
	fs := flag.NewFlagSet(string(mode), flag.ContinueOnError)
	var f taskFlags
	fs.StringVar(&f.repo, "repo", "", "repository path (required)")
	fs.StringVar(&f.prompt, "prompt", "", "task prompt")
	fs.StringVar(&f.promptFile, "prompt-file", "", "file containing the task prompt")
	fs.StringVar(&f.providers, "providers", "", "comma-separated provider subset")
	fs.StringVar(&f.configPath, "config", "", "config file path")
	fs.BoolVar(&f.jsonOut, "json", false, "emit the run document to stdout")
	fs.StringVar(&f.resultMode, "result-mode", "artifact", "artifact | stdout | both")
	fs.StringVar(&f.outputFormat, "output-format", "json", "json | markdown-pr | sarif")
	fs.StringVar(&f.allowPaths, "allow-paths", "", "comma-separated allowed paths")
	fs.StringVar(&f.targetPaths, "target-paths", "", "comma-separated target paths")
	fs.StringVar(&f.enforcementMode, "enforcement-mode", "", "strict | lenient")
	fs.IntVar(&f.stallTimeout, "stall-timeout", -1, "stall window seconds")
	fs.IntVar(&f.hardTimeout, "review-hard-timeout", -1, "review hard timeout seconds")
	fs.IntVar(&f.maxParallelism, "max-parallelism", -1, "provider parallelism cap")
	fs.StringVar(&f.logLevel, "log-level", "", "log verbosity")
	if err := fs.Parse(args); err != nil {
		return model.ExitUsage
	}

	task, cfg, code := buildTask(mode, f)
	if code != 0 {
		return code
	}
	return execute(task, cfg, f)
}

func buildTask(mode model.Mode, f taskFlags) (model.Task, config.Config, int) {
	usage := func(format string, args ...any) (model.Task, config.Config, int) {
		fmt.Fprintf(os.Stderr, "mco: "+format+"\n", args...)
		return model.Task{}, config.Config{}, model.ExitUsage
	}

	if f.repo == "" {
		return usage("--repo is required")
	}
	repo, err := filepath.Abs(f.repo)
	if err != nil {
		return usage("resolve repo path: %v", err)
	}
	info, err := os.Stat(repo)
	if err != nil || !info.IsDir() {
		return usage("repo path is not a directory: %s", repo)
	}

	if (f.prompt == "") == (f.promptFile == "") {
		return usage("exactly one of --prompt or --prompt-file is required")
	}
	prompt := f.prompt
	if f.promptFile != "" {
		raw, err := os.ReadFile(f.promptFile)
		if err != nil {
			return usage("read prompt file: %v", err)
		}
		prompt = strings.TrimSpace(string(raw))
	}
	if prompt == "" {
		return usage("prompt is empty")
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mco: %v\n", err)
		return model.Task{}, config.Config{}, model.ExitInternal
	}

	ov := config.Overrides{
		EnforcementMode: f.enforcementMode,
		LogLevel:        f.logLevel,
	}
	if f.providers != "" {
		ov.Providers = splitCSV(f.providers)
	}
	if f.stallTimeout >= 0 {
		ov.StallTimeout = &f.stallTimeout
	}
	if f.hardTimeout >= 0 {
		ov.HardTimeout = &f.hardTimeout
	}
	if f.maxParallelism >= 0 {
		ov.MaxParallelism = &f.maxParallelism
	}
	cfg = config.Apply(cfg, ov)

	if err := config.Validate(cfg); err != nil {
		return usage("%v", err)
	}
	switch f.resultMode {
	case "artifact", "stdout", "both":
	default:
		return usage("invalid --result-mode %q", f.resultMode)
	}
	switch f.outputFormat {
	case "json", "markdown-pr", "sarif":
	default:
		return usage("invalid --output-format %q", f.outputFormat)
	}
	if mode == model.ModeRun && f.outputFormat != "json" {
		return usage("--output-format %s is review-mode only", f.outputFormat)
	}

	task := model.Task{
		TaskID:      model.NewTaskID(time.Now()),
		Mode:        mode,
		Prompt:      prompt,
		RepoPath:    repo,
		ProviderIDs: cfg.Providers,
		Policy:      cfg.Policy,
		Paths: model.PathConstraints{
			AllowPaths:  splitCSV(f.allowPaths),
			TargetPaths: splitCSV(f.targetPaths),
		},
	}
	return task, cfg, 0
}

func execute(task model.Task, cfg config.Config, f taskFlags) int {
	stateDir := filepath.Join(task.RepoPath, ".mco")
	if err := os.MkdirAll(filepath.Join(stateDir, "logs"), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "mco: create state dir: %v\n", err)
		return model.ExitInternal
	}

	runLock := lock.NewFileLock(filepath.Join(stateDir, "mco.lock"))
	if err := runLock.TryLock(); err != nil {
		fmt.Fprintf(os.Stderr, "mco: %v\n", err)
		return model.ExitInternal
	}
	defer func() { _ = runLock.Unlock() }()

	logger, logClose := openLogger(filepath.Join(stateDir, "logs", "mco.log"))
	defer logClose()

	artifactBase := cfg.ArtifactBase
	if !filepath.IsAbs(artifactBase) {
		artifactBase = filepath.Join(task.RepoPath, artifactBase)
	}
	paths, err := artifact.Prepare(artifactBase, task.TaskID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mco: %v\n", err)
		return model.ExitInternal
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifier := interrupt.Start(stateDir, cancel)
	defer notifier.Stop()

	d := dispatch.New(adapter.DefaultRegistry(), logger, dispatch.ParseLogLevel(cfg.Logging.Level))
	res := d.Run(ctx, task, paths)

	exitCode := res.Decision.ExitCode()

	if f.resultMode == "artifact" || f.resultMode == "both" {
		if err := artifact.WriteRun(paths, res); err != nil {
			fmt.Fprintf(os.Stderr, "mco: write artifacts: %v\n", err)
			return model.ExitInternal
		}
	}
	if f.jsonOut || f.resultMode == "stdout" || f.resultMode == "both" {
		if err := emit(os.Stdout, f.outputFormat, res); err != nil {
			fmt.Fprintf(os.Stderr, "mco: emit result: %v\n", err)
			return model.ExitInternal
		}
	}

	// Post-run bookkeeping must survive an external cancel, so it does
	// not reuse the task context.
	recordRun(context.Background(), stateDir, cfg, res, logger)
	return exitCode
}

// emit writes the run document to w in the selected format.
func emit(w io.Writer, format string, res model.RunResult) error {
	switch format {
	case "markdown-pr":
		_, err := io.WriteString(w, artifact.MarkdownPR(res))
		return err
	case "sarif":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(artifact.SARIF(res))
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
}

// recordRun persists best-effort post-run metadata: the history store and
// the last-run state file. Failures are logged, never fatal.
func recordRun(ctx context.Context, stateDir string, cfg config.Config, res model.RunResult, logger *log.Logger) {
	store, err := history.Open(ctx, filepath.Join(stateDir, "history.db"))
	if err != nil {
		logger.Printf("%s WARN main: open history store: %v", time.Now().Format(time.RFC3339), err)
	} else {
		if err := store.Record(ctx, res); err != nil {
			logger.Printf("%s WARN main: record history: %v", time.Now().Format(time.RFC3339), err)
		}
		_ = store.Close()
	}

	statePath := cfg.StateFile
	if !filepath.IsAbs(statePath) {
		statePath = filepath.Join(filepath.Dir(stateDir), statePath)
	}
	if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
		return
	}
	state := map[string]any{
		"last_task_id":  res.TaskID,
		"last_decision": string(res.Decision),
		"last_ended_at": res.EndedAt.UTC().Format(time.RFC3339),
	}
	if err := artifact.AtomicWriteJSON(statePath, state); err != nil {
		logger.Printf("%s WARN main: write state file: %v", time.Now().Format(time.RFC3339), err)
	}
}

func runHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "number of runs to list")
	jsonOut := fs.Bool("json", false, "emit entries as JSON")
	repo := fs.String("repo", ".", "repository path")
	if err := fs.Parse(args); err != nil {
		return model.ExitUsage
	}

	ctx := context.Background()
	store, err := history.Open(ctx, filepath.Join(*repo, ".mco", "history.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "mco: %v\n", err)
		return model.ExitInternal
	}
	defer store.Close()

	entries, err := store.Recent(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mco: %v\n", err)
		return model.ExitInternal
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			return model.ExitInternal
		}
		return 0
	}
	for _, e := range entries {
		fmt.Printf("%s  %-6s  %-8s  %3ds  findings=%d\n",
			e.TaskID, e.Mode, e.Decision, e.DurationSec, e.FindingsCount)
	}
	return 0
}

func openLogger(path string) (*log.Logger, func()) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return log.New(os.Stderr, "", 0), func() {}
	}
	return log.New(file, "", 0), func() { _ = file.Close() }
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
