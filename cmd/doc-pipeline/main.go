package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, stage := range selectStages(cfg) {
		if stage == "query" && cfg.Query == "" {
			fmt.Fprintln(os.Stdout, "skip query: no -query given")
			continue
		}
		args, err := stageArgs(cfg, stage)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(2)
		}
		if err := runGo(ctx, args...); err != nil {
			os.Exit(1)
		}
	}
}

func selectStages(cfg Config) []string {
	if cfg.OnlyStage != "" {
		return []string{cfg.OnlyStage}
	}
	if cfg.FromStage != "" {
		return stagesFrom(allStages, cfg.FromStage)
	}
	return allStages
}

// stageArgs builds the "go run" arguments of one stage. Outputs land under BaseDir:
// summaries/ for the summarizer and answer.json for the query.
func stageArgs(cfg Config, stage string) ([]string, error) {
	base := filepath.Clean(cfg.BaseDir)
	var args []string
	switch stage {
	case "summarize":
		args = []string{
			"run", "./cmd/doc-summarizer",
			"-path", cfg.Path,
			"-out-dir", filepath.Join(base, "summaries"),
			"-recursion", strconv.Itoa(cfg.Recursion),
		}
		if cfg.History {
			args = append(args, "-history")
		}
	case "query":
		args = []string{
			"run", "./cmd/doc-query",
			"-path", cfg.Path,
			"-query", cfg.Query,
			"-task", cfg.Task,
			"-out", filepath.Join(base, cfg.Task+".json"),
			"-pretty",
		}
	default:
		return nil, fmt.Errorf("unknown stage: %s", stage)
	}
	if cfg.ConfigPath != "" {
		args = append(args, "-config", cfg.ConfigPath)
	}
	if cfg.Debug {
		args = append(args, "-debug")
	}
	return args, nil
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.Path, "path", cfg.Path, "Corpus file or directory")
	fs.StringVar(&cfg.BaseDir, "base-dir", cfg.BaseDir, "Base output directory")
	fs.StringVar(&cfg.ConfigPath, "config", "", "YAML config file passed to every stage")
	fs.StringVar(&cfg.Query, "query", "", "Question for the query stage (skipped when empty)")
	fs.StringVar(&cfg.Task, "task", cfg.Task, "Query stage task: query or search")
	fs.IntVar(&cfg.Recursion, "recursion", cfg.Recursion, "Max recursive summary passes")
	fs.BoolVar(&cfg.History, "history", false, "Keep earlier recursion depths in summary files")
	fs.BoolVar(&cfg.Debug, "debug", false, "Verbose logs and sequential model calls in every stage")
	fs.StringVar(&cfg.FromStage, "from-stage", "", "Start at stage: summarize|query")
	fs.StringVar(&cfg.OnlyStage, "only-stage", "", "Run only one stage: summarize|query")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.FromStage = strings.ToLower(strings.TrimSpace(cfg.FromStage))
	cfg.OnlyStage = strings.ToLower(strings.TrimSpace(cfg.OnlyStage))
	if cfg.Path != "" {
		cfg.Path = filepath.Clean(cfg.Path)
	}
	if cfg.ConfigPath != "" {
		cfg.ConfigPath = filepath.Clean(cfg.ConfigPath)
	}
	return cfg, nil
}

func runGo(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "go", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, "command failed:", "go "+strings.Join(args, " "))
		fmt.Fprintln(os.Stderr, "error:", err.Error())
		return err
	}
	fmt.Fprintln(os.Stdout, "ok:", "go "+strings.Join(args, " "), "(", time.Since(start).Round(time.Millisecond).String()+")")
	return nil
}

func stagesFrom(stages []string, from string) []string {
	for i, s := range stages {
		if s == from {
			return stages[i:]
		}
	}
	return stages
}
