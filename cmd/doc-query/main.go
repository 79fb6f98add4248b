package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"

	"github.com/theimaginaryfoundation/docquery/rag"
	"github.com/theimaginaryfoundation/docquery/rag/chunker"
	"github.com/theimaginaryfoundation/docquery/rag/config"
	"github.com/theimaginaryfoundation/docquery/rag/corpus"
	"github.com/theimaginaryfoundation/docquery/rag/fileutils"
	"github.com/theimaginaryfoundation/docquery/rag/ledger"
	"github.com/theimaginaryfoundation/docquery/rag/render"
	"github.com/theimaginaryfoundation/docquery/rag/retrieval"
)

func main() {
	_ = godotenv.Load()

	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if cfg.SaveConfig != "" {
		if err := config.Save(cfg.SaveConfig, cfg.File); err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("save config: %w", err).Error())
			os.Exit(1)
		}
		fmt.Fprintln(os.Stdout, "wrote config:", cfg.SaveConfig)
		if cfg.Path == "" {
			return
		}
	}

	logger := newLogger(os.Stderr, cfg.File.Debug)
	if cfg.UsedConfig != "" {
		logger.Debug("loaded config", "path", cfg.UsedConfig)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" && cfg.File.NeedsAPIKey() {
		fmt.Fprintln(os.Stderr, "missing OPENAI_API_KEY (or pass -api-key)")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l := ledger.New(cfg.File.Prices())
	backends, err := cfg.File.Open(apiKey, l)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	err = run(ctx, cfg, backends, l, logger, os.Stdout)
	if cerr := backends.Close(); cerr != nil {
		logger.Warn("close backends", "err", cerr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// run loads and prepares the corpus, answers or searches once, prints the result and
// optionally writes it as JSON.
func run(ctx context.Context, cfg Config, b *config.Backends, l *ledger.Ledger, logger *slog.Logger, stdout io.Writer) error {
	f := cfg.File
	docs, err := loadCorpus(ctx, cfg.Path, f, logger)
	if err != nil {
		return err
	}
	if err := checkEmbeddingBudget(docs, f, logger); err != nil {
		return err
	}

	fuser, err := retrieval.New(ctx, b.Embedder, docs, retrieval.Config{
		Strategies:  f.Strategies(),
		Relevancy:   f.Relevancy,
		ChildTokens: f.ChildTokens,
		Model:       b.Primary,
		Ledger:      l,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("build retrievers: %w", err)
	}

	evaluator := rag.NewEvaluator(b.Judge, b.Cache, l, logger, rag.EvaluatorConfig{
		CheckNumber:    f.CheckNumber,
		MaxConcurrency: f.Concurrency(),
	})
	reducer := rag.NewReducer(b.Primary, l, logger, rag.ReducerConfig{MaxConcurrency: f.Concurrency()})
	pipeline := rag.NewPipeline(fuser, evaluator, reducer, l, logger, rag.PipelineConfig{TopK: f.TopK})
	r := render.New(lipgloss.NewRenderer(stdout), 0)

	var report any
	switch cfg.Task {
	case taskSearch:
		res, err := pipeline.Search(ctx, cfg.Query)
		if err != nil {
			return err
		}
		fmt.Fprint(stdout, r.Search(res))
		report = res
	default:
		res, err := pipeline.Query(ctx, cfg.Query)
		if err != nil {
			return err
		}
		fmt.Fprint(stdout, r.Query(res))
		report = res
	}

	if cfg.OutPath != "" {
		if err := fileutils.WriteJSONFileAtomic(cfg.OutPath, report, cfg.Pretty); err != nil {
			return fmt.Errorf("write -out: %w", err)
		}
	}
	b.CheckConsistency(l, logger)
	return nil
}

func loadCorpus(ctx context.Context, path string, f *config.File, logger *slog.Logger) ([]rag.Document, error) {
	docs, err := corpus.Load(ctx, path, corpus.Options{ArrayField: f.Corpus.ArrayField, ChunkTokens: f.Corpus.ChunkTokens})
	if err != nil {
		return nil, err
	}
	dd, err := rag.Deduplicate(docs)
	if err != nil {
		return nil, err
	}
	if dd.Removed > 0 {
		logger.Info("removed duplicate documents", "removed", dd.Removed, "kept", len(dd.Documents))
	}
	pruned, err := rag.PruneDocuments(dd.Documents, f.Prune)
	if err != nil {
		return nil, err
	}
	if n := len(dd.Documents) - len(pruned); n > 0 {
		logger.Info("pruned documents", "removed", n, "kept", len(pruned))
	}
	return pruned, nil
}

// checkEmbeddingBudget prices one embedding pass over the corpus. The offline embedder
// is free and skips the check.
func checkEmbeddingBudget(docs []rag.Document, f *config.File, logger *slog.Logger) error {
	if f.Embedder.Type == config.EmbedderTFIDF {
		return nil
	}
	var tokens int64
	for _, d := range docs {
		tokens += int64(chunker.EstimateTokens(d.Content))
	}
	estimate := ledger.EstimateDocumentCost(tokens, f.Embedder.Price)
	logger.Info("embedding cost estimate", "documents", len(docs), "tokens", tokens, "dollars", fmt.Sprintf("%.5f", estimate))
	return ledger.CheckBudget(logger, estimate, f.Budget, f.Embedder.BaseURL != "")
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)
	fs.StringVar(&cfg.ConfigPath, "config", "", "YAML config file (default: ./docquery.yaml, then the user config dir)")
	fs.StringVar(&cfg.SaveConfig, "save-config", "", "Write the effective config to this path")
	fs.StringVar(&cfg.Path, "path", "", "Corpus file or directory (.json, .jsonl, .txt, .md)")
	fs.StringVar(&cfg.Query, "query", "", "Question; use 'matching text // question' to retrieve on different text")
	fs.StringVar(&cfg.Task, "task", cfg.Task, "query or search")
	fs.StringVar(&cfg.OutPath, "out", "", "Optional JSON report path")
	fs.BoolVar(&cfg.Pretty, "pretty", false, "Pretty-print the JSON report")
	fs.StringVar(&cfg.APIKey, "api-key", "", "OpenAI API key (overrides OPENAI_API_KEY env var)")
	overrides := config.RegisterFlags(fs, config.CommonFlags|config.QueryFlags)

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	file, used, err := overrides.LoadWithOverrides(cfg.ConfigPath)
	if err != nil {
		return Config{}, err
	}
	cfg.File = file
	cfg.UsedConfig = used
	if cfg.Path != "" {
		cfg.Path = filepath.Clean(cfg.Path)
	}
	if cfg.OutPath != "" {
		cfg.OutPath = filepath.Clean(cfg.OutPath)
	}
	return cfg, nil
}
