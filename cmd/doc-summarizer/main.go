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
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"

	"github.com/theimaginaryfoundation/docquery/rag"
	"github.com/theimaginaryfoundation/docquery/rag/chunker"
	"github.com/theimaginaryfoundation/docquery/rag/config"
	"github.com/theimaginaryfoundation/docquery/rag/corpus"
	"github.com/theimaginaryfoundation/docquery/rag/ledger"
	"github.com/theimaginaryfoundation/docquery/rag/provider"
	"github.com/theimaginaryfoundation/docquery/rag/render"
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

	level := slog.LevelInfo
	if cfg.File.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" && !cfg.File.Primary.Overridden() {
		fmt.Fprintln(os.Stderr, "missing OPENAI_API_KEY (or pass -api-key)")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Summaries never consult the verdict cache.
	f := *cfg.File
	f.Cache.Disabled = true
	l := ledger.New(f.Prices())
	backends, err := f.Open(apiKey, l)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	err = run(ctx, cfg, backends.Primary, l, logger, os.Stdout, os.Stderr)
	backends.CheckConsistency(l, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// run summarises every source of the corpus in path order.
func run(ctx context.Context, cfg Config, model provider.Generator, l *ledger.Ledger, logger *slog.Logger, stdout, stderr io.Writer) error {
	f := cfg.File
	docs, err := corpus.Load(ctx, cfg.Path, corpus.Options{ArrayField: f.Corpus.ArrayField, ChunkTokens: f.Corpus.ChunkTokens})
	if err != nil {
		return err
	}
	dd, err := rag.Deduplicate(docs)
	if err != nil {
		return err
	}
	items := groupBySource(dd.Documents, cfg.Author, f.Summary.ChunkTokens)

	r := render.New(lipgloss.NewRenderer(stdout), 0)
	var tokens int64
	for _, it := range items {
		for _, c := range it.Chunks {
			tokens += int64(chunker.EstimateTokens(c))
		}
	}
	estimate := ledger.EstimateSummaryCost(tokens, f.Primary.Price, f.Summary.Recursion)
	fmt.Fprint(stderr, r.Estimate(fmt.Sprintf("summary of %d sources", len(items)), tokens, estimate, f.Budget))
	if err := ledger.CheckBudget(logger, estimate, f.Budget, f.Primary.Overridden()); err != nil {
		return err
	}

	var paths map[string]string
	if cfg.OutDir != "" {
		sources := make([]string, len(items))
		for i, it := range items {
			sources[i] = it.Source
		}
		paths = outputPaths(cfg.OutDir, sources)
	}

	start := time.Now()
	var total ledger.Usage
	var savedMinutes float64
	for i, it := range items {
		var cp rag.Checkpoint
		if paths != nil {
			cp = fileCheckpoint{outPath: paths[it.Source]}
		}
		s := rag.NewSummarizer(model, l, logger, cp, rag.SummarizerConfig{
			Language:    f.Summary.Language,
			Recursion:   f.Summary.Recursion,
			ChunkTokens: f.Summary.ChunkTokens,
		})
		res, err := s.Summarize(ctx, it)
		if err != nil {
			return fmt.Errorf("summarize %s: %w", it.Source, err)
		}
		if len(res.Resumed) > 0 {
			logger.Info("resumed from existing depth files", "source", it.Source, "depths", res.Resumed)
		}
		total.PromptTokens += res.Usage.PromptTokens
		total.CompletionTokens += res.Usage.CompletionTokens
		total.Cost += res.Usage.Cost
		savedMinutes += res.SourceMinutes

		fmt.Fprint(stdout, r.Summary(it.Source, res, cfg.History))
		if paths != nil {
			h := headerInfo{
				Name:      it.Title,
				Source:    it.Source,
				Author:    it.Author,
				Model:     model.Model(),
				Backend:   f.Primary.Backend,
				RunID:     l.RunID(),
				Recursion: f.Summary.Recursion,
			}
			if err := writeOutput(paths[it.Source], h, res, cfg.History); err != nil {
				return fmt.Errorf("write summary of %s: %w", it.Source, err)
			}
		}
		fmt.Fprintf(stderr, "progress doc-summarizer: %d/%d sources summarized (last=%s elapsed=%s)\n",
			i+1, len(items), it.Source, time.Since(start).Round(time.Second))
	}

	fmt.Fprintf(stdout, "Total cost of those summaries: '%d' ($%.5f, estimate was $%.5f)\n", total.TotalTokens(), total.Cost, estimate)
	fmt.Fprintf(stdout, "Total time saved by those summaries: %.1f minutes\n", savedMinutes)
	return nil
}

// groupBySource joins the documents of each source, in first-seen order, and cuts
// the text into summary chunks.
func groupBySource(docs []rag.Document, author string, chunkTokens int) []rag.SummaryItem {
	var order []string
	bySource := make(map[string][]rag.Document)
	for _, d := range docs {
		src := d.Source()
		if src == "" {
			src = "document " + d.HashKey()
		}
		if _, ok := bySource[src]; !ok {
			order = append(order, src)
		}
		bySource[src] = append(bySource[src], d)
	}

	splitter := chunker.New(chunkTokens)
	items := make([]rag.SummaryItem, 0, len(order))
	for _, src := range order {
		group := bySource[src]
		texts := make([]string, len(group))
		for i, d := range group {
			texts[i] = d.Content
		}
		text := strings.Join(texts, "\n")
		it := rag.SummaryItem{
			Source:        src,
			Title:         group[0].Title(),
			Author:        group[0].Author(),
			SourceMinutes: rag.ReadingTime(text),
			Chunks:        splitter.Split(text),
		}
		if author != "" {
			it.Author = author
		}
		if it.Title == "" {
			it.Title = filepath.Base(src)
		}
		items = append(items, it)
	}
	return items
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)
	fs.StringVar(&cfg.ConfigPath, "config", "", "YAML config file (default: ./docquery.yaml, then the user config dir)")
	fs.StringVar(&cfg.Path, "path", "", "Corpus file or directory (.json, .jsonl, .txt, .md)")
	fs.StringVar(&cfg.OutDir, "out-dir", "", "Directory for <name>.summary.md files and per-depth checkpoints (empty prints only)")
	fs.StringVar(&cfg.Author, "author", "", "Author name for every source (overrides document metadata)")
	fs.BoolVar(&cfg.History, "history", false, "Append every earlier recursion depth after the final summary")
	fs.StringVar(&cfg.APIKey, "api-key", "", "OpenAI API key (overrides OPENAI_API_KEY env var)")
	overrides := config.RegisterFlags(fs, config.CommonFlags|config.SummaryFlags)

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
	if cfg.OutDir != "" {
		cfg.OutDir = filepath.Clean(cfg.OutDir)
	}
	return cfg, nil
}
