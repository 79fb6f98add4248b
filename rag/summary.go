package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/theimaginaryfoundation/docquery/rag/chunker"
	"github.com/theimaginaryfoundation/docquery/rag/ledger"
	"github.com/theimaginaryfoundation/docquery/rag/provider"
)

const progressPlaceholder = "[PROGRESS]"

// SummaryItem is one logical source to summarise, already split into chunks.
type SummaryItem struct {
	Source string
	Title  string
	Author string
	// SourceMinutes is the reading time of the original; computed from Chunks when 0.
	SourceMinutes float64
	Chunks        []string
}

// Header renders the metadata block sent with every chunk. The section number is
// left as a placeholder and filled per chunk.
func (it SummaryItem) Header() string {
	title := it.Title
	if title == "" {
		title = it.Source
	}
	var meta []string
	if title != "" {
		meta = append(meta, fmt.Sprintf("Title: '%s'", strings.TrimSpace(title)))
	}
	if it.SourceMinutes > 0 {
		meta = append(meta, fmt.Sprintf("Reading length: %.1f minutes", it.SourceMinutes))
	}
	if it.Author != "" {
		meta = append(meta, fmt.Sprintf("Author: '%s'", strings.TrimSpace(it.Author)))
	}
	if len(meta) == 0 {
		return ""
	}
	return "- Text metadata:\n    - " + strings.Join(meta, "\n    - ") + "\n    - Section number: " + progressPlaceholder + "\n"
}

// SummaryState is the summary at one recursion depth, kept as raw per-chunk text.
// Markers only appear in Markdown.
type SummaryState struct {
	Depth  int
	Header string
	Chunks []string
}

// Body is the summary without any markers.
func (s SummaryState) Body() string { return strings.Join(s.Chunks, "\n") }

func (s SummaryState) Markdown() string {
	n := len(s.Chunks)
	if n <= 1 {
		return s.Body()
	}
	var b strings.Builder
	for i, c := range s.Chunks {
		if i > 0 {
			b.WriteString(chunkSeparator + "\n")
		}
		b.WriteString(chunkMarkerLine(i+1, n) + "\n")
		b.WriteString(strings.TrimRight(c, "\n") + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Checkpoint lets a rerun pick up depths that were already produced.
type Checkpoint interface {
	Load(depth int) (markdown string, ok bool, err error)
	Save(depth int, markdown string) error
}

type SummaryResult struct {
	States         map[int]SummaryState
	Depth          int
	Usage          ledger.Usage
	SourceMinutes  float64
	SummaryMinutes float64
	// Resumed lists depths loaded from the checkpoint instead of generated.
	Resumed []int
}

// Summaries maps each depth reached to its rendered markdown.
func (r SummaryResult) Summaries() map[int]string {
	out := make(map[int]string, len(r.States))
	for d, s := range r.States {
		out[d] = s.Markdown()
	}
	return out
}

func (r SummaryResult) Final() SummaryState { return r.States[r.Depth] }

// WithHistory renders the final summary followed by every earlier depth, each
// introduced by a before-recursion line.
func (r SummaryResult) WithHistory() string {
	var b strings.Builder
	b.WriteString(r.Final().Markdown())
	for d := r.Depth - 1; d >= 0; d-- {
		b.WriteString("\n" + beforeRecursionLine(d) + "\n")
		b.WriteString(r.States[d].Markdown())
	}
	return b.String()
}

type SummarizerConfig struct {
	Language    string
	Recursion   int
	ChunkTokens int
}

type Summarizer struct {
	model      provider.Generator
	ledger     *ledger.Ledger
	logger     *slog.Logger
	splitter   *chunker.Splitter
	language   string
	recursion  int
	checkpoint Checkpoint
}

func NewSummarizer(model provider.Generator, l *ledger.Ledger, logger *slog.Logger, cp Checkpoint, cfg SummarizerConfig) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Language == "" {
		cfg.Language = "the same language as the text"
	}
	return &Summarizer{
		model:      model,
		ledger:     l,
		logger:     logger,
		splitter:   chunker.New(cfg.ChunkTokens),
		language:   cfg.Language,
		recursion:  cfg.Recursion,
		checkpoint: cp,
	}
}

// Summarize runs the base pass then up to the configured number of recursive passes.
// Recursion stops early once the cleaned summary fits in one chunk.
func (s *Summarizer) Summarize(ctx context.Context, item SummaryItem) (SummaryResult, error) {
	if len(item.Chunks) == 0 {
		return SummaryResult{}, fmt.Errorf("summarize %q: %w", item.Source, ErrEmptyCorpus)
	}
	if item.SourceMinutes <= 0 {
		item.SourceMinutes = ReadingTime(strings.Join(item.Chunks, "\n"))
	}
	header := item.Header()

	res := SummaryResult{States: make(map[int]SummaryState), SourceMinutes: item.SourceMinutes}
	base, err := s.depth(ctx, &res, 0, item.Chunks, header)
	if err != nil {
		return res, err
	}
	current := base

	for d := 1; d <= s.recursion; d++ {
		cleaned := StripMarkers(current.Body())
		mustBeClean(cleaned)
		chunks := s.splitter.Split(cleaned)
		if len(chunks) <= 1 {
			s.logger.Info("summary fits in one chunk, stopping recursion", "source", item.Source, "depth", current.Depth)
			break
		}
		next, err := s.depth(ctx, &res, d, chunks, header)
		if err != nil {
			return res, err
		}
		current = next
	}

	res.Depth = current.Depth
	res.SummaryMinutes = ReadingTime(StripMarkers(current.Body()))
	return res, nil
}

func (s *Summarizer) depth(ctx context.Context, res *SummaryResult, depth int, chunks []string, header string) (SummaryState, error) {
	if s.checkpoint != nil {
		md, ok, err := s.checkpoint.Load(depth)
		if err != nil {
			return SummaryState{}, fmt.Errorf("load depth %d: %w", depth, err)
		}
		if ok {
			if parsed := ParseSummaryMarkdown(md); len(parsed) > 0 {
				st := SummaryState{Depth: depth, Header: header, Chunks: parsed}
				res.States[depth] = st
				res.Resumed = append(res.Resumed, depth)
				return st, nil
			}
		}
	}

	st, usage, err := s.pass(ctx, depth, chunks, header)
	res.Usage.PromptTokens += usage.PromptTokens
	res.Usage.CompletionTokens += usage.CompletionTokens
	res.Usage.Cost += usage.Cost
	if err != nil {
		return SummaryState{}, err
	}
	res.States[depth] = st
	if s.checkpoint != nil {
		if err := s.checkpoint.Save(depth, st.Markdown()); err != nil {
			return SummaryState{}, fmt.Errorf("save depth %d: %w", depth, err)
		}
	}
	return st, nil
}

// pass summarises chunks in order, handing each call the previous chunk's summary.
func (s *Summarizer) pass(ctx context.Context, depth int, chunks []string, header string) (SummaryState, ledger.Usage, error) {
	system := summarySystemPrompt(s.language, depth > 0)
	var usage ledger.Usage
	var price ledger.Price
	if s.ledger != nil {
		price = s.ledger.Price(ledger.Primary)
	}

	st := SummaryState{Depth: depth, Header: header, Chunks: make([]string, 0, len(chunks))}
	previous := ""
	for i, chunk := range chunks {
		meta := strings.ReplaceAll(header, progressPlaceholder, fmt.Sprintf("%d/%d", i+1, len(chunks)))
		gen, err := s.model.Generate(ctx, provider.Request{
			Messages: []provider.Message{
				provider.System(system),
				provider.User(summaryUserPrompt(meta, previous, chunk)),
			},
		})
		if err != nil {
			return st, usage, fmt.Errorf("summarize depth %d chunk %d/%d: %w", depth, i+1, len(chunks), err)
		}
		usage.PromptTokens += gen.PromptTokens
		usage.CompletionTokens += gen.CompletionTokens
		usage.Cost += price.Cost(gen.PromptTokens, gen.CompletionTokens)
		if s.ledger != nil {
			s.ledger.Add(ledger.Primary, ledger.StageSummarize, gen.PromptTokens, gen.CompletionTokens)
		}
		if len(gen.FinishReasons) > 0 && gen.FinishReasons[0] != provider.FinishStop {
			s.logger.Warn("summary chunk did not finish cleanly", "depth", depth, "chunk", i+1, "finish_reason", gen.FinishReasons[0])
		}

		text := strings.TrimRight(gen.Text(), " \n\t")
		if strings.TrimSpace(text) == "" {
			return st, usage, fmt.Errorf("%w: empty summary for depth %d chunk %d/%d", ErrContractViolation, depth, i+1, len(chunks))
		}
		st.Chunks = append(st.Chunks, text)
		previous = text
	}
	return st, usage, nil
}
