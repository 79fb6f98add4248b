package rag

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/theimaginaryfoundation/docquery/rag/ledger"
	"github.com/theimaginaryfoundation/docquery/rag/provider"
)

const (
	// ReductionBatchSize is the most answers one combine call receives.
	ReductionBatchSize = 5

	answerMaxTokens  = 1000
	combineMaxTokens = 2000
)

var irrelevantWord = regexp.MustCompile(`\b` + IrrelevantSentinel + `\b`)

type IntermediateAnswer struct {
	Document Document `json:"document"`
	Text     string   `json:"text"`
	Relevant bool     `json:"relevant"`
}

// CheckIntermediateAnswer reports whether an answer is worth combining. Short answers
// count only without the sentinel word; answers of at least twice the sentinel's
// length in characters always count, even if they mention it.
func CheckIntermediateAnswer(ans string) bool {
	limit := utf8.RuneCountInString(IrrelevantSentinel) * 2
	n := utf8.RuneCountInString(ans)
	if !irrelevantWord.MatchString(ans) && n < limit {
		return true
	}
	return n >= limit
}

func usableAnswers(in []string) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		if CheckIntermediateAnswer(a) {
			out = append(out, a)
		}
	}
	return out
}

type ReducerConfig struct {
	MaxConcurrency int
	BatchSize      int
}

// Reducer answers the question once per document with the primary model and folds
// the answers into one.
type Reducer struct {
	primary provider.Generator
	ledger  *ledger.Ledger
	logger  *slog.Logger

	concurrency int
	batchSize   int
	calls       limiter
}

func NewReducer(primary provider.Generator, l *ledger.Ledger, logger *slog.Logger, cfg ReducerConfig) *Reducer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.BatchSize <= 1 {
		cfg.BatchSize = ReductionBatchSize
	}
	return &Reducer{
		primary:     primary,
		ledger:      l,
		logger:      logger,
		concurrency: cfg.MaxConcurrency,
		batchSize:   cfg.BatchSize,
		calls:       newLimiter(cfg.MaxConcurrency),
	}
}

// AnswerEach produces one answer per document, in document order.
func (r *Reducer) AnswerEach(ctx context.Context, question string, docs []Document) ([]IntermediateAnswer, error) {
	out := make([]IntermediateAnswer, len(docs))
	err := forEachConcurrent(ctx, r.concurrency, len(docs), func(ctx context.Context, i int) error {
		text, err := r.call(ctx, ledger.StageAnswer, answerOneDocPrompt(question, docs[i].Content), answerMaxTokens)
		if err != nil {
			return fmt.Errorf("answer document %s: %w", docs[i].HashKey(), err)
		}
		out[i] = IntermediateAnswer{
			Document: docs[i],
			Text:     text,
			Relevant: strings.TrimSpace(text) != IrrelevantSentinel,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Reduce combines answers batch by batch until at most one batch remains, then makes
// the final combine call. levels[0] is the input; each later level is the output of
// one round of batch reduction.
func (r *Reducer) Reduce(ctx context.Context, question string, answers []string) (final string, levels [][]string, err error) {
	levels = [][]string{answers}
	current := usableAnswers(answers)
	for len(current) > r.batchSize {
		batches := chunkWindows(current, r.batchSize)
		reduced := make([]string, len(batches))
		err := forEachConcurrent(ctx, r.concurrency, len(batches), func(ctx context.Context, i int) error {
			out, err := r.combine(ctx, question, batches[i])
			if err != nil {
				return fmt.Errorf("reduce batch %d/%d: %w", i+1, len(batches), err)
			}
			reduced[i] = out
			return nil
		})
		if err != nil {
			return "", levels, err
		}
		r.logger.Debug("reduced intermediate answers", "in", len(current), "batches", len(batches))
		levels = append(levels, reduced)
		current = usableAnswers(reduced)
	}

	if len(current) == 0 {
		r.logger.Warn("no usable intermediate answers, the final answer relies on the model's own knowledge")
	}
	final, err = r.combine(ctx, question, current)
	if err != nil {
		return "", levels, fmt.Errorf("final reduction: %w", err)
	}
	return final, levels, nil
}

func (r *Reducer) combine(ctx context.Context, question string, statements []string) (string, error) {
	return r.call(ctx, ledger.StageReduce, combineAnswersPrompt(question, statements), combineMaxTokens)
}

func (r *Reducer) call(ctx context.Context, stage ledger.Stage, prompt string, maxTokens int) (string, error) {
	if err := r.calls.acquire(ctx); err != nil {
		return "", err
	}
	gen, err := r.primary.Generate(ctx, provider.Request{
		Messages:  []provider.Message{provider.User(prompt)},
		MaxTokens: maxTokens,
	})
	r.calls.release()
	if err != nil {
		return "", fmt.Errorf("primary %s: %w", r.primary.Model(), err)
	}
	if r.ledger != nil {
		r.ledger.Add(ledger.Primary, stage, gen.PromptTokens, gen.CompletionTokens)
	}
	if len(gen.Texts) != 1 {
		return "", fmt.Errorf("%w: primary returned %d completions", ErrContractViolation, len(gen.Texts))
	}
	return strings.TrimSpace(gen.Texts[0]), nil
}
