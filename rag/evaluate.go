package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/theimaginaryfoundation/docquery/rag/evalcache"
	"github.com/theimaginaryfoundation/docquery/rag/ledger"
	"github.com/theimaginaryfoundation/docquery/rag/provider"
)

const (
	evalMaxTokens   = 2
	evalTemperature = 1.0
)

type EvaluatorConfig struct {
	// CheckNumber is how many judge samples each document gets.
	CheckNumber    int
	MaxConcurrency int
}

// Evaluator asks the judge model whether each retrieved document relates to the
// question. A nil cache disables caching.
type Evaluator struct {
	judge  provider.Generator
	cache  *evalcache.Cache
	ledger *ledger.Ledger
	logger *slog.Logger

	checks      int
	concurrency int
	calls       limiter
}

func NewEvaluator(judge provider.Generator, cache *evalcache.Cache, l *ledger.Ledger, logger *slog.Logger, cfg EvaluatorConfig) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CheckNumber <= 0 {
		cfg.CheckNumber = 1
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	caps := judge.Capabilities()
	if !caps.N && cfg.CheckNumber > 1 {
		logger.Warn("judge model does not support n, it will be called once per sample", "model", judge.Model(), "samples", cfg.CheckNumber)
	}
	if !caps.MaxTokens {
		logger.Warn("judge model does not support max_tokens, replies may be longer than one digit", "model", judge.Model())
	}
	return &Evaluator{
		judge:       judge,
		cache:       cache,
		ledger:      l,
		logger:      logger,
		checks:      cfg.CheckNumber,
		concurrency: cfg.MaxConcurrency,
		calls:       newLimiter(cfg.MaxConcurrency),
	}
}

type FilterResult struct {
	Kept     []Document
	Verdicts []Verdict
}

// Filter evaluates every document and keeps the relevant ones, in input order.
func (e *Evaluator) Filter(ctx context.Context, question string, docs []Document) (FilterResult, error) {
	if len(docs) == 0 {
		return FilterResult{}, fmt.Errorf("%w: nothing to evaluate for %q", ErrNoDocumentsRetrieved, question)
	}

	verdicts := make([]Verdict, len(docs))
	err := forEachConcurrent(ctx, e.concurrency, len(docs), func(ctx context.Context, i int) error {
		v, err := e.Evaluate(ctx, question, docs[i])
		if err != nil {
			return fmt.Errorf("evaluate document %s: %w", docs[i].HashKey(), err)
		}
		verdicts[i] = v
		return nil
	})
	if err != nil {
		return FilterResult{}, err
	}

	res := FilterResult{Verdicts: verdicts}
	for i, v := range verdicts {
		if !v.Numeric {
			e.logger.Warn("non numeric judge votes, keeping document", "document", docs[i].HashKey(), "votes", v.Votes)
		}
		if v.Relevant {
			res.Kept = append(res.Kept, docs[i])
		}
	}
	if len(res.Kept) == 0 {
		return res, fmt.Errorf("%w: question %q, %d documents rejected", ErrNoDocumentsAfterLLMEvalFiltering, question, len(docs))
	}
	return res, nil
}

// Evaluate returns the verdict for one document, consulting the cache first.
func (e *Evaluator) Evaluate(ctx context.Context, question string, doc Document) (Verdict, error) {
	if e.cache == nil {
		votes, err := e.sample(ctx, question, doc)
		if err != nil {
			return Verdict{}, err
		}
		return AggregateVotes(votes), nil
	}

	key := evalcache.Key(question, doc.Content, e.judge.Model(), e.checks)
	votes, hit, err := e.cache.GetOrCompute(ctx, key, func(ctx context.Context) ([]string, error) {
		return e.sample(ctx, question, doc)
	})
	if err != nil {
		return Verdict{}, err
	}
	v := AggregateVotes(votes)
	v.Cached = hit
	return v, nil
}

func (e *Evaluator) sample(ctx context.Context, question string, doc Document) ([]string, error) {
	system, user := evaluateDocMessages(question, doc.Content)
	req := provider.Request{
		Messages:    []provider.Message{provider.System(system), provider.User(user)},
		Temperature: provider.Float(evalTemperature),
	}
	caps := e.judge.Capabilities()
	if caps.MaxTokens {
		req.MaxTokens = evalMaxTokens
	}

	var outputs []string
	if caps.N || e.checks == 1 {
		if e.checks > 1 {
			req.N = e.checks
		}
		gen, err := e.generate(ctx, req)
		if err != nil {
			return nil, err
		}
		outputs = gen.Texts
	} else {
		outputs = make([]string, e.checks)
		err := forEachConcurrent(ctx, e.checks, e.checks, func(ctx context.Context, i int) error {
			gen, err := e.generate(ctx, req)
			if err != nil {
				return err
			}
			if len(gen.Texts) != 1 {
				return fmt.Errorf("%w: judge returned %d completions for a single sample", ErrContractViolation, len(gen.Texts))
			}
			outputs[i] = gen.Texts[0]
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if len(outputs) != e.checks {
		return nil, fmt.Errorf("%w: judge produced %d outputs, want %d", ErrContractViolation, len(outputs), e.checks)
	}
	votes := make([]string, len(outputs))
	for i, o := range outputs {
		v, err := ParseEvalOutput(o)
		if err != nil {
			return nil, err
		}
		votes[i] = v
	}
	return votes, nil
}

func (e *Evaluator) generate(ctx context.Context, req provider.Request) (provider.Generation, error) {
	if err := e.calls.acquire(ctx); err != nil {
		return provider.Generation{}, err
	}
	gen, err := e.judge.Generate(ctx, req)
	e.calls.release()
	if err != nil {
		return provider.Generation{}, fmt.Errorf("judge %s: %w", e.judge.Model(), err)
	}
	if e.ledger != nil {
		e.ledger.Add(ledger.Judge, ledger.StageEvaluate, gen.PromptTokens, gen.CompletionTokens)
	}
	if len(gen.Texts) == 0 {
		return gen, fmt.Errorf("%w: judge returned no completions", ErrContractViolation)
	}
	for _, r := range gen.FinishReasons {
		if r != provider.FinishStop {
			return gen, fmt.Errorf("%w: unexpected finish reason %q", ErrContractViolation, r)
		}
	}
	if len(gen.FinishReasons) != len(gen.Texts) {
		return gen, fmt.Errorf("%w: %d finish reasons for %d completions", ErrContractViolation, len(gen.FinishReasons), len(gen.Texts))
	}
	return gen, nil
}
