package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/theimaginaryfoundation/docquery/rag"
	"github.com/theimaginaryfoundation/docquery/rag/embed"
	"github.com/theimaginaryfoundation/docquery/rag/ledger"
	"github.com/theimaginaryfoundation/docquery/rag/provider"
)

// RedundancyThreshold is the cosine similarity above which a later passage is
// considered a copy of an earlier one.
const RedundancyThreshold = 0.999

type named struct {
	strategy  Strategy
	retriever rag.Retriever
}

// Fuser queries every enabled strategy and merges the results. It satisfies
// rag.Retriever.
type Fuser struct {
	index      *Index
	strategies []named
	logger     *slog.Logger
}

type Config struct {
	Strategies []Strategy
	// Relevancy is the score floor shared by every strategy.
	Relevancy   float64
	ChildTokens int
	// Model writes hypothetical passages; required only for hyde.
	Model  provider.Generator
	Ledger *ledger.Ledger
	Logger *slog.Logger
}

// New builds the index over docs and one retriever per strategy.
func New(ctx context.Context, e embed.Embedder, docs []rag.Document, cfg Config) (*Fuser, error) {
	if len(cfg.Strategies) == 0 {
		return nil, errors.New("retrieval: no strategy enabled")
	}
	index, err := NewIndex(ctx, e, docs)
	if err != nil {
		return nil, err
	}
	return NewFromIndex(ctx, index, cfg)
}

func NewFromIndex(ctx context.Context, index *Index, cfg Config) (*Fuser, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fuser{index: index, logger: logger}
	for _, s := range cfg.Strategies {
		var r rag.Retriever
		switch s {
		case StrategyDefault:
			r = NewSimilarity(index, cfg.Relevancy)
		case StrategyHyDE:
			if cfg.Model == nil {
				return nil, errors.New("retrieval: hyde needs a model")
			}
			r = NewHyDE(index, cfg.Model, cfg.Ledger, cfg.Relevancy)
		case StrategyKNN:
			r = NewKNN(index, cfg.Relevancy)
		case StrategySVM:
			r = NewSVM(index, cfg.Relevancy)
		case StrategyParent:
			p, err := NewParentDocument(ctx, index, cfg.ChildTokens, cfg.Relevancy)
			if err != nil {
				return nil, err
			}
			r = p
		default:
			return nil, fmt.Errorf("retrieval: unknown strategy %q", s)
		}
		f.strategies = append(f.strategies, named{strategy: s, retriever: r})
	}
	if len(f.strategies) == 0 {
		return nil, errors.New("retrieval: no strategy enabled")
	}
	return f, nil
}

func (f *Fuser) Strategies() []Strategy {
	out := make([]Strategy, len(f.strategies))
	for i, s := range f.strategies {
		out[i] = s.strategy
	}
	return out
}

// Retrieve runs the strategies concurrently and concatenates their results in
// strategy order. With several strategies near-identical passages are dropped,
// keeping the first occurrence.
func (f *Fuser) Retrieve(ctx context.Context, query string, k int) ([]rag.Document, error) {
	results := make([][]rag.Document, len(f.strategies))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range f.strategies {
		g.Go(func() error {
			docs, err := s.retriever.Retrieve(gctx, query, k)
			if err != nil {
				return fmt.Errorf("%s retriever: %w", s.strategy, err)
			}
			results[i] = docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []rag.Document
	for i, docs := range results {
		f.logger.Debug("retrieved", "strategy", f.strategies[i].strategy, "documents", len(docs))
		merged = append(merged, docs...)
	}
	if len(f.strategies) > 1 {
		var err error
		if merged, err = f.dropRedundant(ctx, merged); err != nil {
			return nil, err
		}
	}
	if len(merged) == 0 {
		return nil, fmt.Errorf("%w: query %q", rag.ErrNoDocumentsRetrieved, query)
	}
	return merged, nil
}

func (f *Fuser) dropRedundant(ctx context.Context, docs []rag.Document) ([]rag.Document, error) {
	vecs := make([][]float64, len(docs))
	var missing []int
	for i, d := range docs {
		if v, ok := f.index.Vector(d); ok {
			vecs[i] = v
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for j, i := range missing {
			texts[j] = docs[i].Content
		}
		embedded, err := f.index.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("redundancy filter: %w", err)
		}
		if len(embedded) != len(missing) {
			return nil, fmt.Errorf("redundancy filter: got %d vectors for %d passages", len(embedded), len(missing))
		}
		for j, i := range missing {
			vecs[i] = embed.Normalize(append([]float64(nil), embedded[j]...))
		}
	}

	var out []rag.Document
	var kept [][]float64
	for i, d := range docs {
		redundant := false
		for _, v := range kept {
			if embed.Dot(v, vecs[i]) > RedundancyThreshold {
				redundant = true
				break
			}
		}
		if redundant {
			continue
		}
		kept = append(kept, vecs[i])
		out = append(out, d)
	}
	if removed := len(docs) - len(out); removed > 0 {
		f.logger.Debug("dropped redundant passages", "removed", removed, "kept", len(out))
	}
	return out, nil
}
