package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/theimaginaryfoundation/docquery/rag"
	"github.com/theimaginaryfoundation/docquery/rag/fileutils"
	"github.com/theimaginaryfoundation/docquery/rag/ledger"
	"github.com/theimaginaryfoundation/docquery/rag/provider"
)

// DefaultRelevancy is the similarity floor used when none is configured.
const DefaultRelevancy = 0.1

// Similarity is plain cosine search with a score floor.
type Similarity struct {
	index     *Index
	threshold float64
}

func NewSimilarity(index *Index, threshold float64) *Similarity {
	return &Similarity{index: index, threshold: threshold}
}

func (s *Similarity) Retrieve(ctx context.Context, query string, k int) ([]rag.Document, error) {
	vec, err := s.index.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return docsOf(s.index.Search(vec, k, s.threshold)), nil
}

const hydeInstructions = "You write the passage that would best answer a question, as if quoted from a document on the topic. " +
	"Write it in the language of the question. Do not mention the question and do not add commentary. " +
	`Reply with a JSON object of the form {"passage": "..."} and nothing else.`

type hydePassage struct {
	Passage string `json:"passage" jsonschema:"description=A short passage that would answer the question"`
}

// HyDE embeds a hypothetical answer written by the primary model instead of the query.
type HyDE struct {
	index     *Index
	model     provider.Generator
	ledger    *ledger.Ledger
	threshold float64
	schema    *provider.Schema
}

func NewHyDE(index *Index, model provider.Generator, l *ledger.Ledger, threshold float64) *HyDE {
	return &HyDE{
		index:     index,
		model:     model,
		ledger:    l,
		threshold: threshold,
		schema:    provider.SchemaFor[hydePassage]("hypothetical_passage", "A passage answering the question"),
	}
}

func (h *HyDE) Retrieve(ctx context.Context, query string, k int) ([]rag.Document, error) {
	passage, err := h.passage(ctx, query)
	if err != nil {
		return nil, err
	}
	vec, err := h.index.EmbedQuery(ctx, passage)
	if err != nil {
		return nil, err
	}
	return docsOf(h.index.Search(vec, k, h.threshold)), nil
}

func (h *HyDE) passage(ctx context.Context, query string) (string, error) {
	gen, err := h.model.Generate(ctx, provider.Request{
		Messages: []provider.Message{
			provider.System(hydeInstructions),
			provider.User("Question: " + query),
		},
		Schema: h.schema,
	})
	if err != nil {
		return "", fmt.Errorf("hyde: %w", err)
	}
	if h.ledger != nil {
		h.ledger.Add(ledger.Primary, ledger.StageHyDE, gen.PromptTokens, gen.CompletionTokens)
	}
	var out hydePassage
	if err := fileutils.DecodeModelJSON(gen.Text(), &out); err != nil {
		return "", fmt.Errorf("hyde: decode passage: %w", err)
	}
	out.Passage = strings.TrimSpace(out.Passage)
	if out.Passage == "" {
		return "", fmt.Errorf("hyde: %w: empty passage", rag.ErrContractViolation)
	}
	return out.Passage, nil
}
