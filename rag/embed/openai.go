package embed

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	gopenai "github.com/sashabaranov/go-openai"

	"github.com/theimaginaryfoundation/docquery/rag/ledger"
)

const defaultBatchSize = 256

// OpenAI embeds through the official SDK. Usage is recorded under the embedding role
// when a ledger is attached.
type OpenAI struct {
	client    *openai.Client
	model     string
	batchSize int
	ledger    *ledger.Ledger
}

func NewOpenAI(client *openai.Client, model string, l *ledger.Ledger) *OpenAI {
	return &OpenAI{client: client, model: model, batchSize: defaultBatchSize, ledger: l}
}

func (e *OpenAI) Name() string { return "openai/" + e.model }

func (e *OpenAI) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if e.client == nil {
		return nil, errors.New("openai embedder: client is nil")
	}
	out := make([][]float64, 0, len(texts))
	for _, batch := range batches(texts, e.batchSize) {
		resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Model: openai.EmbeddingModel(e.model),
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: batch},
		})
		if err != nil {
			return nil, fmt.Errorf("openai embeddings: %w", err)
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(batch))
		}
		vecs := make([][]float64, len(batch))
		for _, d := range resp.Data {
			if d.Index < 0 || int(d.Index) >= len(vecs) {
				return nil, fmt.Errorf("openai embeddings: index %d out of range", d.Index)
			}
			vecs[d.Index] = Normalize(append([]float64(nil), d.Embedding...))
		}
		out = append(out, vecs...)
		if e.ledger != nil {
			e.ledger.Add(ledger.Embedding, ledger.StageEmbed, resp.Usage.PromptTokens, 0)
		}
	}
	return out, nil
}

// Compat embeds through any OpenAI-compatible server (ollama, vLLM, llama.cpp).
type Compat struct {
	client    *gopenai.Client
	model     string
	batchSize int
	ledger    *ledger.Ledger
}

func NewCompat(apiKey, baseURL, model string, l *ledger.Ledger) *Compat {
	cfg := gopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Compat{client: gopenai.NewClientWithConfig(cfg), model: model, batchSize: defaultBatchSize, ledger: l}
}

func (e *Compat) Name() string { return "compat/" + e.model }

func (e *Compat) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, 0, len(texts))
	for _, batch := range batches(texts, e.batchSize) {
		resp, err := e.client.CreateEmbeddings(ctx, gopenai.EmbeddingRequest{
			Model: gopenai.EmbeddingModel(e.model),
			Input: batch,
		})
		if err != nil {
			return nil, fmt.Errorf("compat embeddings: %w", err)
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("compat embeddings: got %d vectors for %d inputs", len(resp.Data), len(batch))
		}
		for _, d := range resp.Data {
			v := make([]float64, len(d.Embedding))
			for i, x := range d.Embedding {
				v[i] = float64(x)
			}
			out = append(out, Normalize(v))
		}
		if e.ledger != nil {
			e.ledger.Add(ledger.Embedding, ledger.StageEmbed, int64(resp.Usage.PromptTokens), 0)
		}
	}
	return out, nil
}
