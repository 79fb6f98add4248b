// Package retrieval holds the retrieval strategies and the fuser that merges them.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/theimaginaryfoundation/docquery/rag"
	"github.com/theimaginaryfoundation/docquery/rag/embed"
)

// Hit is one scored document.
type Hit struct {
	Doc   rag.Document
	Score float64
}

// preparer is implemented by embedders that need the corpus up front, such as TF-IDF.
type preparer interface {
	Prepare(corpus []string) error
}

// Index is an in-memory brute-force vector store. It is read-only once built.
type Index struct {
	embedder embed.Embedder
	docs     []rag.Document
	vectors  [][]float64
	byPrint  map[string]int
}

// NewIndex embeds every document. Vectors are normalised so a dot product is the
// cosine similarity.
func NewIndex(ctx context.Context, e embed.Embedder, docs []rag.Document) (*Index, error) {
	return buildIndex(ctx, e, docs, true)
}

// buildIndex skips corpus preparation when prepare is false, for secondary indexes
// that must share the primary index's vocabulary.
func buildIndex(ctx context.Context, e embed.Embedder, docs []rag.Document, prepare bool) (*Index, error) {
	if e == nil {
		return nil, errors.New("index: embedder is nil")
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("index: %w", rag.ErrEmptyCorpus)
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	if p, ok := e.(preparer); ok && prepare {
		if err := p.Prepare(texts); err != nil {
			return nil, fmt.Errorf("index: prepare %s: %w", e.Name(), err)
		}
	}
	vecs, err := e.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("index: embed %d documents: %w", len(docs), err)
	}
	if len(vecs) != len(docs) {
		return nil, fmt.Errorf("index: got %d vectors for %d documents", len(vecs), len(docs))
	}

	idx := &Index{
		embedder: e,
		docs:     append([]rag.Document(nil), docs...),
		vectors:  make([][]float64, len(vecs)),
		byPrint:  make(map[string]int, len(docs)),
	}
	for i, v := range vecs {
		idx.vectors[i] = embed.Normalize(append([]float64(nil), v...))
		fp := docs[i].Fingerprint
		if fp == "" {
			fp = rag.Fingerprint(docs[i].Content)
		}
		if _, ok := idx.byPrint[fp]; !ok {
			idx.byPrint[fp] = i
		}
	}
	return idx, nil
}

func (x *Index) Len() int { return len(x.docs) }

func (x *Index) Embedder() embed.Embedder { return x.embedder }

// EmbedQuery returns the normalised query vector.
func (x *Index) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	v, err := embed.EmbedOne(ctx, x.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return embed.Normalize(append([]float64(nil), v...)), nil
}

// Scores returns the similarity of vec to every document, in index order.
func (x *Index) Scores(vec []float64) []float64 {
	out := make([]float64, len(x.vectors))
	for i, v := range x.vectors {
		out[i] = embed.Dot(v, vec)
	}
	return out
}

// Search returns the k best documents with a score of at least threshold, best
// first. Ties keep index order.
func (x *Index) Search(vec []float64, k int, threshold float64) []Hit {
	scores := x.Scores(vec)
	order := argsortDesc(scores)
	var hits []Hit
	for _, i := range order {
		if k > 0 && len(hits) >= k {
			break
		}
		if scores[i] < threshold {
			break
		}
		hits = append(hits, Hit{Doc: x.docs[i], Score: scores[i]})
	}
	return hits
}

// Vector returns the stored vector for a document, if the index holds it.
func (x *Index) Vector(d rag.Document) ([]float64, bool) {
	fp := d.Fingerprint
	if fp == "" {
		fp = rag.Fingerprint(d.Content)
	}
	i, ok := x.byPrint[fp]
	if !ok {
		return nil, false
	}
	return x.vectors[i], true
}

func argsortDesc(vals []float64) []int {
	idxs := make([]int, len(vals))
	for i := range idxs {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(a, b int) bool { return vals[idxs[a]] > vals[idxs[b]] })
	return idxs
}

func docsOf(hits []Hit) []rag.Document {
	out := make([]rag.Document, len(hits))
	for i, h := range hits {
		out[i] = h.Doc
	}
	return out
}
