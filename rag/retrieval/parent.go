package retrieval

import (
	"context"
	"fmt"

	"github.com/theimaginaryfoundation/docquery/rag"
	"github.com/theimaginaryfoundation/docquery/rag/chunker"
)

// DefaultChildTokens is the size of the child passages the parent strategy matches on.
const DefaultChildTokens = 100

const parentIndexField = "parent_index"

// ParentDocument matches the query against small child passages and returns the
// full documents they were cut from.
type ParentDocument struct {
	parents   []rag.Document
	children  *Index
	threshold float64
}

// NewParentDocument splits every document of index into children and embeds them with
// the index's embedder.
func NewParentDocument(ctx context.Context, index *Index, childTokens int, threshold float64) (*ParentDocument, error) {
	if childTokens <= 0 {
		childTokens = DefaultChildTokens
	}
	splitter := chunker.New(childTokens)

	var children []rag.Document
	for i, parent := range index.docs {
		for _, piece := range splitter.Split(parent.Content) {
			meta := map[string]any{parentIndexField: i}
			if src := parent.Source(); src != "" {
				meta["path"] = src
			}
			children = append(children, rag.NewDocument(piece, meta))
		}
	}
	if len(children) == 0 {
		return nil, fmt.Errorf("parent retriever: %w: no child passages", rag.ErrEmptyCorpus)
	}
	childIndex, err := buildIndex(ctx, index.embedder, children, false)
	if err != nil {
		return nil, fmt.Errorf("parent retriever: %w", err)
	}
	return &ParentDocument{parents: index.docs, children: childIndex, threshold: threshold}, nil
}

func (p *ParentDocument) Retrieve(ctx context.Context, query string, k int) ([]rag.Document, error) {
	vec, err := p.children.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	var out []rag.Document
	seen := make(map[int]struct{})
	for _, hit := range p.children.Search(vec, 0, p.threshold) {
		i, ok := hit.Doc.Metadata[parentIndexField].(int)
		if !ok {
			continue
		}
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, p.parents[i])
		if k > 0 && len(out) >= k {
			break
		}
	}
	return out, nil
}
