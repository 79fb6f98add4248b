package retrieval

import (
	"context"

	"github.com/theimaginaryfoundation/docquery/rag"
)

// KNN ranks every document by similarity, rescales the top k scores to [0, 1] and
// keeps those above the relevancy threshold.
type KNN struct {
	index     *Index
	threshold float64
}

func NewKNN(index *Index, threshold float64) *KNN {
	return &KNN{index: index, threshold: threshold}
}

func (r *KNN) Retrieve(ctx context.Context, query string, k int) ([]rag.Document, error) {
	vec, err := r.index.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	scores := r.index.Scores(vec)
	order := argsortDesc(scores)
	if k > 0 && k < len(order) {
		order = order[:k]
	}
	return r.index.keepNormalized(order, scores, r.threshold), nil
}

// SVM trains a linear classifier separating the query (positive) from every document
// (negative) and ranks documents by decision value. Documents the classifier cannot
// separate from the query rank highest.
type SVM struct {
	index     *Index
	threshold float64
	// C is the regularisation strength; Epochs bounds training.
	C      float64
	Epochs int
}

func NewSVM(index *Index, threshold float64) *SVM {
	return &SVM{index: index, threshold: threshold, C: 0.1, Epochs: 200}
}

func (r *SVM) Retrieve(ctx context.Context, query string, k int) ([]rag.Document, error) {
	vec, err := r.index.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	docs := r.index.vectors
	w, b := trainLinearSVM(vec, docs, r.C, r.Epochs)

	scores := make([]float64, len(docs))
	for i, x := range docs {
		scores[i] = decision(w, b, x)
	}
	order := argsortDesc(scores)
	if k > 0 && k < len(order) {
		order = order[:k]
	}
	return r.index.keepNormalized(order, scores, r.threshold), nil
}

// keepNormalized min-max rescales the scores of order and keeps documents whose
// rescaled score is at least threshold. A single candidate is always kept.
func (x *Index) keepNormalized(order []int, scores []float64, threshold float64) []rag.Document {
	if len(order) == 0 {
		return nil
	}
	lo, hi := scores[order[0]], scores[order[0]]
	for _, i := range order {
		lo = min(lo, scores[i])
		hi = max(hi, scores[i])
	}
	span := hi - lo
	var out []rag.Document
	for _, i := range order {
		norm := 1.0
		if span > 0 {
			norm = (scores[i] - lo) / span
		}
		if norm >= threshold {
			out = append(out, x.docs[i])
		}
	}
	return out
}

// trainLinearSVM minimises the class-balanced L2-regularised hinge loss with full
// batch subgradient descent. It is deterministic for a given input.
func trainLinearSVM(positive []float64, negatives [][]float64, c float64, epochs int) ([]float64, float64) {
	dim := len(positive)
	w := make([]float64, dim)
	var b float64
	if len(negatives) == 0 || dim == 0 {
		return w, b
	}
	if c <= 0 {
		c = 0.1
	}
	if epochs <= 0 {
		epochs = 200
	}
	// Balanced weights: each class contributes half of the total loss.
	n := float64(len(negatives) + 1)
	posWeight := n / 2
	negWeight := n / (2 * float64(len(negatives)))

	grad := make([]float64, dim)
	for epoch := 1; epoch <= epochs; epoch++ {
		for j := range grad {
			grad[j] = w[j]
		}
		var gradB float64
		step := func(x []float64, y, weight float64) {
			if y*decision(w, b, x) >= 1 {
				return
			}
			for j := 0; j < dim && j < len(x); j++ {
				grad[j] -= c * weight * y * x[j]
			}
			gradB -= c * weight * y
		}
		step(positive, 1, posWeight)
		for _, x := range negatives {
			step(x, -1, negWeight)
		}
		lr := 1 / (1 + float64(epoch))
		for j := range w {
			w[j] -= lr * grad[j]
		}
		b -= lr * gradB
	}
	return w, b
}

func decision(w []float64, b float64, x []float64) float64 {
	n := min(len(w), len(x))
	s := b
	for i := 0; i < n; i++ {
		s += w[i] * x[i]
	}
	return s
}
