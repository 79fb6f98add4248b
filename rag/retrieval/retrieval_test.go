package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/theimaginaryfoundation/docquery/rag"
	"github.com/theimaginaryfoundation/docquery/rag/embed"
	"github.com/theimaginaryfoundation/docquery/rag/ledger"
	"github.com/theimaginaryfoundation/docquery/rag/provider"
)

type cannedModel struct {
	text  string
	calls int
	last  provider.Request
}

func (m *cannedModel) Generate(_ context.Context, req provider.Request) (provider.Generation, error) {
	m.calls++
	m.last = req
	return provider.Generation{Texts: []string{m.text}, FinishReasons: []string{provider.FinishStop}, PromptTokens: 7, CompletionTokens: 3}, nil
}
func (m *cannedModel) Capabilities() provider.Capabilities { return provider.Capabilities{} }
func (m *cannedModel) Model() string                       { return "canned" }

func corpus() []rag.Document {
	return []rag.Document{
		rag.NewDocument("cats purr and sleep all day", map[string]any{"path": "cats.md"}),
		rag.NewDocument("dogs bark loudly at strangers", map[string]any{"path": "dogs.md"}),
		rag.NewDocument("taxes are filed every april", map[string]any{"path": "tax.md"}),
	}
}

func testIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := NewIndex(context.Background(), embed.NewTFIDF(), corpus())
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	return idx
}

func contents(docs []rag.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Content
	}
	return out
}

func TestParseStrategies(t *testing.T) {
	t.Parallel()

	got, err := ParseStrategies("default_KNN_default_svm")
	if err != nil {
		t.Fatalf("ParseStrategies: %v", err)
	}
	if !slices.Equal(got, []Strategy{StrategyDefault, StrategyKNN, StrategySVM}) {
		t.Fatalf("got=%v", got)
	}
	for _, bad := range []string{"", "bm25", "default__knn", "hyde_"} {
		if _, err := ParseStrategies(bad); err == nil {
			t.Fatalf("ParseStrategies(%q) should fail", bad)
		}
	}
}

func TestSimilarity_RanksAndThresholds(t *testing.T) {
	t.Parallel()

	idx := testIndex(t)
	docs, err := NewSimilarity(idx, DefaultRelevancy).Retrieve(context.Background(), "why do cats sleep", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(docs) != 1 || docs[0].Content != corpus()[0].Content {
		t.Fatalf("docs=%v", contents(docs))
	}

	all, err := NewSimilarity(idx, -1).Retrieve(context.Background(), "cats", 2)
	if err != nil || len(all) != 2 {
		t.Fatalf("k=2 docs=%v err=%v", contents(all), err)
	}
}

func TestKNN_KeepsNormalisedTop(t *testing.T) {
	t.Parallel()

	idx := testIndex(t)
	docs, err := NewKNN(idx, 1).Retrieve(context.Background(), "dogs bark", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(docs) != 1 || docs[0].Source() != "dogs.md" {
		t.Fatalf("docs=%v", contents(docs))
	}

	docs, _ = NewKNN(idx, 0).Retrieve(context.Background(), "dogs bark", 2)
	if len(docs) != 2 {
		t.Fatalf("threshold 0 docs=%v", contents(docs))
	}
}

func TestSVM_RanksClosestDocumentFirst(t *testing.T) {
	t.Parallel()

	idx := testIndex(t)
	docs, err := NewSVM(idx, 0).Retrieve(context.Background(), "taxes filed", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(docs) == 0 || docs[0].Source() != "tax.md" {
		t.Fatalf("docs=%v", contents(docs))
	}
	top, _ := NewSVM(idx, 1).Retrieve(context.Background(), "taxes filed", 3)
	if len(top) != 1 || top[0].Source() != "tax.md" {
		t.Fatalf("top=%v", contents(top))
	}
}

func TestTrainLinearSVM_Deterministic(t *testing.T) {
	t.Parallel()

	pos := []float64{1, 0}
	neg := [][]float64{{0.9, 0.1}, {0, 1}}
	w1, b1 := trainLinearSVM(pos, neg, 0.1, 50)
	w2, b2 := trainLinearSVM(pos, neg, 0.1, 50)
	if !slices.Equal(w1, w2) || b1 != b2 {
		t.Fatalf("training is not deterministic")
	}
	if decision(w1, b1, neg[0]) <= decision(w1, b1, neg[1]) {
		t.Fatalf("closer negative should score higher")
	}
}

func TestParentDocument_ReturnsWholeParentOnce(t *testing.T) {
	t.Parallel()

	docs := []rag.Document{
		rag.NewDocument("cats purr\ndogs bark\ndogs fetch\nbirds sing", map[string]any{"path": "animals.md"}),
		rag.NewDocument("taxes are due\nforms pile up", map[string]any{"path": "tax.md"}),
	}
	idx, err := NewIndex(context.Background(), embed.NewTFIDF(), docs)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	p, err := NewParentDocument(context.Background(), idx, 3, DefaultRelevancy)
	if err != nil {
		t.Fatalf("NewParentDocument: %v", err)
	}
	got, err := p.Retrieve(context.Background(), "dogs", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 || got[0].Content != docs[0].Content {
		t.Fatalf("got=%v", contents(got))
	}
}

func TestHyDE_EmbedsHypotheticalPassage(t *testing.T) {
	t.Parallel()

	idx := testIndex(t)
	model := &cannedModel{text: `{"passage": "Strangers make dogs bark."}`}
	l := ledger.New(nil)
	docs, err := NewHyDE(idx, model, l, DefaultRelevancy).Retrieve(context.Background(), "what annoys my pet?", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(docs) != 1 || docs[0].Source() != "dogs.md" {
		t.Fatalf("docs=%v", contents(docs))
	}
	if model.last.Schema == nil || model.last.Schema.Name != "hypothetical_passage" {
		t.Fatalf("hyde request has no schema")
	}
	entries := l.Entries()
	if len(entries) != 1 || entries[0].Stage != ledger.StageHyDE || entries[0].Role != ledger.Primary {
		t.Fatalf("entries=%+v", entries)
	}

	bad := &cannedModel{text: "no json here"}
	if _, err := NewHyDE(idx, bad, nil, 0).Retrieve(context.Background(), "q", 3); err == nil {
		t.Fatalf("expected decode error")
	}
	empty := &cannedModel{text: `{"passage": "  "}`}
	if _, err := NewHyDE(idx, empty, nil, 0).Retrieve(context.Background(), "q", 3); !errors.Is(err, rag.ErrContractViolation) {
		t.Fatalf("err=%v", err)
	}
}

func TestFuser_MergesAndDropsRedundant(t *testing.T) {
	t.Parallel()

	f, err := New(context.Background(), embed.NewTFIDF(), corpus(), Config{
		Strategies: []Strategy{StrategyDefault, StrategyKNN},
		Relevancy:  DefaultRelevancy,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	docs, err := f.Retrieve(context.Background(), "cats sleep", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	seen := make(map[string]int)
	for _, d := range docs {
		seen[d.Content]++
	}
	for c, n := range seen {
		if n > 1 {
			t.Fatalf("%q returned %d times", c, n)
		}
	}
	if docs[0].Source() != "cats.md" {
		t.Fatalf("first=%q", docs[0].Content)
	}
	if !slices.Equal(f.Strategies(), []Strategy{StrategyDefault, StrategyKNN}) {
		t.Fatalf("strategies=%v", f.Strategies())
	}
}

func TestFuser_EmptyIsNoDocumentsRetrieved(t *testing.T) {
	t.Parallel()

	f, err := New(context.Background(), embed.NewTFIDF(), corpus(), Config{Strategies: []Strategy{StrategyDefault}, Relevancy: 0.5})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = f.Retrieve(context.Background(), "quantum chromodynamics", 3)
	if !errors.Is(err, rag.ErrNoDocumentsRetrieved) {
		t.Fatalf("err=%v", err)
	}
}

func TestFuser_ConfigErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if _, err := New(ctx, embed.NewTFIDF(), corpus(), Config{}); err == nil {
		t.Fatalf("expected error without strategies")
	}
	if _, err := New(ctx, embed.NewTFIDF(), corpus(), Config{Strategies: []Strategy{StrategyHyDE}}); err == nil {
		t.Fatalf("expected error for hyde without a model")
	}
	if _, err := New(ctx, embed.NewTFIDF(), nil, Config{Strategies: []Strategy{StrategyDefault}}); !errors.Is(err, rag.ErrEmptyCorpus) {
		t.Fatalf("err=%v", err)
	}
}

func TestFuser_BuildsEveryStrategy(t *testing.T) {
	t.Parallel()

	strategies, err := ParseStrategies("default_hyde_knn_svm_parent")
	if err != nil {
		t.Fatalf("ParseStrategies: %v", err)
	}
	model := &cannedModel{text: `{"passage": "Cats purr and sleep."}`}
	f, err := New(context.Background(), embed.NewTFIDF(), corpus(), Config{
		Strategies:  strategies,
		Relevancy:   DefaultRelevancy,
		ChildTokens: 100,
		Model:       model,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !slices.Equal(f.Strategies(), []Strategy{StrategyDefault, StrategyHyDE, StrategyKNN, StrategySVM, StrategyParent}) {
		t.Fatalf("strategies=%v", f.Strategies())
	}
	docs, err := f.Retrieve(context.Background(), "cats sleep", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if docs[0].Source() != "cats.md" {
		t.Fatalf("first=%q", docs[0].Content)
	}
	if model.calls != 1 {
		t.Fatalf("hyde calls=%d", model.calls)
	}
}

func TestHyDE_OverChatBackend(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		format map[string]any
		system string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			ResponseFormat map[string]any `json:"response_format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		format = body.ResponseFormat
		if len(body.Messages) > 0 {
			system = body.Messages[0].Content
		}
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"local",` +
			`"choices":[{"index":0,"message":{"role":"assistant","content":"{\"passage\": \"Strangers make dogs bark.\"}"},"finish_reason":"stop"}],` +
			`"usage":{"prompt_tokens":9,"completion_tokens":6,"total_tokens":15}}`))
	}))
	defer srv.Close()

	chat := provider.NewChat("test-key", srv.URL+"/v1", "local", provider.Capabilities{N: true, MaxTokens: true})
	l := ledger.New(nil)
	docs, err := NewHyDE(testIndex(t), chat, l, DefaultRelevancy).Retrieve(context.Background(), "what annoys my pet?", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(docs) != 1 || docs[0].Source() != "dogs.md" {
		t.Fatalf("docs=%v", contents(docs))
	}
	mu.Lock()
	defer mu.Unlock()
	if format["type"] != "json_schema" {
		t.Fatalf("response_format=%v", format)
	}
	if !strings.Contains(system, "JSON") || !strings.Contains(system, `"passage"`) {
		t.Fatalf("system prompt does not describe the reply: %q", system)
	}
	if u := l.Totals(ledger.Primary); u.PromptTokens != 9 || u.CompletionTokens != 6 {
		t.Fatalf("usage=%+v", u)
	}
}
