package rag

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/theimaginaryfoundation/docquery/rag/evalcache"
	"github.com/theimaginaryfoundation/docquery/rag/ledger"
	"github.com/theimaginaryfoundation/docquery/rag/provider"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestParseEvalOutput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"1", "1", false},
		{"0", "0", false},
		{" 1\n", "1", false},
		{"Answer: 0", "0", false},
		{"", "", true},
		{"   ", "", true},
		{"1 and 0", "", true},
		{"abc", "", true},
		{"-1", "", true},
		{"2", "", true},
		{"11", "", true},
		{"23", "", true},
	}
	for _, tc := range cases {
		got, err := ParseEvalOutput(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidDocEvaluation) {
				t.Fatalf("ParseEvalOutput(%q) err=%v, want ErrInvalidDocEvaluation", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("ParseEvalOutput(%q)=%q,%v want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestAggregateVotes(t *testing.T) {
	t.Parallel()

	if v := AggregateVotes([]string{"1", "0", "0"}); !v.Relevant || !v.Numeric {
		t.Fatalf("[1,0,0]=%+v, want kept", v)
	}
	if v := AggregateVotes([]string{"0", "0", "0"}); v.Relevant {
		t.Fatalf("[0,0,0]=%+v, want dropped", v)
	}
	if v := AggregateVotes([]string{"0", "yes"}); !v.Relevant || v.Numeric {
		t.Fatalf("non numeric=%+v, want kept and flagged", v)
	}
}

func docs(contents ...string) []Document {
	out := make([]Document, len(contents))
	for i, c := range contents {
		out[i] = NewDocument(c, map[string]any{"path": "p"})
	}
	return out
}

func TestEvaluator_UsesNWhenSupported(t *testing.T) {
	t.Parallel()

	judge := &scriptedGenerator{model: "judge", caps: provider.Capabilities{N: true, MaxTokens: true}, respond: judgeByKeyword}
	l := ledger.New(nil)
	e := NewEvaluator(judge, nil, l, quietLogger(), EvaluatorConfig{CheckNumber: 3, MaxConcurrency: 4})

	res, err := e.Filter(context.Background(), "q", docs("a relevant passage", "an irrelevant passage"))
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if judge.calls() != 2 {
		t.Fatalf("calls=%d, want one per document", judge.calls())
	}
	for _, r := range judge.requests {
		if r.N != 3 || r.MaxTokens != evalMaxTokens {
			t.Fatalf("request N=%d MaxTokens=%d", r.N, r.MaxTokens)
		}
	}
	if len(res.Kept) != 1 || res.Kept[0].Content != "a relevant passage" {
		t.Fatalf("kept=%v", res.Kept)
	}
	if got := l.Totals(ledger.Judge).PromptTokens; got != 20 {
		t.Fatalf("judge prompt tokens=%d", got)
	}
}

func TestEvaluator_FansOutWithoutN(t *testing.T) {
	t.Parallel()

	judge := &scriptedGenerator{model: "judge", caps: provider.Capabilities{}, respond: judgeByKeyword}
	e := NewEvaluator(judge, nil, nil, quietLogger(), EvaluatorConfig{CheckNumber: 3, MaxConcurrency: 2})

	v, err := e.Evaluate(context.Background(), "q", NewDocument("relevant", nil))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if judge.calls() != 3 {
		t.Fatalf("calls=%d, want 3", judge.calls())
	}
	for _, r := range judge.requests {
		if r.N != 0 || r.MaxTokens != 0 {
			t.Fatalf("request N=%d MaxTokens=%d", r.N, r.MaxTokens)
		}
	}
	if len(v.Votes) != 3 || !v.Relevant {
		t.Fatalf("verdict=%+v", v)
	}
}

func TestEvaluator_CacheHitSkipsModelAndLedger(t *testing.T) {
	t.Parallel()

	judge := &scriptedGenerator{model: "judge", caps: provider.Capabilities{N: true}, respond: judgeByKeyword}
	l := ledger.New(nil)
	e := NewEvaluator(judge, evalcache.New(evalcache.NewMemory()), l, quietLogger(), EvaluatorConfig{CheckNumber: 2})

	d := NewDocument("relevant text", nil)
	first, err := e.Evaluate(context.Background(), "q", d)
	if err != nil || first.Cached {
		t.Fatalf("first=%+v err=%v", first, err)
	}
	second, err := e.Evaluate(context.Background(), "q", d)
	if err != nil || !second.Cached || !second.Relevant {
		t.Fatalf("second=%+v err=%v", second, err)
	}
	if judge.calls() != 1 {
		t.Fatalf("calls=%d", judge.calls())
	}
	if n := len(l.Entries()); n != 1 {
		t.Fatalf("ledger entries=%d", n)
	}
}

func TestEvaluator_ContractViolations(t *testing.T) {
	t.Parallel()

	cases := map[string]func(provider.Request) (provider.Generation, error){
		"finish reason": func(provider.Request) (provider.Generation, error) {
			return provider.Generation{Texts: []string{"1"}, FinishReasons: []string{"length"}}, nil
		},
		"cardinality": func(provider.Request) (provider.Generation, error) {
			return reply("1"), nil
		},
	}
	for name, respond := range cases {
		judge := &scriptedGenerator{model: "judge", caps: provider.Capabilities{N: true}, respond: respond}
		e := NewEvaluator(judge, nil, nil, quietLogger(), EvaluatorConfig{CheckNumber: 2})
		_, err := e.Evaluate(context.Background(), "q", NewDocument("x", nil))
		if !errors.Is(err, ErrContractViolation) {
			t.Fatalf("%s: err=%v", name, err)
		}
	}
}

func TestEvaluator_UnparsableOutputIsFatal(t *testing.T) {
	t.Parallel()

	judge := &scriptedGenerator{model: "judge", respond: func(provider.Request) (provider.Generation, error) {
		return reply("maybe"), nil
	}}
	e := NewEvaluator(judge, nil, nil, quietLogger(), EvaluatorConfig{CheckNumber: 1})
	_, err := e.Filter(context.Background(), "q", docs("x"))
	if !errors.Is(err, ErrInvalidDocEvaluation) {
		t.Fatalf("err=%v", err)
	}
}

func TestEvaluator_EmptyAndAllRejected(t *testing.T) {
	t.Parallel()

	judge := &scriptedGenerator{model: "judge", respond: judgeByKeyword}
	e := NewEvaluator(judge, nil, nil, quietLogger(), EvaluatorConfig{CheckNumber: 1})

	if _, err := e.Filter(context.Background(), "q", nil); !errors.Is(err, ErrNoDocumentsRetrieved) {
		t.Fatalf("empty err=%v", err)
	}
	_, err := e.Filter(context.Background(), "q", docs("nothing here", "still nothing"))
	if !errors.Is(err, ErrNoDocumentsAfterLLMEvalFiltering) {
		t.Fatalf("all rejected err=%v", err)
	}
	if errors.Is(err, ErrNoDocumentsRetrieved) {
		t.Fatalf("the two failures must stay distinct")
	}
}
