package provider

import (
	"context"
	"errors"
	"testing"
)

type stubGenerator struct {
	gen Generation
	err error
}

func (s stubGenerator) Generate(context.Context, Request) (Generation, error) { return s.gen, s.err }
func (s stubGenerator) Capabilities() Capabilities                             { return Capabilities{N: true} }
func (s stubGenerator) Model() string                                          { return "stub" }

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		msg  string
		want error
	}{
		{"POST /v1/responses: 429 Too Many Requests", ErrRateLimited},
		{"rate limit reached for requests", ErrRateLimited},
		{"500 Internal Server Error", ErrServer},
		{"server_error: upstream failed", ErrServer},
	}
	for _, tc := range cases {
		got := classify(errors.New(tc.msg))
		if !errors.Is(got, tc.want) {
			t.Fatalf("classify(%q)=%v want %v", tc.msg, got, tc.want)
		}
	}

	plain := errors.New("invalid api key")
	if got := classify(plain); got != plain {
		t.Fatalf("unclassified error was wrapped: %v", got)
	}
	if classify(nil) != nil {
		t.Fatalf("classify(nil) != nil")
	}
}

func TestFinishReasonFromStatus(t *testing.T) {
	t.Parallel()

	for status, want := range map[string]string{
		"completed":  FinishStop,
		"incomplete": "length",
		"failed":     "failed",
		"":           "unknown",
	} {
		if got := finishReasonFromStatus(status); got != want {
			t.Fatalf("status=%q got=%q want=%q", status, got, want)
		}
	}
}

type hydeLike struct {
	Passage string   `json:"passage"`
	Tags    []string `json:"tags"`
}

func TestGenerateSchema_IsStrict(t *testing.T) {
	t.Parallel()

	s := GenerateSchema[hydeLike]()
	if s["type"] != "object" {
		t.Fatalf("type=%v", s["type"])
	}
	if s["additionalProperties"] != false {
		t.Fatalf("additionalProperties=%v", s["additionalProperties"])
	}
	req, ok := s["required"].([]string)
	if !ok || len(req) != 2 {
		t.Fatalf("required=%v", s["required"])
	}
}

func TestMetered_CountsSuccessfulCallsOnly(t *testing.T) {
	t.Parallel()

	ok := NewMetered(stubGenerator{gen: Generation{Texts: []string{"x"}, PromptTokens: 10, CompletionTokens: 2}})
	for i := 0; i < 3; i++ {
		if _, err := ok.Generate(context.Background(), Request{}); err != nil {
			t.Fatalf("Generate: %v", err)
		}
	}
	p, c, n := ok.Usage()
	if p != 30 || c != 6 || n != 3 {
		t.Fatalf("usage=%d/%d/%d", p, c, n)
	}
	if !ok.Capabilities().N || ok.Model() != "stub" {
		t.Fatalf("embedded generator methods not promoted")
	}

	failing := NewMetered(stubGenerator{gen: Generation{PromptTokens: 5}, err: errors.New("boom")})
	if _, err := failing.Generate(context.Background(), Request{}); err == nil {
		t.Fatalf("expected error")
	}
	if p, _, n := failing.Usage(); p != 0 || n != 0 {
		t.Fatalf("failed call was metered: %d/%d", p, n)
	}
}

func TestGenerationText(t *testing.T) {
	t.Parallel()

	if (Generation{}).Text() != "" {
		t.Fatalf("empty generation text")
	}
	if (Generation{Texts: []string{"a", "b"}}).Text() != "a" {
		t.Fatalf("first text not returned")
	}
}
