package rag

import (
	"context"
	"strings"
	"sync"

	"github.com/theimaginaryfoundation/docquery/rag/provider"
)

// scriptedGenerator answers every request through respond and records the requests.
type scriptedGenerator struct {
	model   string
	caps    provider.Capabilities
	respond func(req provider.Request) (provider.Generation, error)

	mu       sync.Mutex
	requests []provider.Request
}

func (g *scriptedGenerator) Generate(_ context.Context, req provider.Request) (provider.Generation, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	return g.respond(req)
}

func (g *scriptedGenerator) Capabilities() provider.Capabilities { return g.caps }
func (g *scriptedGenerator) Model() string                       { return g.model }

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func (g *scriptedGenerator) lastUserMessages() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, r := range g.requests {
		for _, m := range r.Messages {
			if m.Role == provider.RoleUser {
				out = append(out, m.Content)
			}
		}
	}
	return out
}

func reply(texts ...string) provider.Generation {
	reasons := make([]string, len(texts))
	for i := range reasons {
		reasons[i] = provider.FinishStop
	}
	return provider.Generation{Texts: texts, FinishReasons: reasons, PromptTokens: 10, CompletionTokens: 1}
}

// judgeByKeyword votes 1 for documents containing "relevant" and 0 otherwise,
// honouring N when the request asks for several completions.
func judgeByKeyword(req provider.Request) (provider.Generation, error) {
	vote := "0"
	for _, m := range req.Messages {
		if m.Role == provider.RoleUser && strings.Contains(m.Content, "relevant") && !strings.Contains(m.Content, "irrelevant") {
			vote = "1"
		}
	}
	n := max(req.N, 1)
	texts := make([]string, n)
	for i := range texts {
		texts[i] = vote
	}
	return reply(texts...), nil
}

type staticRetriever struct {
	docs []Document
	err  error
}

func (r staticRetriever) Retrieve(_ context.Context, _ string, k int) ([]Document, error) {
	if r.err != nil {
		return nil, r.err
	}
	if k < len(r.docs) {
		return r.docs[:k], nil
	}
	return r.docs, nil
}
