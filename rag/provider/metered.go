package provider

import (
	"context"
	"sync/atomic"
)

// Metered counts the usage of every successful call independently of the ledger,
// so the two totals can be compared after a run.
type Metered struct {
	Generator

	prompt     atomic.Int64
	completion atomic.Int64
	calls      atomic.Int64
}

func NewMetered(g Generator) *Metered { return &Metered{Generator: g} }

func (m *Metered) Generate(ctx context.Context, req Request) (Generation, error) {
	gen, err := m.Generator.Generate(ctx, req)
	if err != nil {
		return gen, err
	}
	m.calls.Add(1)
	m.prompt.Add(gen.PromptTokens)
	m.completion.Add(gen.CompletionTokens)
	return gen, nil
}

// Usage returns the live totals.
func (m *Metered) Usage() (prompt, completion, calls int64) {
	return m.prompt.Load(), m.completion.Load(), m.calls.Load()
}
