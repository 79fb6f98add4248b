// Package ledger accumulates token usage and dollar cost per model role and holds
// the pre-run cost estimate used to enforce the budget.
package ledger

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type Role string

const (
	Primary   Role = "primary"
	Judge     Role = "judge"
	Embedding Role = "embedding"
)

type Stage string

const (
	StageHyDE      Stage = "hyde"
	StageEvaluate  Stage = "evaluate"
	StageAnswer    Stage = "answer"
	StageReduce    Stage = "reduce"
	StageSummarize Stage = "summarize"
	StageEmbed     Stage = "embed"
)

// Price is in dollars per million tokens.
type Price struct {
	Input  float64 `json:"input" yaml:"input"`
	Output float64 `json:"output" yaml:"output"`
}

func (p Price) Cost(prompt, completion int64) float64 {
	return (p.Input*float64(prompt) + p.Output*float64(completion)) / perMillion
}

type Entry struct {
	Role             Role
	Stage            Stage
	PromptTokens     int64
	CompletionTokens int64
	Price            Price
}

func (e Entry) Cost() float64 { return e.Price.Cost(e.PromptTokens, e.CompletionTokens) }

type Usage struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	Cost             float64 `json:"cost"`
}

func (u Usage) TotalTokens() int64 { return u.PromptTokens + u.CompletionTokens }

type Report struct {
	RunID     string         `json:"run_id"`
	Roles     map[Role]Usage `json:"roles"`
	TotalCost float64        `json:"total_cost"`
}

// Ledger is append-only and safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	runID   string
	prices  map[Role]Price
	entries []Entry
}

func New(prices map[Role]Price) *Ledger {
	p := make(map[Role]Price, len(prices))
	for k, v := range prices {
		p[k] = v
	}
	return &Ledger{runID: uuid.NewString(), prices: p}
}

func (l *Ledger) RunID() string { return l.runID }

func (l *Ledger) Price(role Role) Price {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.prices[role]
}

func (l *Ledger) Add(role Role, stage Stage, prompt, completion int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{
		Role:             role,
		Stage:            stage,
		PromptTokens:     prompt,
		CompletionTokens: completion,
		Price:            l.prices[role],
	})
}

func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

func (l *Ledger) Totals(role Role) Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	var u Usage
	for _, e := range l.entries {
		if e.Role != role {
			continue
		}
		u.PromptTokens += e.PromptTokens
		u.CompletionTokens += e.CompletionTokens
		u.Cost += e.Cost()
	}
	return u
}

func (l *Ledger) Report() Report {
	l.mu.Lock()
	roles := make(map[Role]struct{})
	for _, e := range l.entries {
		roles[e.Role] = struct{}{}
	}
	l.mu.Unlock()

	r := Report{RunID: l.runID, Roles: make(map[Role]Usage, len(roles))}
	for role := range roles {
		u := l.Totals(role)
		r.Roles[role] = u
		r.TotalCost += u.Cost
	}
	return r
}

// SortedRoles returns the roles of a report in a stable order for display.
func (r Report) SortedRoles() []Role {
	out := make([]Role, 0, len(r.Roles))
	for role := range r.Roles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CheckConsistency compares the ledger with totals metered at the backend boundary.
// A mismatch is reported, never raised.
func (l *Ledger) CheckConsistency(logger *slog.Logger, role Role, livePrompt, liveCompletion int64) bool {
	u := l.Totals(role)
	if u.PromptTokens == livePrompt && u.CompletionTokens == liveCompletion {
		return true
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("token discrepancy between ledger and live counters",
		"role", role,
		"ledger_tokens", u.TotalTokens(),
		"live_tokens", livePrompt+liveCompletion,
		"live_cost", l.Price(role).Cost(livePrompt, liveCompletion),
	)
	return false
}
