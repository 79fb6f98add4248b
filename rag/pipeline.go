package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/theimaginaryfoundation/docquery/rag/ledger"
)

// QueryDelimiter separates the text used for matching from the question to answer.
// The surrounding spaces keep URLs in queries intact.
const QueryDelimiter = " // "

// Retriever is what the pipeline needs from retrieval: ranked documents for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Document, error)
}

// SplitQuery returns the matching query and the question to answer. Without the
// delimiter both are the whole query.
func SplitQuery(query string) (forMatching, toAnswer string, err error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", "", fmt.Errorf("%w: empty query", ErrInvalidQuery)
	}
	parts := strings.Split(query, QueryDelimiter)
	switch len(parts) {
	case 1:
		return query, query, nil
	case 2:
		forMatching, toAnswer = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		if forMatching == "" || toAnswer == "" {
			return "", "", fmt.Errorf("%w: both sides of %q must be non-empty", ErrInvalidQuery, QueryDelimiter)
		}
		return forMatching, toAnswer, nil
	default:
		return "", "", fmt.Errorf("%w: at most one %q allowed", ErrInvalidQuery, strings.TrimSpace(QueryDelimiter))
	}
}

// QueryState is the typed record every stage reads and extends.
type QueryState struct {
	Query            string
	QueryForMatching string
	Question         string

	Unfiltered []Document
	Filtered   []Document
	Verdicts   []Verdict
	Answers    []IntermediateAnswer

	FinalAnswer string
	Levels      [][]string
	Timings     map[string]time.Duration
}

type Stage struct {
	Name string
	Run  func(ctx context.Context, st *QueryState) error
}

type PipelineConfig struct {
	TopK int
}

// Pipeline wires retrieval, evaluation and answering. Each collaborator is built
// once by the caller and injected.
type Pipeline struct {
	retriever Retriever
	evaluator *Evaluator
	reducer   *Reducer
	ledger    *ledger.Ledger
	logger    *slog.Logger
	topK      int
}

func NewPipeline(r Retriever, e *Evaluator, red *Reducer, l *ledger.Ledger, logger *slog.Logger, cfg PipelineConfig) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	return &Pipeline{retriever: r, evaluator: e, reducer: red, ledger: l, logger: logger, topK: cfg.TopK}
}

func (p *Pipeline) retrieveStage() Stage {
	return Stage{Name: "retrieve", Run: func(ctx context.Context, st *QueryState) error {
		docs, err := p.retriever.Retrieve(ctx, st.QueryForMatching, p.topK)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return fmt.Errorf("%w: query %q", ErrNoDocumentsRetrieved, st.QueryForMatching)
		}
		st.Unfiltered = make([]Document, len(docs))
		for i, d := range docs {
			st.Unfiltered[i] = d.WithProvenance()
		}
		return nil
	}}
}

func (p *Pipeline) evaluateStage() Stage {
	return Stage{Name: "evaluate", Run: func(ctx context.Context, st *QueryState) error {
		res, err := p.evaluator.Filter(ctx, st.Question, st.Unfiltered)
		st.Verdicts = res.Verdicts
		if err != nil {
			return err
		}
		st.Filtered = res.Kept
		return nil
	}}
}

func (p *Pipeline) answerStage() Stage {
	return Stage{Name: "answer", Run: func(ctx context.Context, st *QueryState) error {
		answers, err := p.reducer.AnswerEach(ctx, st.Question, st.Filtered)
		if err != nil {
			return err
		}
		st.Answers = answers
		return nil
	}}
}

func (p *Pipeline) reduceStage() Stage {
	return Stage{Name: "reduce", Run: func(ctx context.Context, st *QueryState) error {
		texts := make([]string, len(st.Answers))
		for i, a := range st.Answers {
			texts[i] = a.Text
		}
		final, levels, err := p.reducer.Reduce(ctx, st.Question, texts)
		st.Levels = levels
		if err != nil {
			return err
		}
		st.FinalAnswer = final
		return nil
	}}
}

// QueryStages is the full question-answering path, in order.
func (p *Pipeline) QueryStages() []Stage {
	return []Stage{p.retrieveStage(), p.evaluateStage(), p.answerStage(), p.reduceStage()}
}

// SearchStages stops after relevance filtering.
func (p *Pipeline) SearchStages() []Stage {
	return []Stage{p.retrieveStage(), p.evaluateStage()}
}

// Run executes stages in order and stops at the first failure.
func (p *Pipeline) Run(ctx context.Context, query string, stages []Stage) (*QueryState, error) {
	forMatching, toAnswer, err := SplitQuery(query)
	if err != nil {
		return nil, err
	}
	st := &QueryState{
		Query:            query,
		QueryForMatching: forMatching,
		Question:         toAnswer,
		Timings:          make(map[string]time.Duration, len(stages)),
	}
	for _, stage := range stages {
		start := time.Now()
		err := stage.Run(ctx, st)
		st.Timings[stage.Name] = time.Since(start)
		if err != nil {
			return st, fmt.Errorf("%s: %w", stage.Name, err)
		}
		p.logger.Debug("stage done", "stage", stage.Name, "took", st.Timings[stage.Name].Round(time.Millisecond))
	}
	return st, nil
}

type QueryResult struct {
	RunID            string               `json:"run_id"`
	Query            string               `json:"query"`
	QueryForMatching string               `json:"query_for_matching"`
	Question         string               `json:"question"`
	FinalAnswer      string               `json:"final_answer"`
	Levels           [][]string           `json:"levels"`
	Unfiltered       int                  `json:"unfiltered_docs"`
	Filtered         int                  `json:"filtered_docs"`
	Relevant         int                  `json:"relevant_docs"`
	RelevantAnswers  []IntermediateAnswer `json:"relevant_answers"`
	Cost             ledger.Report        `json:"cost"`
}

func (p *Pipeline) Query(ctx context.Context, query string) (QueryResult, error) {
	st, err := p.Run(ctx, query, p.QueryStages())
	if err != nil {
		return QueryResult{}, err
	}
	res := QueryResult{
		Query:            st.Query,
		QueryForMatching: st.QueryForMatching,
		Question:         st.Question,
		FinalAnswer:      st.FinalAnswer,
		Levels:           st.Levels,
		Unfiltered:       len(st.Unfiltered),
		Filtered:         len(st.Filtered),
	}
	for _, a := range st.Answers {
		if CheckIntermediateAnswer(a.Text) {
			res.RelevantAnswers = append(res.RelevantAnswers, a)
		}
	}
	res.Relevant = len(res.RelevantAnswers)
	if p.ledger != nil {
		res.Cost = p.ledger.Report()
		res.RunID = res.Cost.RunID
	}
	return res, nil
}

type SearchResult struct {
	RunID      string        `json:"run_id"`
	Question   string        `json:"question"`
	Unfiltered int           `json:"unfiltered_docs"`
	Documents  []Document    `json:"documents"`
	Verdicts   []Verdict     `json:"verdicts"`
	Cost       ledger.Report `json:"cost"`
}

func (p *Pipeline) Search(ctx context.Context, query string) (SearchResult, error) {
	st, err := p.Run(ctx, query, p.SearchStages())
	if err != nil {
		return SearchResult{}, err
	}
	res := SearchResult{
		Question:   st.Question,
		Unfiltered: len(st.Unfiltered),
		Documents:  st.Filtered,
		Verdicts:   st.Verdicts,
	}
	if p.ledger != nil {
		res.Cost = p.ledger.Report()
		res.RunID = res.Cost.RunID
	}
	return res, nil
}
