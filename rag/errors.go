package rag

import (
	"errors"

	"github.com/theimaginaryfoundation/docquery/rag/ledger"
)

// Every stage failure wraps one of these; callers match with errors.Is.
var (
	ErrNoDocumentsRetrieved             = errors.New("no documents retrieved")
	ErrNoDocumentsAfterLLMEvalFiltering = errors.New("no documents remained after LLM evaluation filtering")
	ErrInvalidDocEvaluation             = errors.New("judge model output is not a single 0 or 1")
	ErrCorpusIntegrityViolation         = errors.New("corpus integrity violation")
	ErrEmptyCorpus                      = errors.New("empty corpus")
	ErrContractViolation                = errors.New("model backend contract violation")
	ErrInvalidQuery                     = errors.New("invalid query")

	ErrBudgetExceeded = ledger.ErrBudgetExceeded
)
