package rag

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ParseEvalOutput reduces a judge reply to "0" or "1". Anything that is not exactly
// one admissible digit is rejected rather than guessed.
func ParseEvalOutput(output string) (string, error) {
	if strings.TrimSpace(output) == "" {
		return "", fmt.Errorf("%w: empty output", ErrInvalidDocEvaluation)
	}
	if strings.Contains(output, "-") {
		return "", fmt.Errorf("%w: output contains '-': %q", ErrInvalidDocEvaluation, output)
	}

	var digits []rune
	for _, r := range output {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}
	if len(digits) == 0 {
		return "", fmt.Errorf("%w: no digit in output: %q", ErrInvalidDocEvaluation, output)
	}
	if len(digits) == 1 {
		switch digits[0] {
		case '0':
			return "0", nil
		case '1':
			return "1", nil
		default:
			return "", fmt.Errorf("%w: digit is neither 0 nor 1: %q", ErrInvalidDocEvaluation, output)
		}
	}

	has0 := strings.ContainsRune(string(digits), '0')
	has1 := strings.ContainsRune(string(digits), '1')
	switch {
	case has0 && has1:
		return "", fmt.Errorf("%w: output contains both 0 and 1: %q", ErrInvalidDocEvaluation, output)
	case !has0 && !has1:
		return "", fmt.Errorf("%w: output contains neither 0 nor 1: %q", ErrInvalidDocEvaluation, output)
	default:
		return "", fmt.Errorf("%w: several digits in output: %q", ErrInvalidDocEvaluation, output)
	}
}

// Verdict is the aggregated judgement for one document.
type Verdict struct {
	Relevant bool     `json:"relevant"`
	Votes    []string `json:"votes"`
	// Numeric is false when a vote could not be read as an integer; such documents
	// are kept.
	Numeric bool `json:"numeric"`
	Cached  bool `json:"cached"`
}

// AggregateVotes keeps a document as soon as one vote is positive.
func AggregateVotes(votes []string) Verdict {
	v := Verdict{Votes: votes, Numeric: true}
	sum := 0
	for _, vote := range votes {
		n, err := strconv.Atoi(vote)
		if err != nil || !isDigits(vote) {
			v.Numeric = false
			v.Relevant = true
			return v
		}
		sum += n
	}
	v.Relevant = sum != 0
	return v
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
