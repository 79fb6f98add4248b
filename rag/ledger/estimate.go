package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
)

const (
	perMillion = 1_000_000.0

	// Overhead covers prompt scaffolding and previous-chunk context.
	Overhead = 1.2
	// RecursionDecay is how much each recursive pass shrinks its input.
	RecursionDecay = 2.0 / 5.0
)

var ErrBudgetExceeded = errors.New("cost estimate exceeds budget")

// Weights blend input and output prices into a single per-token price.
type Weights struct {
	Input  float64
	Output float64
}

var (
	DisplayWeights = Weights{Input: 4.0 / 5.0, Output: 1.0 / 5.0}
	SummaryWeights = Weights{Input: 3.0 / 5.0, Output: 2.0 / 5.0}
)

func (p Price) Weighted(w Weights) float64 {
	return w.Input*p.Input + w.Output*p.Output
}

// EstimateDocumentCost is the display estimate for one document of n tokens.
func EstimateDocumentCost(tokens int64, price Price) float64 {
	return float64(tokens) * price.Weighted(DisplayWeights) / perMillion
}

// EstimateSummaryCost prices a base pass over tokens plus one geometrically shrinking
// pass per planned recursion level.
func EstimateSummaryCost(tokens int64, price Price, recursion int) float64 {
	unit := float64(tokens) * price.Weighted(SummaryWeights) / perMillion * Overhead
	total := unit
	for i := 1; i <= recursion; i++ {
		total += unit * math.Pow(RecursionDecay, float64(i))
	}
	return total
}

// CheckBudget fails when estimate is above limit, except for overridden endpoints
// (self-hosted backends) where the breach is only logged. A limit <= 0 disables the check.
func CheckBudget(logger *slog.Logger, estimate, limit float64, endpointOverridden bool) error {
	if limit <= 0 || estimate <= limit {
		return nil
	}
	if endpointOverridden {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("cost estimate above limit, continuing because the endpoint is overridden",
			"estimate", fmt.Sprintf("$%.5f", estimate), "limit", fmt.Sprintf("$%.2f", limit))
		return nil
	}
	return fmt.Errorf("%w: estimate $%.5f > limit $%.2f", ErrBudgetExceeded, estimate, limit)
}
