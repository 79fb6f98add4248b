package retrieval

import (
	"fmt"
	"strings"
)

type Strategy string

const (
	StrategyDefault Strategy = "default"
	StrategyHyDE    Strategy = "hyde"
	StrategyKNN     Strategy = "knn"
	StrategySVM     Strategy = "svm"
	StrategyParent  Strategy = "parent"
)

var knownStrategies = map[Strategy]struct{}{
	StrategyDefault: {}, StrategyHyDE: {}, StrategyKNN: {}, StrategySVM: {}, StrategyParent: {},
}

// ParseStrategies reads underscore-joined names such as "default_knn". Unknown names
// are an error; repeats are dropped and the first-seen order is kept.
func ParseStrategies(spec string) ([]Strategy, error) {
	spec = strings.ToLower(strings.TrimSpace(spec))
	if spec == "" {
		return nil, fmt.Errorf("no retrieval strategy given")
	}
	var out []Strategy
	seen := make(map[Strategy]struct{})
	for _, tok := range strings.Split(spec, "_") {
		s := Strategy(tok)
		if _, ok := knownStrategies[s]; !ok {
			return nil, fmt.Errorf("invalid retrieval strategy %q in %q (want default, hyde, knn, svm or parent)", tok, spec)
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}
