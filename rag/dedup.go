package rag

import (
	"fmt"
	"sort"
)

type DedupResult struct {
	Documents []Document
	Removed   int
}

// Deduplicate keeps the first document of every fingerprint, in input order. It fails
// when a fingerprint is shared by different contents, or when dropping duplicates
// would leave only part of some source path behind.
func Deduplicate(docs []Document) (DedupResult, error) {
	if len(docs) == 0 {
		return DedupResult{}, ErrEmptyCorpus
	}

	perSource := make(map[string]int)
	for _, d := range docs {
		if src := d.Source(); src != "" {
			perSource[src]++
		}
	}

	seen := make(map[string]int, len(docs))
	out := make([]Document, 0, len(docs))
	removedFrom := make(map[string]int)
	removed := 0
	for _, d := range docs {
		if d.Fingerprint == "" {
			d.Fingerprint = Fingerprint(d.Content)
		}
		idx, dup := seen[d.Fingerprint]
		if !dup {
			seen[d.Fingerprint] = len(out)
			out = append(out, d)
			continue
		}
		kept := out[idx]
		if kept.Content != d.Content {
			return DedupResult{}, fmt.Errorf("%w: fingerprint %s shared by different contents (%q, %q)",
				ErrCorpusIntegrityViolation, d.Fingerprint, kept.Source(), d.Source())
		}
		removed++
		if src := d.Source(); src != "" && src != kept.Source() {
			removedFrom[src]++
		}
	}

	sources := make([]string, 0, len(removedFrom))
	for src := range removedFrom {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	for _, src := range sources {
		if n := removedFrom[src]; n < perSource[src] {
			return DedupResult{}, fmt.Errorf("%w: removing duplicates would keep only %d of %d documents from %q",
				ErrCorpusIntegrityViolation, perSource[src]-n, perSource[src], src)
		}
	}

	if len(out) == 0 {
		return DedupResult{}, ErrEmptyCorpus
	}
	return DedupResult{Documents: out, Removed: removed}, nil
}
