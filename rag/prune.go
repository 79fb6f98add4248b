package rag

import (
	"fmt"
	"regexp"
	"strings"
)

// PruneFilters drop documents before any query runs.
//
// Content filters are "+re" (must match) or "-re" (must not match).
// Metadata filters start with k (key), v (value) or b (both, "keyre:valuere")
// followed by + or -.
type PruneFilters struct {
	Content  []string `yaml:"content"`
	Metadata []string `yaml:"metadata"`
}

func (f PruneFilters) Empty() bool { return len(f.Content) == 0 && len(f.Metadata) == 0 }

type contentRule struct {
	include bool
	re      *regexp.Regexp
}

type metaRule struct {
	kind    byte
	include bool
	key     *regexp.Regexp
	value   *regexp.Regexp
}

func PruneDocuments(docs []Document, filters PruneFilters) ([]Document, error) {
	if filters.Empty() {
		return docs, nil
	}
	content, err := parseContentRules(filters.Content)
	if err != nil {
		return nil, err
	}
	meta, err := parseMetaRules(filters.Metadata)
	if err != nil {
		return nil, err
	}

	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if keepContent(d, content) && keepMeta(d, meta) {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no document matches the filters", ErrEmptyCorpus)
	}
	return out, nil
}

func parseContentRules(in []string) ([]contentRule, error) {
	rules := make([]contentRule, 0, len(in))
	for _, f := range in {
		if len(f) < 2 || (f[0] != '+' && f[0] != '-') || strings.TrimSpace(f[1:]) == "" {
			return nil, fmt.Errorf("content filter %q: want +regex or -regex", f)
		}
		re, err := regexp.Compile(f[1:])
		if err != nil {
			return nil, fmt.Errorf("content filter %q: %w", f, err)
		}
		rules = append(rules, contentRule{include: f[0] == '+', re: re})
	}
	return rules, nil
}

func parseMetaRules(in []string) ([]metaRule, error) {
	rules := make([]metaRule, 0, len(in))
	for _, f := range in {
		if len(f) < 3 || !strings.ContainsRune("kvb", rune(f[0])) || (f[1] != '+' && f[1] != '-') {
			return nil, fmt.Errorf("metadata filter %q: want [kvb][+-]regex", f)
		}
		r := metaRule{kind: f[0], include: f[1] == '+'}
		pat := f[2:]
		var err error
		switch r.kind {
		case 'k':
			r.key, err = regexp.Compile(pat)
		case 'v':
			r.value, err = regexp.Compile(pat)
		case 'b':
			kp, vp, ok := strings.Cut(pat, ":")
			if !ok {
				return nil, fmt.Errorf("metadata filter %q: b filters need key:value", f)
			}
			if r.key, err = regexp.Compile(kp); err == nil {
				r.value, err = regexp.Compile(vp)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("metadata filter %q: %w", f, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func keepContent(d Document, rules []contentRule) bool {
	for _, r := range rules {
		if r.re.MatchString(d.Content) != r.include {
			return false
		}
	}
	return true
}

func keepMeta(d Document, rules []metaRule) bool {
	for _, r := range rules {
		if matchMeta(d.Metadata, r) != r.include {
			return false
		}
	}
	return true
}

func matchMeta(meta map[string]any, r metaRule) bool {
	for k, v := range meta {
		val := fmt.Sprint(v)
		switch r.kind {
		case 'k':
			if r.key.MatchString(k) {
				return true
			}
		case 'v':
			if r.value.MatchString(val) {
				return true
			}
		case 'b':
			if r.key.MatchString(k) && r.value.MatchString(val) {
				return true
			}
		}
	}
	return false
}
