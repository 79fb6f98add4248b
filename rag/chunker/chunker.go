// Package chunker packs text into token-bounded chunks along line and sentence
// boundaries.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// CharsPerToken approximates tokenizer output for English-like text.
const CharsPerToken = 4

func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + CharsPerToken - 1) / CharsPerToken
}

type Splitter struct {
	maxTokens int
	sentence  *regexp.Regexp
}

func New(maxTokens int) *Splitter {
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	return &Splitter{
		maxTokens: maxTokens,
		sentence:  regexp.MustCompile(`[^.!?]+[.!?]+\s*|[^.!?]+$`),
	}
}

func (s *Splitter) MaxTokens() int { return s.maxTokens }

// Split keeps lines intact when they fit, falls back to sentences for long lines and
// to a hard rune cut for long sentences. Empty input yields no chunks.
func (s *Splitter) Split(text string) []string {
	var units []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		units = append(units, s.fit(line)...)
	}

	var chunks []string
	var cur []string
	curTokens := 0
	for _, u := range units {
		t := EstimateTokens(u)
		if len(cur) > 0 && curTokens+t > s.maxTokens {
			chunks = append(chunks, strings.Join(cur, "\n"))
			cur, curTokens = nil, 0
		}
		cur = append(cur, u)
		curTokens += t
	}
	if len(cur) > 0 {
		chunks = append(chunks, strings.Join(cur, "\n"))
	}
	return chunks
}

func (s *Splitter) fit(line string) []string {
	if EstimateTokens(line) <= s.maxTokens {
		return []string{line}
	}
	var out []string
	for _, sent := range s.sentence.FindAllString(line, -1) {
		sent = strings.TrimSpace(sent)
		if sent == "" {
			continue
		}
		if EstimateTokens(sent) <= s.maxTokens {
			out = append(out, sent)
			continue
		}
		out = append(out, hardCut(sent, s.maxTokens*CharsPerToken)...)
	}
	return out
}

func hardCut(s string, maxRunes int) []string {
	r := []rune(s)
	var out []string
	for start := 0; start < len(r); start += maxRunes {
		out = append(out, string(r[start:min(start+maxRunes, len(r))]))
	}
	return out
}
