package rag

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/theimaginaryfoundation/docquery/rag/ledger"
	"github.com/theimaginaryfoundation/docquery/rag/provider"
)

func TestStripMarkers_Idempotent(t *testing.T) {
	t.Parallel()

	in := strings.Join([]string{
		"- Chunk 1/2",
		"- point one   ",
		"",
		"- ---",
		"- Chunk 2/2",
		"    - nested point",
		"- BEFORE RECURSION # 0",
		"- old text",
	}, "\n")
	once := StripMarkers(in)
	if once != "- point one\n    - nested point" {
		t.Fatalf("once=%q", once)
	}
	if twice := StripMarkers(once); twice != once {
		t.Fatalf("twice=%q, want %q", twice, once)
	}
	mustBeClean(once)
}

func TestMustBeClean_PanicsOnMarker(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	mustBeClean("- point\n- Chunk 1/3")
}

func TestSummaryState_MarkdownRoundTrip(t *testing.T) {
	t.Parallel()

	single := SummaryState{Chunks: []string{"- only"}}
	if single.Markdown() != "- only" {
		t.Fatalf("single chunk got markers: %q", single.Markdown())
	}

	st := SummaryState{Chunks: []string{"- a\n    - a1", "- b"}}
	md := st.Markdown()
	for _, want := range []string{"- Chunk 1/2", "- Chunk 2/2", chunkSeparator} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}
	got := ParseSummaryMarkdown(md)
	if len(got) != 2 || got[0] != st.Chunks[0] || got[1] != st.Chunks[1] {
		t.Fatalf("ParseSummaryMarkdown=%q", got)
	}
}

func TestReadingTime(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("abcdef ", 250) + "12345 !!"
	if got := ReadingTime(text); math.Abs(got-1) > 1e-9 {
		t.Fatalf("ReadingTime=%v want 1", got)
	}
	if ReadingTime("") != 0 {
		t.Fatalf("empty text should read in 0 minutes")
	}
}

func TestSummaryItem_Header(t *testing.T) {
	t.Parallel()

	h := SummaryItem{Source: "/a/b.txt", Author: "Ann", SourceMinutes: 2.34}.Header()
	want := "- Text metadata:\n    - Title: '/a/b.txt'\n    - Reading length: 2.3 minutes\n    - Author: 'Ann'\n    - Section number: [PROGRESS]\n"
	if h != want {
		t.Fatalf("Header=%q\nwant  %q", h, want)
	}
	if (SummaryItem{}).Header() != "" {
		t.Fatalf("empty item should have no header")
	}
}

type memCheckpoint struct {
	mu    sync.Mutex
	saved map[int]string
}

func (c *memCheckpoint) Load(depth int) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	md, ok := c.saved[depth]
	return md, ok, nil
}

func (c *memCheckpoint) Save(depth int, md string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saved == nil {
		c.saved = make(map[int]string)
	}
	c.saved[depth] = md
	return nil
}

func summarizeEcho(text string) func(provider.Request) (provider.Generation, error) {
	return func(provider.Request) (provider.Generation, error) { return reply(text), nil }
}

func TestSummarizer_BasePassChainsPreviousSummary(t *testing.T) {
	t.Parallel()

	n := 0
	var mu sync.Mutex
	model := &scriptedGenerator{model: "m", respond: func(provider.Request) (provider.Generation, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return reply(fmt.Sprintf("- summary %d\n", n)), nil
	}}
	l := ledger.New(map[ledger.Role]ledger.Price{ledger.Primary: {Input: 1, Output: 2}})
	cp := &memCheckpoint{}
	s := NewSummarizer(model, l, quietLogger(), cp, SummarizerConfig{Language: "English"})

	res, err := s.Summarize(context.Background(), SummaryItem{Source: "doc.txt", Chunks: []string{"first part", "second part"}})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if model.calls() != 2 || res.Depth != 0 {
		t.Fatalf("calls=%d depth=%d", model.calls(), res.Depth)
	}

	first := model.requests[0].Messages[1].Content
	second := model.requests[1].Messages[1].Content
	if !strings.Contains(first, "Section number: 1/2") || strings.Contains(first, "For context") {
		t.Fatalf("first prompt=%q", first)
	}
	if !strings.Contains(second, "Section number: 2/2") || !strings.Contains(second, "'''\n- summary 1\n'''") {
		t.Fatalf("second prompt=%q", second)
	}
	if !strings.Contains(model.requests[0].Messages[0].Content, "Write in English.") {
		t.Fatalf("language not substituted")
	}
	if strings.Contains(model.requests[0].Messages[0].Content, "I'm giving you back your own summary") {
		t.Fatalf("base pass must not carry the recursion instruction")
	}

	if got := res.Final().Body(); got != "- summary 1\n- summary 2" {
		t.Fatalf("body=%q", got)
	}
	if !strings.Contains(cp.saved[0], "- Chunk 2/2") {
		t.Fatalf("checkpoint=%q", cp.saved[0])
	}
	if res.Usage.PromptTokens != 20 || l.Totals(ledger.Primary).PromptTokens != 20 {
		t.Fatalf("usage=%+v", res.Usage)
	}
}

func TestSummarizer_RecursionStopsWhenOneChunkLeft(t *testing.T) {
	t.Parallel()

	model := &scriptedGenerator{model: "m", respond: summarizeEcho("- short")}
	s := NewSummarizer(model, nil, quietLogger(), nil, SummarizerConfig{Recursion: 3})

	res, err := s.Summarize(context.Background(), SummaryItem{Source: "x", Chunks: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if res.Depth != 0 || model.calls() != 2 {
		t.Fatalf("depth=%d calls=%d", res.Depth, model.calls())
	}
}

func TestSummarizer_RecursesOnCleanedSummary(t *testing.T) {
	t.Parallel()

	model := &scriptedGenerator{model: "m", respond: summarizeEcho("- a bullet that is long enough to overflow")}
	s := NewSummarizer(model, nil, quietLogger(), nil, SummarizerConfig{Recursion: 1, ChunkTokens: 12})

	res, err := s.Summarize(context.Background(), SummaryItem{Source: "x", Chunks: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if res.Depth != 1 || len(res.States) != 2 {
		t.Fatalf("depth=%d states=%d", res.Depth, len(res.States))
	}
	var recursive int
	for _, req := range model.requests[2:] {
		if strings.Contains(req.Messages[0].Content, "I'm giving you back your own summary") {
			recursive++
		}
		if strings.Contains(req.Messages[1].Content, "- Chunk ") {
			t.Fatalf("recursive input still carries markers: %q", req.Messages[1].Content)
		}
	}
	if recursive == 0 || recursive != model.calls()-2 {
		t.Fatalf("recursive calls=%d of %d", recursive, model.calls()-2)
	}
	hist := res.WithHistory()
	if !strings.Contains(hist, "- BEFORE RECURSION # 0") {
		t.Fatalf("history=%q", hist)
	}
	if StripMarkers(hist) != StripMarkers(res.Final().Markdown()) {
		t.Fatalf("stripping history should leave only the final summary")
	}
}

func TestSummarizer_ResumesFromCheckpoint(t *testing.T) {
	t.Parallel()

	model := &scriptedGenerator{model: "m", respond: summarizeEcho("- fresh")}
	cp := &memCheckpoint{saved: map[int]string{0: "- Chunk 1/2\n- cached a\n- ---\n- Chunk 2/2\n- cached b"}}
	s := NewSummarizer(model, nil, quietLogger(), cp, SummarizerConfig{})

	res, err := s.Summarize(context.Background(), SummaryItem{Source: "x", Chunks: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if model.calls() != 0 || len(res.Resumed) != 1 {
		t.Fatalf("calls=%d resumed=%v", model.calls(), res.Resumed)
	}
	if res.Final().Body() != "- cached a\n- cached b" {
		t.Fatalf("body=%q", res.Final().Body())
	}
}

func TestSummarizer_Errors(t *testing.T) {
	t.Parallel()

	s := NewSummarizer(&scriptedGenerator{respond: summarizeEcho("  ")}, nil, quietLogger(), nil, SummarizerConfig{})
	if _, err := s.Summarize(context.Background(), SummaryItem{Source: "x"}); !errors.Is(err, ErrEmptyCorpus) {
		t.Fatalf("no chunks err=%v", err)
	}
	if _, err := s.Summarize(context.Background(), SummaryItem{Source: "x", Chunks: []string{"a"}}); !errors.Is(err, ErrContractViolation) {
		t.Fatalf("empty output err=%v", err)
	}
}
