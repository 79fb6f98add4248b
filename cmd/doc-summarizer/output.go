package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/theimaginaryfoundation/docquery/rag"
	"github.com/theimaginaryfoundation/docquery/rag/fileutils"
)

var unsafeStem = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// fileCheckpoint stores each depth's markdown next to the final output, so an
// interrupted run picks up where it stopped.
type fileCheckpoint struct {
	outPath string
}

func (c fileCheckpoint) Load(depth int) (string, bool, error) {
	return fileutils.ReadTextIfExists(fileutils.DepthPath(c.outPath, depth))
}

func (c fileCheckpoint) Save(depth int, markdown string) error {
	return fileutils.WriteFileAtomicSameDir(fileutils.DepthPath(c.outPath, depth), []byte(markdown+"\n"), 0o644)
}

// outputPaths gives every source a distinct "<stem>.summary.md" under dir.
func outputPaths(dir string, sources []string) map[string]string {
	out := make(map[string]string, len(sources))
	used := make(map[string]int)
	for _, src := range sources {
		base := filepath.Base(src)
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		stem = strings.Trim(unsafeStem.ReplaceAllString(stem, "_"), "_")
		if stem == "" {
			stem = "document"
		}
		used[stem]++
		if n := used[stem]; n > 1 {
			stem = fmt.Sprintf("%s_%d", stem, n)
		}
		out[src] = filepath.Join(dir, stem+".summary.md")
	}
	return out
}

type headerInfo struct {
	Name      string
	Source    string
	Author    string
	Model     string
	Backend   string
	RunID     string
	Recursion int
}

// headerLine is the single line that introduces a summary in its output file.
func headerLine(h headerInfo, res rag.SummaryResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- %s    cost: %d ($%.5f)", h.Name, res.Usage.TotalTokens(), res.Usage.Cost)
	if res.SourceMinutes > 0 {
		fmt.Fprintf(&b, "    %.1f minutes", res.SourceMinutes)
	}
	if h.Author != "" {
		fmt.Fprintf(&b, "    by '%s'", h.Author)
	}
	fmt.Fprintf(&b, "    original path: '%s'", h.Source)
	fmt.Fprintf(&b, "    docquery run %s with model %s of %s", h.RunID, h.Model, h.Backend)
	fmt.Fprintf(&b, "    parameters: n_recursion_summary=%d;n_recursion_done=%d", h.Recursion, res.Depth)
	return b.String()
}

// renderOutput indents every summary line under the header.
func renderOutput(h headerInfo, res rag.SummaryResult, history bool) string {
	body := res.Final().Markdown()
	if history {
		body = res.WithHistory()
	}
	var b strings.Builder
	b.WriteString(headerLine(h, res))
	for _, line := range strings.Split(body, "\n") {
		b.WriteString("\n    " + strings.TrimRight(line, " \t"))
	}
	b.WriteString("\n")
	return b.String()
}

func writeOutput(path string, h headerInfo, res rag.SummaryResult, history bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return fileutils.WriteFileAtomicSameDir(path, []byte(renderOutput(h, res, history)), 0o644)
}
