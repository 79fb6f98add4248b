// Package render formats query answers, search hits, summaries and cost reports for
// the terminal.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/theimaginaryfoundation/docquery/rag"
	"github.com/theimaginaryfoundation/docquery/rag/fileutils"
	"github.com/theimaginaryfoundation/docquery/rag/ledger"
)

// DefaultExcerptChars bounds the document excerpts shown next to answers.
const DefaultExcerptChars = 300

type Renderer struct {
	title   lipgloss.Style
	heading lipgloss.Style
	muted   lipgloss.Style
	warn    lipgloss.Style
	box     lipgloss.Style

	excerpt int
}

// New builds the styles on r; nil uses lipgloss's default renderer, which drops
// colours when stdout is not a terminal.
func New(r *lipgloss.Renderer, excerptChars int) *Renderer {
	if r == nil {
		r = lipgloss.DefaultRenderer()
	}
	if excerptChars <= 0 {
		excerptChars = DefaultExcerptChars
	}
	return &Renderer{
		title:   r.NewStyle().Bold(true),
		heading: r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("8")),
		warn:    r.NewStyle().Foreground(lipgloss.Color("9")),
		box:     r.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
		excerpt: excerptChars,
	}
}

func (r *Renderer) Query(res rag.QueryResult) string {
	var b strings.Builder
	b.WriteString(r.title.Render("Question: "+res.Question) + "\n")
	if res.QueryForMatching != res.Question {
		b.WriteString(r.muted.Render("Matched on: "+res.QueryForMatching) + "\n")
	}
	b.WriteString(r.box.Render(strings.TrimSpace(res.FinalAnswer)) + "\n")

	if len(res.RelevantAnswers) > 0 {
		b.WriteString("\n" + r.heading.Render("Sources") + "\n")
		for i, a := range res.RelevantAnswers {
			fmt.Fprintf(&b, "%d. %s\n", i+1, r.documentLabel(a.Document))
			b.WriteString(indent(fileutils.Truncate(a.Text, r.excerpt), "   ") + "\n")
		}
	}
	b.WriteString("\n" + r.muted.Render(fmt.Sprintf("documents: %d retrieved, %d kept by the judge, %d useful answers",
		res.Unfiltered, res.Filtered, res.Relevant)) + "\n")
	b.WriteString(r.Cost(res.Cost))
	return b.String()
}

func (r *Renderer) Search(res rag.SearchResult) string {
	var b strings.Builder
	b.WriteString(r.title.Render("Question: "+res.Question) + "\n")
	fmt.Fprintf(&b, "%s\n\n", r.muted.Render(fmt.Sprintf("%d of %d retrieved documents kept by the judge", len(res.Documents), res.Unfiltered)))
	for i, d := range res.Documents {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.documentLabel(d))
		b.WriteString(indent(fileutils.Truncate(d.Content, r.excerpt), "   ") + "\n")
	}
	b.WriteString(r.Cost(res.Cost))
	return b.String()
}

// Summary prints the final depth of a summary, or every depth when history is set.
func (r *Renderer) Summary(source string, res rag.SummaryResult, history bool) string {
	var b strings.Builder
	b.WriteString(r.title.Render("Summary") + "\n")
	b.WriteString(r.heading.Render(source) + "\n\n")
	if history {
		b.WriteString(res.WithHistory())
	} else {
		b.WriteString(res.Final().Markdown())
	}
	b.WriteString("\n\n")
	b.WriteString(r.warn.Render(fmt.Sprintf("Tokens used for %s: '%d' ($%.5f)", source, res.Usage.TotalTokens(), res.Usage.Cost)) + "\n")
	b.WriteString(r.muted.Render(fmt.Sprintf("reading time %.1f min, summary %.1f min, recursion depth %d",
		res.SourceMinutes, res.SummaryMinutes, res.Depth)) + "\n")
	return b.String()
}

// Cost lists usage per role in a fixed order, then the total.
func (r *Renderer) Cost(rep ledger.Report) string {
	if len(rep.Roles) == 0 {
		return r.muted.Render("no model calls were billed") + "\n"
	}
	var b strings.Builder
	for _, role := range rep.SortedRoles() {
		u := rep.Roles[role]
		fmt.Fprintf(&b, "%s\n", r.muted.Render(fmt.Sprintf("%-9s %8d tokens  $%.5f", role, u.TotalTokens(), u.Cost)))
	}
	line := fmt.Sprintf("total cost $%.5f", rep.TotalCost)
	if rep.RunID != "" {
		line += "  run " + rep.RunID
	}
	b.WriteString(r.warn.Render(line) + "\n")
	return b.String()
}

// Estimate is the pre-run line shown before any paid call.
func (r *Renderer) Estimate(what string, tokens int64, dollars, limit float64) string {
	line := fmt.Sprintf("%s: %d tokens, estimated $%.5f", what, tokens, dollars)
	if limit > 0 {
		line += fmt.Sprintf(" (limit $%.2f)", limit)
	}
	return r.muted.Render(line) + "\n"
}

func (r *Renderer) documentLabel(d rag.Document) string {
	label := d.Source()
	if t := d.Title(); t != "" && t != label {
		if label == "" {
			label = t
		} else {
			label = t + " (" + label + ")"
		}
	}
	if label == "" {
		label = "untitled"
	}
	if hk, ok := d.Metadata[rag.HashKeyField]; ok {
		label += " " + r.muted.Render(fmt.Sprintf("[%v]", hk))
	}
	return label
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
