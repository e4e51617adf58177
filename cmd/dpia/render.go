package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/MinBZK/par-dpia-form/internal/calc"
	"github.com/MinBZK/par-dpia-form/internal/session"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("33"))
	idStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	titleStyle  = lipgloss.NewStyle().Bold(true)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderTree(w io.Writer, nodes []session.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, n := range nodes {
		line := indent + idStyle.Render(n.TaskID) + " " + titleStyle.Render(n.Title)
		if n.Label != "" {
			line += " " + mutedStyle.Render("("+n.Label+")")
		}
		if !n.Value.IsNull() {
			line += " = " + valueStyle.Render(n.Value.String())
			if n.Origin != session.OriginAnswer {
				line += " " + mutedStyle.Render("["+string(n.Origin)+"]")
			}
		}
		line += " " + idStyle.Render(n.InstanceID)
		fmt.Fprintln(w, line)
		if len(n.Options) > 0 {
			fmt.Fprintln(w, indent+"  "+mutedStyle.Render("options: "+strings.Join(n.Options, ", ")))
		}
		if n.CanAdd {
			fmt.Fprintln(w, indent+"  "+mutedStyle.Render("+ repeatable children can be added"))
		}
		renderTree(w, n.Children, depth+1)
	}
}

func assessmentMarkdown(ns string, res calc.Results) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Assessments (%s)\n\n", ns)

	if len(res.Scores) > 0 {
		b.WriteString("| Score | Value |\n|---|---|\n")
		keys := make([]string, 0, len(res.Scores))
		for k := range res.Scores {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "| %s | %g |\n", k, res.Scores[k])
		}
		b.WriteString("\n")
	}

	if len(res.Assessments) == 0 {
		b.WriteString("No assessment matched.\n\n")
	}
	for _, a := range res.Assessments {
		fmt.Fprintf(&b, "## %s: %s\n\n%s\n\n", a.ID, a.Level, a.Result)
		if a.Explanation != "" {
			fmt.Fprintf(&b, "%s\n\n", a.Explanation)
		}
		if a.Required {
			b.WriteString("**Follow-up required.**\n\n")
		}
		ids := make([]string, 0, len(a.Criteria))
		for id := range a.Criteria {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			mark := " "
			if a.Criteria[id] {
				mark = "x"
			}
			fmt.Fprintf(&b, "- [%s] %s\n", mark, id)
		}
		if len(ids) > 0 {
			b.WriteString("\n")
		}
	}

	if msgs := res.ErrorMessages(); len(msgs) > 0 {
		b.WriteString("## Errors\n\n")
		for _, m := range msgs {
			fmt.Fprintf(&b, "- `%s`\n", m)
		}
	}
	return b.String()
}

// renderMarkdown formats markdown for the terminal, falling back to the raw
// text when no renderer can be built.
func renderMarkdown(md string, width int) string {
	style := styles.ASCIIStyleConfig
	style.Item.BlockPrefix = "- "
	r, err := glamour.NewTermRenderer(
		glamour.WithStyles(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

func marshalIndent(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
