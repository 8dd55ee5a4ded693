// Package render projects conversation state into text: the transcript, the
// plan, grouped sources, and exported documents. Every function is pure.
package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zulandar/opal/internal/models"
)

// speaker returns the display label for a message role.
func speaker(role string) string {
	switch role {
	case models.RoleUser:
		return "You"
	case models.RoleAssistant:
		return "OPAL"
	default:
		return role
	}
}

// Transcript formats messages as "Speaker: content" blocks separated by a
// blank line.
func Transcript(messages []models.ChatMessage) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker(m.Role), strings.TrimRight(m.Content, "\n"))
	}
	return b.String()
}

// ProgressLine formats a job snapshot as a one-line status, e.g.
// "processing 40% Searching capabilities".
func ProgressLine(j models.Job) string {
	line := fmt.Sprintf("%s %d%%", j.Status, int(j.ProgressFraction()*100+0.5))
	if j.ProgressMessage != "" {
		line += " " + j.ProgressMessage
	}
	return line
}

// SourceGroup is the set of hits drawn from one source document.
type SourceGroup struct {
	Title      string
	DocumentID string
	Results    []models.SearchResult
}

// GroupSources groups hits by source document, keeping first-seen order of
// documents and of hits within each document.
func GroupSources(sources []models.SearchResult) []SourceGroup {
	var groups []SourceGroup
	index := make(map[string]int)
	for _, s := range sources {
		key := s.SourceDocumentID
		if key == "" {
			key = "title:" + s.SourceTitle
		}
		i, ok := index[key]
		if !ok {
			title := s.SourceTitle
			if title == "" {
				title = "Untitled source"
			}
			groups = append(groups, SourceGroup{Title: title, DocumentID: s.SourceDocumentID})
			i = len(groups) - 1
			index[key] = i
		}
		groups[i].Results = append(groups[i].Results, s)
	}
	return groups
}

// Sources formats grouped sources as plain text, one excerpt per hit.
func Sources(sources []models.SearchResult) string {
	if len(sources) == 0 {
		return "No sources yet.\n"
	}
	var b strings.Builder
	for i, g := range GroupSources(sources) {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s (%d)\n", g.Title, len(g.Results))
		for _, r := range g.Results {
			fmt.Fprintf(&b, "  [%s] %.2f  %s\n", r.ChunkID, r.Score, excerpt(r.Text, 120))
		}
	}
	return b.String()
}

// excerpt collapses whitespace and truncates s to at most n runes.
func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// PlanMarkdown formats a plan as Markdown. Warnings, if any, are listed
// after the goal.
func PlanMarkdown(plan *models.OPALPlan, warnings []models.PlanWarning) string {
	if plan == nil {
		return "_No plan yet._\n"
	}
	var b strings.Builder

	b.WriteString("# Research plan\n\n")
	if plan.GoalSummary != "" {
		fmt.Fprintf(&b, "**Goal:** %s\n\n", plan.GoalSummary)
	}

	if len(warnings) > 0 {
		b.WriteString("> **Plan warnings**\n")
		for _, w := range warnings {
			fmt.Fprintf(&b, "> - %s\n", w)
		}
		b.WriteString("\n")
	}

	writeList(&b, "## Assumptions", plan.Assumptions)

	if len(plan.Steps) > 0 {
		b.WriteString("## Steps\n\n")
		for i, s := range plan.Steps {
			writeStep(&b, i+1, s)
		}
	}

	writeList(&b, "## Open questions", plan.OpenQuestions)

	if len(plan.RisksAndAlternatives) > 0 {
		b.WriteString("## Risks and alternatives\n\n")
		b.WriteString("| Risk | Impact | Alternative |\n|---|---|---|\n")
		for _, r := range plan.RisksAndAlternatives {
			alt := r.Alternative
			if alt == "" {
				alt = "-"
			}
			fmt.Fprintf(&b, "| %s | %s | %s |\n", cell(r.Risk), cell(r.Impact), cell(alt))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func writeStep(b *strings.Builder, n int, s models.PlanStep) {
	title := s.Objective
	if title == "" {
		title = s.StepID
	}
	fmt.Fprintf(b, "### %d. %s", n, title)
	if s.IsHypothesis {
		b.WriteString(" _(hypothesis)_")
	}
	b.WriteString("\n\n")

	if s.StepID != "" {
		fmt.Fprintf(b, "- **Step ID:** %s\n", s.StepID)
	}
	if s.RecommendedFacility != "" {
		fmt.Fprintf(b, "- **Facility:** %s\n", s.RecommendedFacility)
	}
	writeInline(b, "Capabilities", s.CapabilityIDs)
	writeInline(b, "Inputs", s.Inputs)
	writeInline(b, "Outputs", s.Outputs)
	writeInline(b, "Constraints", s.Constraints)
	writeInline(b, "Depends on", s.Dependencies)
	writeInline(b, "Decision points", s.DecisionPoints)

	if len(s.Citations) > 0 {
		b.WriteString("- **Citations:**\n")
		for _, c := range s.Citations {
			label := c.SourceTitle
			if label == "" {
				label = c.SourceDocumentID
			}
			fmt.Fprintf(b, "  - %s: \"%s\"\n", label, excerpt(c.Quote, 200))
		}
	}
	b.WriteString("\n")
}

func writeList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(heading + "\n\n")
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
	b.WriteString("\n")
}

func writeInline(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "- **%s:** %s\n", label, strings.Join(items, ", "))
}

// cell escapes pipes and newlines for a Markdown table cell.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.Join(strings.Fields(s), " ")
}

// StepOrder returns step IDs in an order where every step follows the steps
// it depends on. Unknown dependencies are ignored; steps caught in a cycle
// keep their plan order at the end.
func StepOrder(plan *models.OPALPlan) []string {
	if plan == nil {
		return nil
	}
	pos := make(map[string]int, len(plan.Steps))
	indeg := make(map[string]int, len(plan.Steps))
	next := make(map[string][]string)
	for i, s := range plan.Steps {
		if s.StepID == "" {
			continue
		}
		if _, dup := pos[s.StepID]; dup {
			continue
		}
		pos[s.StepID] = i
		indeg[s.StepID] = 0
	}
	for _, s := range plan.Steps {
		if _, ok := pos[s.StepID]; !ok {
			continue
		}
		for _, d := range s.Dependencies {
			if _, ok := pos[d]; !ok || d == s.StepID {
				continue
			}
			next[d] = append(next[d], s.StepID)
			indeg[s.StepID]++
		}
	}

	var ready, out []string
	for id, n := range indeg {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	byPos := func(ids []string) {
		sort.Slice(ids, func(i, j int) bool { return pos[ids[i]] < pos[ids[j]] })
	}
	byPos(ready)
	done := make(map[string]bool)
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		out = append(out, id)
		done[id] = true
		for _, n := range next[id] {
			indeg[n]--
			if indeg[n] == 0 {
				ready = append(ready, n)
			}
		}
		byPos(ready)
	}
	var rest []string
	for id := range pos {
		if !done[id] {
			rest = append(rest, id)
		}
	}
	byPos(rest)
	return append(out, rest...)
}
