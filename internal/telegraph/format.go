package telegraph

import (
	"fmt"
	"strings"

	"github.com/zulandar/opal/internal/models"
	"github.com/zulandar/opal/internal/render"
)

// Card colors.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// maxCardBody keeps card bodies under the smaller of the platform limits
// (Discord embed descriptions cap at 4096).
const maxCardBody = 3500

// PlanCard summarizes a plan: the goal, then one line per step.
func PlanCard(plan *models.OPALPlan, warnings []models.PlanWarning) Card {
	if plan == nil {
		return Card{Title: "No plan yet", Color: ColorInfo}
	}

	var b strings.Builder
	for i, s := range plan.Steps {
		obj := s.Objective
		if obj == "" {
			obj = s.StepID
		}
		fmt.Fprintf(&b, "%d. %s", i+1, obj)
		if s.RecommendedFacility != "" {
			fmt.Fprintf(&b, " (%s)", s.RecommendedFacility)
		}
		if s.IsHypothesis {
			b.WriteString(" [hypothesis]")
		}
		if len(s.Dependencies) > 0 {
			fmt.Fprintf(&b, " after %s", strings.Join(s.Dependencies, ", "))
		}
		b.WriteString("\n")
	}

	card := Card{
		Title: "Plan: " + nonEmpty(plan.GoalSummary, "untitled"),
		Body:  clip(b.String(), maxCardBody),
		Color: ColorSuccess,
		Fields: []Field{
			{Name: "Steps", Value: fmt.Sprintf("%d", len(plan.Steps)), Short: true},
			{Name: "Open questions", Value: fmt.Sprintf("%d", len(plan.OpenQuestions)), Short: true},
		},
	}
	if len(plan.RisksAndAlternatives) > 0 {
		card.Fields = append(card.Fields, Field{Name: "Risks", Value: fmt.Sprintf("%d", len(plan.RisksAndAlternatives)), Short: true})
	}
	if len(warnings) > 0 {
		card.Color = ColorWarning
		lines := make([]string, len(warnings))
		for i, w := range warnings {
			lines[i] = w.String()
		}
		card.Fields = append(card.Fields, Field{Name: "Warnings", Value: strings.Join(lines, "\n")})
	}
	return card
}

// SourcesCard lists sources grouped by document title.
func SourcesCard(sources []models.SearchResult) Card {
	if len(sources) == 0 {
		return Card{Title: "No sources yet", Color: ColorInfo}
	}
	var b strings.Builder
	groups := render.GroupSources(sources)
	for _, g := range groups {
		fmt.Fprintf(&b, "• %s (%d)\n", g.Title, len(g.Results))
	}
	return Card{
		Title: fmt.Sprintf("Sources (%d from %d documents)", len(sources), len(groups)),
		Body:  clip(b.String(), maxCardBody),
		Color: ColorInfo,
	}
}

// ErrorCard reports a failure.
func ErrorCard(title string, err error) Card {
	return Card{Title: title, Body: err.Error(), Color: ColorError}
}

// SplitText breaks s into chunks of at most max bytes, preferring line
// breaks. Platforms reject messages over their length limit.
func SplitText(s string, max int) []string {
	if max <= 0 || len(s) <= max {
		return []string{s}
	}
	var chunks []string
	for len(s) > max {
		cut := strings.LastIndex(s[:max], "\n")
		if cut <= 0 {
			cut = max
			// Avoid splitting a multi-byte rune.
			for cut > 0 && !isRuneStart(s[cut]) {
				cut--
			}
		}
		chunks = append(chunks, s[:cut])
		s = strings.TrimPrefix(s[cut:], "\n")
	}
	if s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// truncate returns s truncated to maxLen with "..." appended if needed.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.TrimRight(s[:max], "\n") + "\n…"
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
