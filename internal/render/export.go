package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/zulandar/opal/internal/models"
)

// Export formats.
const (
	FormatMarkdown = "md"
	FormatJSON     = "json"
)

// Document is a conversation prepared for export.
type Document struct {
	ConversationID string                `json:"conversation_id,omitempty"`
	Title          string                `json:"title,omitempty"`
	ExportedAt     time.Time             `json:"exported_at"`
	Messages       []models.ChatMessage  `json:"messages"`
	Plan           *models.OPALPlan      `json:"plan,omitempty"`
	PlanWarnings   []models.PlanWarning  `json:"plan_warnings,omitempty"`
	Sources        []models.SearchResult `json:"sources"`
}

// DocumentFromDetail builds an export document from a stored conversation.
func DocumentFromDetail(d *models.ConversationDetail, now time.Time) Document {
	doc := Document{
		ConversationID: d.ID,
		ExportedAt:     now,
		Messages:       d.Messages,
		Plan:           d.Plan,
		PlanWarnings:   models.ValidatePlan(d.Plan),
		Sources:        d.Sources,
	}
	if d.Title != nil {
		doc.Title = *d.Title
	}
	return doc
}

// ParseFormat normalizes a format name or file extension.
func ParseFormat(s string) (string, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "md", "markdown":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("render: unknown export format %q (want md or json)", s)
}

// Export writes doc to w in the given format.
func Export(w io.Writer, doc Document, format string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("render: export json: %w", err)
		}
		return nil
	case FormatMarkdown:
		if _, err := io.WriteString(w, Markdown(doc)); err != nil {
			return fmt.Errorf("render: export markdown: %w", err)
		}
		return nil
	}
	return fmt.Errorf("render: unknown export format %q", format)
}

// Markdown formats the whole document: transcript, plan, then sources.
func Markdown(doc Document) string {
	var b strings.Builder

	title := doc.Title
	if title == "" {
		title = "OPAL conversation"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	if doc.ConversationID != "" {
		fmt.Fprintf(&b, "_Conversation %s, exported %s_\n\n", doc.ConversationID, doc.ExportedAt.UTC().Format(time.RFC3339))
	} else {
		fmt.Fprintf(&b, "_Exported %s_\n\n", doc.ExportedAt.UTC().Format(time.RFC3339))
	}

	b.WriteString("## Transcript\n\n")
	for _, m := range doc.Messages {
		fmt.Fprintf(&b, "**%s:** %s\n\n", speaker(m.Role), m.Content)
	}

	if doc.Plan != nil {
		// Demote the plan's headings one level under the document title.
		for _, line := range strings.Split(strings.TrimRight(PlanMarkdown(doc.Plan, doc.PlanWarnings), "\n"), "\n") {
			if strings.HasPrefix(line, "#") {
				line = "#" + line
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}

	if len(doc.Sources) > 0 {
		b.WriteString("## Sources\n\n")
		for _, g := range GroupSources(doc.Sources) {
			fmt.Fprintf(&b, "### %s\n\n", g.Title)
			for _, r := range g.Results {
				fmt.Fprintf(&b, "- (%.2f) %s\n", r.Score, excerpt(r.Text, 300))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
