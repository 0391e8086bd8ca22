package session

import (
	"strings"

	"github.com/csv-chatbot/backend/internal/analysis"
	"github.com/csv-chatbot/backend/internal/models"
)

// DefaultContextRows is how many table rows are shown to the model.
const DefaultContextRows = 2

// BuildContext renders the table excerpt sent along with every question:
// the first rows as a markdown table followed by the column list. It is
// empty when no table is loaded.
func BuildContext(t *models.Table, rows int) string {
	if t == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("Here's the preview of the uploaded CSV:\n")
	b.WriteString(analysis.MarkdownTable(t, rows))
	b.WriteString("Columns: ")
	b.WriteString(strings.Join(t.Columns, ", "))
	return b.String()
}

// BuildPrompt joins the context and the question. Prior turns are never
// included.
func BuildPrompt(context, question string) string {
	return context + "\n\n" + question
}
