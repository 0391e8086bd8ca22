package analysis

import (
	"strconv"
	"strings"

	"github.com/csv-chatbot/backend/internal/models"
)

// MarkdownTable renders the first n rows of t as a pipe table with a leading
// row index column. n <= 0 renders the header only.
func MarkdownTable(t *models.Table, n int) string {
	if t == nil || len(t.Columns) == 0 {
		return ""
	}

	var b strings.Builder
	header := make([]string, 0, len(t.Columns)+1)
	header = append(header, "")
	for _, c := range t.Columns {
		header = append(header, escapeCell(c))
	}
	writeRow(&b, header)

	align := make([]string, len(header))
	align[0] = "---:"
	for i := 1; i < len(align); i++ {
		align[i] = ":---"
	}
	writeRow(&b, align)

	for i, row := range t.Head(n).Rows {
		cells := make([]string, 0, len(header))
		cells = append(cells, strconv.Itoa(i))
		for j := range t.Columns {
			cell := ""
			if j < len(row) {
				cell = row[j]
			}
			cells = append(cells, escapeCell(cell))
		}
		writeRow(&b, cells)
	}
	return b.String()
}

func writeRow(b *strings.Builder, cells []string) {
	b.WriteString("| ")
	b.WriteString(strings.Join(cells, " | "))
	b.WriteString(" |\n")
}

var cellEscaper = strings.NewReplacer("|", `\|`, "\r\n", " ", "\n", " ", "\r", " ")

func escapeCell(s string) string {
	return cellEscaper.Replace(s)
}
