package parser

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/csv-chatbot/backend/internal/models"
)

// Parser turns an uploaded file into a table.
type Parser interface {
	// Name returns the unique name of the parser.
	Name() string
	// CanParse reports whether this parser handles a file with the given
	// name and leading bytes.
	CanParse(filename string, head []byte) bool
	// Parse reads the whole input and returns the table.
	Parse(name string, r io.Reader) (*models.Table, error)
}

// ParseError describes an upload that could not be turned into a table.
type ParseError struct {
	File   string
	Line   int
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		b.WriteString(": ")
	}
	b.WriteString(e.Reason)
	if e.Line > 0 && !strings.Contains(e.Reason, "line") {
		fmt.Fprintf(&b, " (line %d)", e.Line)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// headLimit is how many leading bytes are inspected for sniffing.
const headLimit = 4096

// Head returns the leading bytes used by CanParse.
func Head(data []byte) []byte {
	if len(data) > headLimit {
		return data[:headLimit]
	}
	return data
}

func extension(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// firstLine returns the first non-blank line of head.
func firstLine(head []byte) string {
	for _, line := range strings.Split(string(head), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			return line
		}
	}
	return ""
}

// countOutsideQuotes counts sep occurrences that are not inside a quoted field.
func countOutsideQuotes(line string, sep rune) int {
	inQuotes := false
	n := 0
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == sep && !inQuotes:
			n++
		}
	}
	return n
}
