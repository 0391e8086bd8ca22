package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/csv-chatbot/backend/internal/models"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DelimitedParser handles comma, semicolon and tab separated text with a
// header row.
type DelimitedParser struct {
	name       string
	comma      rune
	extensions []string
	// sniff, when set, accepts files whose header line is dominated by comma
	// regardless of extension.
	sniff bool
}

// NewCSVParser returns the default comma separated parser.
func NewCSVParser() *DelimitedParser {
	return &DelimitedParser{
		name:       "csv",
		comma:      ',',
		extensions: []string{".csv", ".txt", ""},
	}
}

// NewTSVParser returns a tab separated parser.
func NewTSVParser() *DelimitedParser {
	return &DelimitedParser{
		name:       "tsv",
		comma:      '\t',
		extensions: []string{".tsv", ".tab"},
		sniff:      true,
	}
}

// NewSemicolonParser returns a parser for semicolon separated exports, as
// written by spreadsheet tools in comma-decimal locales.
func NewSemicolonParser() *DelimitedParser {
	return &DelimitedParser{
		name:  "semicolon",
		comma: ';',
		sniff: true,
	}
}

func (p *DelimitedParser) Name() string {
	return p.name
}

func (p *DelimitedParser) CanParse(filename string, head []byte) bool {
	ext := extension(filename)
	for _, e := range p.extensions {
		if ext == e {
			return true
		}
	}
	if !p.sniff {
		return false
	}
	if ext != ".csv" && ext != ".txt" && ext != "" {
		return false
	}
	line := firstLine(bytes.TrimPrefix(head, utf8BOM))
	own := countOutsideQuotes(line, p.comma)
	return own > 0 && own > countOutsideQuotes(line, ',')
}

// Parse reads a header line followed by data rows. Rows shorter than the
// header are padded with empty cells; longer rows are rejected.
func (p *DelimitedParser) Parse(name string, r io.Reader) (*models.Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ParseError{File: name, Reason: "failed to read upload", Err: err}
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ParseError{File: name, Reason: "No columns to parse from file"}
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = p.comma
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ParseError{File: name, Reason: "No columns to parse from file"}
		}
		return nil, csvError(name, err)
	}
	columns := normalizeHeader(header)
	ncol := len(columns)

	cells := newCellIntern()
	rows := make([][]string, 0, 64)
	for {
		rec, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, csvError(name, err)
		}
		if len(rec) > ncol {
			line, _ := cr.FieldPos(0)
			return nil, &ParseError{
				File:   name,
				Line:   line,
				Reason: fmt.Sprintf("Expected %d fields in line %d, saw %d", ncol, line, len(rec)),
			}
		}
		if len(rec) < ncol {
			padded := make([]string, ncol)
			copy(padded, rec)
			rec = padded
		}
		rows = append(rows, cells.Row(rec))
	}

	return &models.Table{
		Name:       name,
		Columns:    columns,
		Rows:       rows,
		UploadedAt: time.Now(),
	}, nil
}

func csvError(name string, err error) error {
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return &ParseError{File: name, Line: perr.Line, Reason: "malformed delimited text", Err: perr.Err}
	}
	return &ParseError{File: name, Reason: "malformed delimited text", Err: err}
}

// normalizeHeader names blank header cells "Unnamed: <i>" and disambiguates
// duplicates with ".1", ".2", ... suffixes.
func normalizeHeader(header []string) []string {
	columns := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		name := h
		if strings.TrimSpace(name) == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		if n, dup := seen[name]; dup {
			base := name
			for {
				n++
				name = base + "." + strconv.Itoa(n)
				if _, taken := seen[name]; !taken {
					break
				}
			}
			seen[base] = n
		}
		seen[name] = 0
		columns[i] = name
	}
	return columns
}
