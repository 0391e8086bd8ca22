package analysis

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/csv-chatbot/backend/internal/models"
)

// Column kinds reported by Summarize.
const (
	KindNumeric = "numeric"
	KindText    = "text"
	KindEmpty   = "empty"
)

// missingMarkers are cell values treated as absent, matching what common
// dataframe readers treat as NA by default.
var missingMarkers = map[string]struct{}{
	"":         {},
	"#N/A":     {},
	"#N/A N/A": {},
	"#NA":      {},
	"-1.#IND":  {},
	"-1.#QNAN": {},
	"-NaN":     {},
	"-nan":     {},
	"1.#IND":   {},
	"1.#QNAN":  {},
	"<NA>":     {},
	"N/A":      {},
	"NA":       {},
	"NULL":     {},
	"NaN":      {},
	"None":     {},
	"n/a":      {},
	"nan":      {},
	"null":     {},
}

// IsMissing reports whether a cell counts as a missing value.
func IsMissing(cell string) bool {
	_, ok := missingMarkers[strings.TrimSpace(cell)]
	return ok
}

// ParseNumber parses a cell as float64. Missing cells do not parse.
func ParseNumber(cell string) (float64, bool) {
	s := strings.TrimSpace(cell)
	if IsMissing(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Summary is the describe view of a table.
type Summary struct {
	Name    string          `json:"name"`
	Rows    int             `json:"rows"`
	Columns []string        `json:"columns"`
	Stats   []ColumnSummary `json:"stats"`
}

// ColumnSummary holds per-column descriptive statistics. Numeric fields are
// only set for numeric columns; Unique/Top/Freq only for text columns.
type ColumnSummary struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Count   int    `json:"count"`
	Missing int    `json:"missing"`

	Mean   *float64 `json:"mean,omitempty"`
	Std    *float64 `json:"std,omitempty"`
	Min    *float64 `json:"min,omitempty"`
	Q25    *float64 `json:"q25,omitempty"`
	Median *float64 `json:"median,omitempty"`
	Q75    *float64 `json:"q75,omitempty"`
	Max    *float64 `json:"max,omitempty"`

	Unique int    `json:"unique,omitempty"`
	Top    string `json:"top,omitempty"`
	Freq   int    `json:"freq,omitempty"`
}

// Stat returns the summary for the named column.
func (s *Summary) Stat(name string) (ColumnSummary, bool) {
	for _, c := range s.Stats {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSummary{}, false
}

// Summarize computes descriptive statistics for every column of t. It is a
// pure function of t and is recomputed on every call.
func Summarize(t *models.Table) *Summary {
	if t == nil {
		return nil
	}
	sum := &Summary{
		Name:    t.Name,
		Rows:    len(t.Rows),
		Columns: append([]string(nil), t.Columns...),
		Stats:   make([]ColumnSummary, 0, len(t.Columns)),
	}
	for j, name := range t.Columns {
		sum.Stats = append(sum.Stats, summarizeColumn(name, t.Rows, j))
	}
	return sum
}

func summarizeColumn(name string, rows [][]string, j int) ColumnSummary {
	cs := ColumnSummary{Name: name}

	values := make([]string, 0, len(rows))
	for _, row := range rows {
		cell := ""
		if j < len(row) {
			cell = row[j]
		}
		if IsMissing(cell) {
			cs.Missing++
			continue
		}
		values = append(values, cell)
	}
	cs.Count = len(values)
	if cs.Count == 0 {
		cs.Kind = KindEmpty
		return cs
	}

	nums := make([]float64, 0, len(values))
	for _, v := range values {
		f, ok := ParseNumber(v)
		if !ok {
			nums = nil
			break
		}
		nums = append(nums, f)
	}

	if nums != nil {
		cs.Kind = KindNumeric
		fillNumeric(&cs, nums)
		return cs
	}

	cs.Kind = KindText
	fillCategorical(&cs, values)
	return cs
}

// fillNumeric uses Welford's update for mean and variance.
func fillNumeric(cs *ColumnSummary, nums []float64) {
	var n int
	var mean, m2 float64
	for _, x := range nums {
		n++
		delta := x - mean
		mean += delta / float64(n)
		m2 += delta * (x - mean)
	}

	sorted := append([]float64(nil), nums...)
	sort.Float64s(sorted)

	cs.Mean = ptr(mean)
	// Sample std is undefined for a single value; Std stays nil.
	if n > 1 {
		cs.Std = ptr(math.Sqrt(m2 / float64(n-1)))
	}
	cs.Min = ptr(sorted[0])
	cs.Q25 = ptr(quantile(sorted, 0.25))
	cs.Median = ptr(quantile(sorted, 0.5))
	cs.Q75 = ptr(quantile(sorted, 0.75))
	cs.Max = ptr(sorted[len(sorted)-1])
}

// fillCategorical picks the most frequent value; ties go to the value seen
// first.
func fillCategorical(cs *ColumnSummary, values []string) {
	counts := make(map[string]int, len(values))
	order := make([]string, 0)
	for _, v := range values {
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}
	cs.Unique = len(counts)
	for _, v := range order {
		if counts[v] > cs.Freq {
			cs.Top = v
			cs.Freq = counts[v]
		}
	}
}

// quantile interpolates linearly between the closest ranks of sorted.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	w := pos - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}

func ptr(f float64) *float64 {
	return &f
}

// Markdown renders the summary as a describe-style table: one row per
// statistic, one column per table column.
func (s *Summary) Markdown() string {
	if s == nil || len(s.Stats) == 0 {
		return "_No columns to summarize._\n"
	}

	header := make([]string, 0, len(s.Stats)+1)
	header = append(header, "")
	for _, c := range s.Stats {
		header = append(header, escapeCell(c.Name))
	}

	type statRow struct {
		label string
		cell  func(c ColumnSummary) string
	}
	num := func(get func(c ColumnSummary) *float64) func(c ColumnSummary) string {
		return func(c ColumnSummary) string {
			return formatFloat(get(c))
		}
	}
	stats := []statRow{
		{"count", func(c ColumnSummary) string { return strconv.Itoa(c.Count) }},
		{"unique", func(c ColumnSummary) string {
			if c.Kind != KindText {
				return ""
			}
			return strconv.Itoa(c.Unique)
		}},
		{"top", func(c ColumnSummary) string { return escapeCell(c.Top) }},
		{"freq", func(c ColumnSummary) string {
			if c.Kind != KindText {
				return ""
			}
			return strconv.Itoa(c.Freq)
		}},
		{"mean", num(func(c ColumnSummary) *float64 { return c.Mean })},
		{"std", func(c ColumnSummary) string {
			if c.Kind == KindNumeric && c.Std == nil {
				return "NaN"
			}
			return formatFloat(c.Std)
		}},
		{"min", num(func(c ColumnSummary) *float64 { return c.Min })},
		{"25%", num(func(c ColumnSummary) *float64 { return c.Q25 })},
		{"50%", num(func(c ColumnSummary) *float64 { return c.Median })},
		{"75%", num(func(c ColumnSummary) *float64 { return c.Q75 })},
		{"max", num(func(c ColumnSummary) *float64 { return c.Max })},
	}

	hasText, hasNumeric := false, false
	for _, c := range s.Stats {
		switch c.Kind {
		case KindText:
			hasText = true
		case KindNumeric:
			hasNumeric = true
		}
	}

	var b strings.Builder
	writeRow(&b, header)
	align := make([]string, len(header))
	for i := range align {
		align[i] = "---:"
	}
	align[0] = ":---"
	writeRow(&b, align)
	for _, st := range stats {
		isTextStat := st.label == "unique" || st.label == "top" || st.label == "freq"
		if isTextStat && !hasText {
			continue
		}
		if !isTextStat && st.label != "count" && !hasNumeric {
			continue
		}
		cells := make([]string, 0, len(header))
		cells = append(cells, st.label)
		for _, c := range s.Stats {
			cells = append(cells, st.cell(c))
		}
		writeRow(&b, cells)
	}
	return b.String()
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	if math.IsNaN(*f) {
		return "NaN"
	}
	return strconv.FormatFloat(*f, 'g', 6, 64)
}

// String is a short human description used in logs.
func (s *Summary) String() string {
	return fmt.Sprintf("%s: %d rows x %d columns", s.Name, s.Rows, len(s.Columns))
}
