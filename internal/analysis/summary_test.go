package analysis

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csv-chatbot/backend/internal/models"
)

func newTable(cols []string, rows ...[]string) *models.Table {
	return &models.Table{Name: "test.csv", Columns: cols, Rows: rows}
}

func TestSummarize_Numeric(t *testing.T) {
	tbl := newTable([]string{"a", "b"}, []string{"1", "2"}, []string{"3", "4"})

	sum := Summarize(tbl)
	require.NotNil(t, sum)
	assert.Equal(t, 2, sum.Rows)
	assert.Equal(t, []string{"a", "b"}, sum.Columns)

	a, ok := sum.Stat("a")
	require.True(t, ok)
	assert.Equal(t, KindNumeric, a.Kind)
	assert.Equal(t, 2, a.Count)
	assert.Equal(t, 1.0, *a.Min)
	assert.Equal(t, 3.0, *a.Max)
	assert.Equal(t, 2.0, *a.Mean)
	assert.InDelta(t, math.Sqrt2, *a.Std, 1e-9)
	assert.InDelta(t, 1.5, *a.Q25, 1e-9)
	assert.InDelta(t, 2.0, *a.Median, 1e-9)
	assert.InDelta(t, 2.5, *a.Q75, 1e-9)
}

func TestSummarize_Categorical(t *testing.T) {
	tbl := newTable([]string{"city"},
		[]string{"Oslo"}, []string{"Paris"}, []string{"Oslo"}, []string{"Rome"})

	c, ok := Summarize(tbl).Stat("city")
	require.True(t, ok)
	assert.Equal(t, KindText, c.Kind)
	assert.Equal(t, 4, c.Count)
	assert.Equal(t, 3, c.Unique)
	assert.Equal(t, "Oslo", c.Top)
	assert.Equal(t, 2, c.Freq)
	assert.Nil(t, c.Mean)
}

func TestSummarize_TieGoesToFirstSeen(t *testing.T) {
	tbl := newTable([]string{"x"}, []string{"b"}, []string{"a"}, []string{"a"}, []string{"b"})

	c, _ := Summarize(tbl).Stat("x")
	assert.Equal(t, "b", c.Top)
	assert.Equal(t, 2, c.Freq)
}

func TestSummarize_MissingValues(t *testing.T) {
	tbl := newTable([]string{"v", "empty"},
		[]string{"1", ""}, []string{"NA", "nan"}, []string{"", "NULL"}, []string{"5", ""})

	sum := Summarize(tbl)

	v, _ := sum.Stat("v")
	assert.Equal(t, KindNumeric, v.Kind)
	assert.Equal(t, 2, v.Count)
	assert.Equal(t, 2, v.Missing)
	assert.Equal(t, 3.0, *v.Mean)

	e, _ := sum.Stat("empty")
	assert.Equal(t, KindEmpty, e.Kind)
	assert.Equal(t, 0, e.Count)
	assert.Equal(t, 4, e.Missing)
}

func TestSummarize_MixedColumnIsText(t *testing.T) {
	tbl := newTable([]string{"m"}, []string{"1"}, []string{"two"}, []string{"3"})

	m, _ := Summarize(tbl).Stat("m")
	assert.Equal(t, KindText, m.Kind)
	assert.Equal(t, 3, m.Unique)
}

func TestSummarize_SingleValueStdIsNaN(t *testing.T) {
	sum := Summarize(newTable([]string{"a"}, []string{"7"}))
	s, _ := sum.Stat("a")
	assert.Nil(t, s.Std)
	assert.Equal(t, 7.0, *s.Median)
	assert.Contains(t, sum.Markdown(), "| std | NaN |")

	_, err := json.Marshal(sum)
	assert.NoError(t, err)
}

func TestSummarize_NilTable(t *testing.T) {
	assert.Nil(t, Summarize(nil))
}

func TestSummarize_NotCached(t *testing.T) {
	tbl := newTable([]string{"a"}, []string{"1"})
	first, _ := Summarize(tbl).Stat("a")

	tbl.Rows = append(tbl.Rows, []string{"9"})
	second, _ := Summarize(tbl).Stat("a")

	assert.Equal(t, 1, first.Count)
	assert.Equal(t, 2, second.Count)
	assert.Equal(t, 9.0, *second.Max)
}

func TestQuantile(t *testing.T) {
	tests := []struct {
		name   string
		sorted []float64
		q      float64
		want   float64
	}{
		{"single", []float64{4}, 0.5, 4},
		{"median odd", []float64{1, 2, 3}, 0.5, 2},
		{"median even", []float64{1, 2, 3, 4}, 0.5, 2.5},
		{"lower quartile", []float64{1, 2, 3, 4}, 0.25, 1.75},
		{"upper quartile", []float64{1, 2, 3, 4}, 0.75, 3.25},
		{"min", []float64{1, 2}, 0, 1},
		{"max", []float64{1, 2}, 1, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, quantile(tt.sorted, tt.q), 1e-9)
		})
	}
	assert.True(t, math.IsNaN(quantile(nil, 0.5)))
}

func TestSummaryMarkdown(t *testing.T) {
	tbl := newTable([]string{"n", "s"}, []string{"1", "x"}, []string{"3", "y"})

	md := Summarize(tbl).Markdown()
	assert.Contains(t, md, "|  | n | s |")
	assert.Contains(t, md, "| count | 2 | 2 |")
	assert.Contains(t, md, "| unique |  | 2 |")
	assert.Contains(t, md, "| mean | 2 |  |")
	assert.Contains(t, md, "| max | 3 |  |")
}

func TestSummaryMarkdown_NumericOnlyOmitsTextRows(t *testing.T) {
	md := Summarize(newTable([]string{"n"}, []string{"1"})).Markdown()
	assert.NotContains(t, md, "unique")
	assert.Contains(t, md, "| 50% | 1 |")
}
