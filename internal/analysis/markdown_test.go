package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkdownTable(t *testing.T) {
	tbl := newTable([]string{"a", "b"}, []string{"1", "2"}, []string{"3", "4"}, []string{"5", "6"})

	want := "|  | a | b |\n" +
		"| ---: | :--- | :--- |\n" +
		"| 0 | 1 | 2 |\n" +
		"| 1 | 3 | 4 |\n"
	assert.Equal(t, want, MarkdownTable(tbl, 2))
}

func TestMarkdownTable_Edges(t *testing.T) {
	tbl := newTable([]string{"a"}, []string{"x|y"}, []string{"line\nbreak"})

	t.Run("more rows than table", func(t *testing.T) {
		md := MarkdownTable(tbl, 10)
		assert.Contains(t, md, `| 0 | x\|y |`)
		assert.Contains(t, md, "| 1 | line break |")
	})

	t.Run("zero rows renders header", func(t *testing.T) {
		assert.Equal(t, "|  | a |\n| ---: | :--- |\n", MarkdownTable(tbl, 0))
	})

	t.Run("nil table", func(t *testing.T) {
		assert.Empty(t, MarkdownTable(nil, 2))
	})
}
