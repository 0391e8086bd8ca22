package models

import "time"

// Table is a parsed delimited file: ordered column names plus rows of cells.
// Every row has exactly len(Columns) cells.
type Table struct {
	Name       string     `json:"name" msgpack:"name"`
	Columns    []string   `json:"columns" msgpack:"columns"`
	Rows       [][]string `json:"rows" msgpack:"rows"`
	UploadedAt time.Time  `json:"uploadedAt" msgpack:"uploadedAt"`
}

// NumRows returns the number of data rows.
func (t *Table) NumRows() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Head returns a table holding at most the first n rows.
// The returned rows share storage with t and must not be modified.
func (t *Table) Head(n int) *Table {
	if t == nil {
		return nil
	}
	if n < 0 {
		n = 0
	}
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	return &Table{
		Name:       t.Name,
		Columns:    t.Columns,
		Rows:       t.Rows[:n],
		UploadedAt: t.UploadedAt,
	}
}

// Info returns the lightweight description of the table.
func (t *Table) Info() *TableInfo {
	if t == nil {
		return nil
	}
	return &TableInfo{
		Name:       t.Name,
		Columns:    append([]string(nil), t.Columns...),
		RowCount:   len(t.Rows),
		UploadedAt: t.UploadedAt,
	}
}

// TableInfo describes an uploaded table without its rows.
type TableInfo struct {
	Name       string    `json:"name" yaml:"name"`
	Columns    []string  `json:"columns" yaml:"columns"`
	RowCount   int       `json:"rowCount" yaml:"rowCount"`
	UploadedAt time.Time `json:"uploadedAt" yaml:"uploadedAt"`
}
