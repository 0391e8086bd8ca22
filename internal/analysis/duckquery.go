package analysis

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/marcboeker/go-duckdb"

	"github.com/csv-chatbot/backend/internal/models"
)

// QueryTableName is the table name uploaded data is exposed under.
const QueryTableName = "data"

// DefaultQueryLimit caps result rows when no limit is given.
const DefaultQueryLimit = 200

// ErrQueryNotAllowed is returned for anything other than a single read query.
var ErrQueryNotAllowed = errors.New("only a single SELECT or WITH query is allowed")

// QueryResult is the outcome of QueryTable. Values are rendered as text;
// NULL becomes the empty string.
type QueryResult struct {
	Columns   []string   `json:"columns" msgpack:"columns"`
	Rows      [][]string `json:"rows" msgpack:"rows"`
	Truncated bool       `json:"truncated" msgpack:"truncated"`
	Elapsed   string     `json:"elapsed" msgpack:"elapsed"`
}

type queryOptions struct {
	threads     int
	memoryLimit string
}

// QueryOption tunes the DuckDB instance used by QueryTable.
type QueryOption func(*queryOptions)

// WithThreads sets PRAGMA threads.
func WithThreads(n int) QueryOption {
	return func(o *queryOptions) {
		if n > 0 {
			o.threads = n
		}
	}
}

// WithMemoryLimit sets PRAGMA memory_limit, e.g. "256MB".
func WithMemoryLimit(limit string) QueryOption {
	return func(o *queryOptions) {
		if limit != "" {
			o.memoryLimit = limit
		}
	}
}

// QueryTable loads t into a fresh in-memory DuckDB database as table "data"
// and runs a read-only query against it. At most limit rows are returned.
// Nothing is kept between calls.
func QueryTable(ctx context.Context, t *models.Table, query string, limit int, opts ...QueryOption) (*QueryResult, error) {
	if t == nil {
		return nil, errors.New("no table loaded")
	}
	query, err := normalizeQuery(query)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	o := queryOptions{threads: 2, memoryLimit: "256MB"}
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	connector, err := duckdb.NewConnector("", func(execer driver.ExecerContext) error {
		pragmas := []string{
			fmt.Sprintf("PRAGMA memory_limit='%s'", o.memoryLimit),
			fmt.Sprintf("PRAGMA threads=%d", o.threads),
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(ctx, pragma, nil); err != nil {
				fmt.Printf("[DuckQuery] Pragma error: %v\n", err)
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	// Closing the pool closes the connector and drops the database.
	db := sql.OpenDB(connector)
	defer db.Close()

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	if err := loadTable(ctx, conn, t); err != nil {
		return nil, err
	}
	if err := lockDown(ctx, conn); err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	res := &QueryResult{Columns: cols, Rows: make([][]string, 0)}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if len(res.Rows) >= limit {
			res.Truncated = true
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out := make([]string, len(values))
		for i, v := range values {
			out[i] = formatValue(v)
		}
		res.Rows = append(res.Rows, out)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	res.Elapsed = time.Since(start).String()
	fmt.Printf("[DuckQuery] %d rows from %s in %s\n", len(res.Rows), t.Name, res.Elapsed)
	return res, nil
}

// lockDown cuts the connection off from files, URLs and extensions once the
// table is loaded. The settings are locked so a query cannot undo them.
func lockDown(ctx context.Context, conn *sql.Conn) error {
	for _, stmt := range []string{
		"SET enable_external_access=false",
		"SET lock_configuration=true",
	} {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to restrict query connection: %w", err)
		}
	}
	return nil
}

// loadTable creates the "data" table and fills it with the Appender API.
func loadTable(ctx context.Context, conn *sql.Conn, t *models.Table) error {
	numeric := numericColumns(t)
	names := sqlColumnNames(t.Columns)

	defs := make([]string, len(names))
	for j, name := range names {
		typ := "VARCHAR"
		if numeric[j] {
			typ = "DOUBLE"
		}
		defs[j] = quoteIdent(name) + " " + typ
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", QueryTableName, strings.Join(defs, ", "))
	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	err := conn.Raw(func(driverConn interface{}) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to duckdb.Conn")
		}

		appender, err := duckdb.NewAppenderFromConn(dConn, "", QueryTableName)
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}
		defer appender.Close()

		args := make([]driver.Value, len(names))
		for i, row := range t.Rows {
			for j := range names {
				cell := ""
				if j < len(row) {
					cell = row[j]
				}
				args[j] = cellValue(cell, numeric[j])
			}
			if err := appender.AppendRow(args...); err != nil {
				return fmt.Errorf("failed to append row %d: %w", i, err)
			}
		}
		return appender.Flush()
	})
	if err != nil {
		return fmt.Errorf("appender error: %w", err)
	}
	return nil
}

func cellValue(cell string, numeric bool) driver.Value {
	if IsMissing(cell) {
		return nil
	}
	if numeric {
		f, _ := ParseNumber(cell)
		return f
	}
	return cell
}

// numericColumns applies the same typing rule as Summarize.
func numericColumns(t *models.Table) []bool {
	out := make([]bool, len(t.Columns))
	for j := range t.Columns {
		seen := false
		numeric := true
		for _, row := range t.Rows {
			if j >= len(row) || IsMissing(row[j]) {
				continue
			}
			seen = true
			if _, ok := ParseNumber(row[j]); !ok {
				numeric = false
				break
			}
		}
		out[j] = seen && numeric
	}
	return out
}

// sqlColumnNames makes header names unique ignoring case, since DuckDB
// identifiers are case-insensitive.
func sqlColumnNames(cols []string) []string {
	out := make([]string, len(cols))
	used := make(map[string]struct{}, len(cols))
	for i, c := range cols {
		name := c
		for n := 2; ; n++ {
			if _, dup := used[strings.ToLower(name)]; !dup {
				break
			}
			name = fmt.Sprintf("%s_%d", c, n)
		}
		used[strings.ToLower(name)] = struct{}{}
		out[i] = name
	}
	return out
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func normalizeQuery(q string) (string, error) {
	q = strings.TrimSpace(q)
	q = strings.TrimRight(q, "; \t\r\n")
	if q == "" {
		return "", ErrQueryNotAllowed
	}
	if strings.Contains(q, ";") {
		return "", ErrQueryNotAllowed
	}
	fields := strings.Fields(q)
	switch strings.ToLower(fields[0]) {
	case "select", "with":
		return q, nil
	}
	return "", ErrQueryNotAllowed
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}
