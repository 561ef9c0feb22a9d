package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dbchat/dbchat/internal/connections"
)

// Sentinel replaces a cell whose value cannot be rendered as text.
const Sentinel = "DataTypeConversionError"

// Result is a materialized result set. Rows is the result table: Rows[0] is the header whenever
// at least one data row was read, and every row has len(Columns) cells.
type Result struct {
	Rows         [][]string    `json:"rows"`
	Columns      []string      `json:"columns"`
	FaultedCells int           `json:"faulted_cells"`
	Duration     time.Duration `json:"-"`
}

// Header returns the header row, or nil for an empty table.
func (r Result) Header() []string {
	if len(r.Rows) == 0 {
		return nil
	}
	return r.Rows[0]
}

// Data returns the rows after the header.
func (r Result) Data() [][]string {
	if len(r.Rows) < 2 {
		return nil
	}
	return r.Rows[1:]
}

type Runner interface {
	ExecuteQuery(ctx context.Context, conn connections.AIConnection, sqlText string) (Result, error)
}

// ExecutionError reports a statement that could not run or whose cursor failed mid-iteration.
type ExecutionError struct {
	Connection string
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute query on %q: %v", e.Connection, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsReadOnly reports whether sqlText starts with SELECT or WITH.
func IsReadOnly(sqlText string) bool {
	normalized := strings.ToLower(strings.TrimSpace(sqlText))
	if normalized == "" {
		return false
	}
	return strings.HasPrefix(normalized, "select") || strings.HasPrefix(normalized, "with")
}
