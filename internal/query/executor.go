package query

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dbchat/dbchat/internal/connections"
	"github.com/dbchat/dbchat/internal/session"
)

type Executor struct {
	Opener session.Opener
	Logger *slog.Logger
}

func NewExecutor(opener session.Opener, logger *slog.Logger) *Executor {
	return &Executor{Opener: opener, Logger: logger}
}

// ExecuteQuery runs sqlText on a fresh session for conn and tabulates every row. Cells that fail
// conversion become Sentinel; the rest of the row and result set are kept.
func (e *Executor) ExecuteQuery(ctx context.Context, conn connections.AIConnection, sqlText string) (Result, error) {
	if strings.TrimSpace(sqlText) == "" {
		return Result{}, &ExecutionError{Connection: conn.Name, Err: fmt.Errorf("sql is required")}
	}
	if e.Opener == nil {
		return Result{}, fmt.Errorf("session opener is required")
	}

	start := time.Now()
	db, err := e.Opener.Open(ctx, conn)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = db.Close() }()

	result, err := tabulate(ctx, db, sqlText)
	if err != nil {
		return Result{}, &ExecutionError{Connection: conn.Name, Err: err}
	}
	result.Duration = time.Since(start)

	if result.FaultedCells > 0 && e.Logger != nil {
		e.Logger.DebugContext(ctx, "substituted unconvertible cells",
			slog.String("connection", conn.Name),
			slog.Int("faulted_cells", result.FaultedCells),
		)
	}
	return result, nil
}

func tabulate(ctx context.Context, db *sql.DB, sqlText string) (Result, error) {
	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("query columns: %w", err)
	}

	dbTypes := make([]string, len(columns))
	if columnTypes, err := rows.ColumnTypes(); err == nil {
		for i, ct := range columnTypes {
			if i < len(dbTypes) {
				dbTypes[i] = ct.DatabaseTypeName()
			}
		}
	}

	result := Result{Columns: columns, Rows: make([][]string, 0)}
	for rows.Next() {
		if len(result.Rows) == 0 {
			result.Rows = append(result.Rows, append([]string(nil), columns...))
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, fmt.Errorf("scan row: %w", err)
		}

		cells := make([]string, len(values))
		for i, value := range values {
			text, ok := ColumnCellText(dbTypes[i], value)
			if !ok {
				result.FaultedCells++
			}
			cells[i] = text
		}
		result.Rows = append(result.Rows, cells)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}
