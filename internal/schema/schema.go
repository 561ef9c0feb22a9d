package schema

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dbchat/dbchat/internal/connections"
	"github.com/dbchat/dbchat/internal/session"
)

// TableSchema is one user table and its columns in catalog order.
type TableSchema struct {
	TableName string   `json:"table_name"`
	Columns   []string `json:"columns"`
}

// DatabaseSchema pairs the structured tables with their one-line-per-table rendering.
// Raw is always Render(Structured).
type DatabaseSchema struct {
	Structured []TableSchema `json:"schema_structured"`
	Raw        []string      `json:"schema_raw"`
}

// QueryError reports a failed catalog query.
type QueryError struct {
	Connection string
	Err        error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("introspect schema for connection %q: %v", e.Connection, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

type Introspector struct {
	Opener         session.Opener
	DefaultDialect string
	Logger         *slog.Logger
}

func NewIntrospector(opener session.Opener, defaultDialect string, logger *slog.Logger) *Introspector {
	return &Introspector{Opener: opener, DefaultDialect: defaultDialect, Logger: logger}
}

// GenerateSchema reads the user tables of conn. The session is closed before returning.
func (i *Introspector) GenerateSchema(ctx context.Context, conn connections.AIConnection) (DatabaseSchema, error) {
	d, err := session.Resolve(conn, i.DefaultDialect)
	if err != nil {
		return DatabaseSchema{}, &session.ConnectionError{Connection: conn.Name, Err: err}
	}
	db, err := i.Opener.Open(ctx, conn)
	if err != nil {
		return DatabaseSchema{}, err
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, d.CatalogQuery)
	if err != nil {
		return DatabaseSchema{}, &QueryError{Connection: conn.Name, Err: fmt.Errorf("run catalog query: %w", err)}
	}
	defer func() { _ = rows.Close() }()

	var pairs []columnRef
	for rows.Next() {
		var ref columnRef
		if err := rows.Scan(&ref.table, &ref.column); err != nil {
			return DatabaseSchema{}, &QueryError{Connection: conn.Name, Err: fmt.Errorf("scan catalog row: %w", err)}
		}
		pairs = append(pairs, ref)
	}
	if err := rows.Err(); err != nil {
		return DatabaseSchema{}, &QueryError{Connection: conn.Name, Err: fmt.Errorf("iterate catalog rows: %w", err)}
	}

	result := Build(group(pairs))
	if i.Logger != nil {
		i.Logger.DebugContext(ctx, "schema introspected",
			slog.String("connection", conn.Name),
			slog.String("dialect", d.Name),
			slog.Int("tables", len(result.Structured)),
		)
	}
	return result, nil
}

type columnRef struct {
	table  string
	column string
}

// group collects columns per table in first-appearance order of the table.
func group(pairs []columnRef) []TableSchema {
	index := map[string]int{}
	tables := make([]TableSchema, 0)
	for _, pair := range pairs {
		pos, ok := index[pair.table]
		if !ok {
			pos = len(tables)
			index[pair.table] = pos
			tables = append(tables, TableSchema{TableName: pair.table, Columns: []string{}})
		}
		tables[pos].Columns = append(tables[pos].Columns, pair.column)
	}
	return tables
}

// Build renders tables into a DatabaseSchema.
func Build(tables []TableSchema) DatabaseSchema {
	if tables == nil {
		tables = []TableSchema{}
	}
	return DatabaseSchema{Structured: tables, Raw: Render(tables)}
}

func Render(tables []TableSchema) []string {
	lines := make([]string, 0, len(tables))
	for _, table := range tables {
		lines = append(lines, RenderTable(table))
	}
	return lines
}

func RenderTable(table TableSchema) string {
	return "- " + table.TableName + " (" + strings.Join(table.Columns, ", ") + ")"
}
