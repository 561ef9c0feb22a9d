package dialect

import (
	"fmt"
	"sort"
	"strings"
)

// Dialect describes one SQL target: how to reach it and how to describe it to the model.
type Dialect struct {
	Name        string
	DriverName  string
	DisplayName string
	// Forbidden is the alternative dialect the model is told not to imitate.
	Forbidden    string
	CatalogQuery string
}

const (
	SQLServer = "sqlserver"
	Postgres  = "postgres"
	MySQL     = "mysql"
	SQLite    = "sqlite"
	DuckDB    = "duckdb"
)

const Default = SQLServer

var registry = map[string]Dialect{
	SQLServer: {
		Name:        SQLServer,
		DriverName:  "sqlserver",
		DisplayName: "Microsoft SQL Server",
		Forbidden:   "MySQL",
		CatalogQuery: `
SELECT SCHEMA_NAME(o.schema_id) + '.' + o.name AS table_name, c.name AS column_name
FROM sys.columns c
JOIN sys.objects o ON o.object_id = c.object_id
WHERE o.type = 'U'
ORDER BY o.name, c.column_id`,
	},
	Postgres: {
		Name:        Postgres,
		DriverName:  "pgx",
		DisplayName: "PostgreSQL",
		Forbidden:   "Microsoft SQL Server (T-SQL)",
		CatalogQuery: `
SELECT c.table_schema || '.' || c.table_name AS table_name, c.column_name
FROM information_schema.columns c
JOIN information_schema.tables t
	ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE t.table_type = 'BASE TABLE'
	AND c.table_schema NOT IN ('pg_catalog', 'information_schema')
ORDER BY c.table_name, c.table_schema, c.ordinal_position`,
	},
	MySQL: {
		Name:        MySQL,
		DriverName:  "mysql",
		DisplayName: "MySQL",
		Forbidden:   "Microsoft SQL Server (T-SQL)",
		CatalogQuery: `
SELECT CONCAT(c.table_schema, '.', c.table_name) AS table_name, c.column_name
FROM information_schema.columns c
JOIN information_schema.tables t
	ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE t.table_type = 'BASE TABLE'
	AND c.table_schema = DATABASE()
ORDER BY c.table_name, c.ordinal_position`,
	},
	SQLite: {
		Name:        SQLite,
		DriverName:  "sqlite3",
		DisplayName: "SQLite",
		Forbidden:   "MySQL",
		CatalogQuery: `
SELECT 'main.' || m.name AS table_name, p.name AS column_name
FROM sqlite_master m
JOIN pragma_table_info(m.name) p
WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
ORDER BY m.name, p.cid`,
	},
	DuckDB: {
		Name:        DuckDB,
		DriverName:  "duckdb",
		DisplayName: "DuckDB",
		Forbidden:   "MySQL",
		CatalogQuery: `
SELECT c.table_schema || '.' || c.table_name AS table_name, c.column_name
FROM information_schema.columns c
JOIN information_schema.tables t
	ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE t.table_type = 'BASE TABLE'
	AND c.table_schema NOT IN ('information_schema', 'pg_catalog')
ORDER BY c.table_name, c.table_schema, c.ordinal_position`,
	},
}

// Lookup resolves a dialect by name. An empty name resolves to Default.
func Lookup(name string) (Dialect, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = Default
	}
	d, ok := registry[name]
	if !ok {
		return Dialect{}, fmt.Errorf("unsupported dialect %q (supported: %s)", name, strings.Join(Names(), ", "))
	}
	return d, nil
}

func MustLookup(name string) Dialect {
	d, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return d
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func IsSupported(name string) bool {
	_, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	return ok
}
