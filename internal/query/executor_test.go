package query

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/dbchat/dbchat/internal/connections"
	"github.com/dbchat/dbchat/internal/session"
)

var salesConn = connections.AIConnection{Name: "sales", ConnectionString: "sqlserver://localhost"}

func TestExecuteQuerySubstitutesSentinelForUnconvertibleCell(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT Name, Avatar FROM dbo.Customers")).
		WillReturnRows(sqlmock.NewRows([]string{"Name", "Avatar"}).
			AddRow("alice", "a.png").
			AddRow("bob", []byte{0xff, 0xfe, 0x00, 0x81}).
			AddRow("carol", "c.png"))
	mock.ExpectClose()

	got, err := NewExecutor(fixedOpener(db), nil).ExecuteQuery(context.Background(), salesConn, "SELECT Name, Avatar FROM dbo.Customers")
	if err != nil {
		t.Fatalf("ExecuteQuery() error = %v", err)
	}

	want := [][]string{
		{"Name", "Avatar"},
		{"alice", "a.png"},
		{"bob", Sentinel},
		{"carol", "c.png"},
	}
	if len(got.Rows) != len(want) {
		t.Fatalf("rows = %#v", got.Rows)
	}
	for i := range want {
		if len(got.Rows[i]) != len(want[i]) {
			t.Fatalf("row %d width = %d, want %d", i, len(got.Rows[i]), len(want[i]))
		}
		for j := range want[i] {
			if got.Rows[i][j] != want[i][j] {
				t.Fatalf("cell[%d][%d] = %q, want %q", i, j, got.Rows[i][j], want[i][j])
			}
		}
	}
	if got.FaultedCells != 1 {
		t.Fatalf("FaultedCells = %d", got.FaultedCells)
	}
	assertSQLMock(t, mock)
}

func TestExecuteQueryFormatsIdentifierColumns(t *testing.T) {
	db, mock := newSQLMock(t)
	guid := []byte{0x10, 0xb8, 0xa7, 0x6b, 0xad, 0x9d, 0xd1, 0x11, 0x80, 0xb4, 0x00, 0xc0, 0x4f, 0xd4, 0x30, 0xc8}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT CustomerId, Name FROM dbo.Customers")).
		WillReturnRows(sqlmock.NewRowsWithColumnDefinition(
			sqlmock.NewColumn("CustomerId").OfType("UNIQUEIDENTIFIER", []byte{}),
			sqlmock.NewColumn("Name").OfType("NVARCHAR", ""),
		).AddRow(guid, "alice"))
	mock.ExpectClose()

	got, err := NewExecutor(fixedOpener(db), nil).ExecuteQuery(context.Background(), salesConn, "SELECT CustomerId, Name FROM dbo.Customers")
	if err != nil {
		t.Fatalf("ExecuteQuery() error = %v", err)
	}
	if got.FaultedCells != 0 {
		t.Fatalf("FaultedCells = %d", got.FaultedCells)
	}
	if len(got.Rows) != 2 || got.Rows[1][0] != "6BA7B810-9DAD-11D1-80B4-00C04FD430C8" || got.Rows[1][1] != "alice" {
		t.Fatalf("rows = %#v", got.Rows)
	}
	assertSQLMock(t, mock)
}

func TestExecuteQueryEmptyResultHasNoHeader(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery(".*").WillReturnRows(sqlmock.NewRows([]string{"OrderId", "Total"}))
	mock.ExpectClose()

	got, err := NewExecutor(fixedOpener(db), nil).ExecuteQuery(context.Background(), salesConn, "SELECT OrderId, Total FROM dbo.Orders WHERE 1 = 0")
	if err != nil {
		t.Fatalf("ExecuteQuery() error = %v", err)
	}
	if len(got.Rows) != 0 {
		t.Fatalf("rows = %#v, want empty table", got.Rows)
	}
	if got.Header() != nil || got.Data() != nil {
		t.Fatal("empty table should have no header or data")
	}
	assertSQLMock(t, mock)
}

func TestExecuteQueryConvertsScalarTypes(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	db, mock := newSQLMock(t)
	mock.ExpectQuery(".*").WillReturnRows(sqlmock.NewRows([]string{"id", "total", "paid", "created", "note"}).
		AddRow(int64(7), 19.5, true, created, nil))
	mock.ExpectClose()

	got, err := NewExecutor(fixedOpener(db), nil).ExecuteQuery(context.Background(), salesConn, "SELECT 1")
	if err != nil {
		t.Fatalf("ExecuteQuery() error = %v", err)
	}
	row := got.Data()[0]
	want := []string{"7", "19.5", "true", "2024-03-01T12:30:00Z", ""}
	for i := range want {
		if row[i] != want[i] {
			t.Fatalf("cell %d = %q, want %q", i, row[i], want[i])
		}
	}
	if got.FaultedCells != 0 {
		t.Fatalf("FaultedCells = %d", got.FaultedCells)
	}
	assertSQLMock(t, mock)
}

func TestExecuteQueryStatementFailureIsExecutionError(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery(".*").WillReturnError(errors.New("Invalid object name 'dbo.Missing'"))
	mock.ExpectClose()

	_, err := NewExecutor(fixedOpener(db), nil).ExecuteQuery(context.Background(), salesConn, "SELECT * FROM dbo.Missing")
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want ExecutionError", err)
	}
	if execErr.Connection != "sales" {
		t.Fatalf("Connection = %q", execErr.Connection)
	}
	assertSQLMock(t, mock)
}

func TestExecuteQueryIterationFailureIsExecutionError(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery(".*").WillReturnRows(sqlmock.NewRows([]string{"id"}).
		AddRow(int64(1)).
		RowError(0, errors.New("connection reset")))
	mock.ExpectClose()

	_, err := NewExecutor(fixedOpener(db), nil).ExecuteQuery(context.Background(), salesConn, "SELECT id FROM t")
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want ExecutionError", err)
	}
	assertSQLMock(t, mock)
}

func TestExecuteQueryPropagatesConnectionError(t *testing.T) {
	opener := session.OpenerFunc(func(_ context.Context, conn connections.AIConnection) (*sql.DB, error) {
		return nil, &session.ConnectionError{Connection: conn.Name, Err: errors.New("login failed")}
	})
	_, err := NewExecutor(opener, nil).ExecuteQuery(context.Background(), salesConn, "SELECT 1")
	var connErr *session.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("error = %v, want ConnectionError", err)
	}
}

func TestExecuteQueryRejectsBlankSQL(t *testing.T) {
	called := false
	opener := session.OpenerFunc(func(context.Context, connections.AIConnection) (*sql.DB, error) {
		called = true
		return nil, errors.New("unexpected")
	})
	_, err := NewExecutor(opener, nil).ExecuteQuery(context.Background(), salesConn, "  ")
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want ExecutionError", err)
	}
	if called {
		t.Fatal("blank sql should not open a session")
	}
}

func TestIsReadOnly(t *testing.T) {
	cases := map[string]bool{
		"SELECT 1":                        true,
		"  with t as (select 1) select *": true,
		"DELETE FROM dbo.Orders":          false,
		"":                                false,
		"update dbo.Orders set Total = 0": false,
	}
	for sqlText, want := range cases {
		if got := IsReadOnly(sqlText); got != want {
			t.Fatalf("IsReadOnly(%q) = %v, want %v", sqlText, got, want)
		}
	}
}

func fixedOpener(db *sql.DB) session.Opener {
	return session.OpenerFunc(func(context.Context, connections.AIConnection) (*sql.DB, error) {
		return db, nil
	})
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
