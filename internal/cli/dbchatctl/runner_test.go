package dbchatctl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type recordedRequest struct {
	method string
	path   string
	query  string
	apiKey string
	body   map[string]any
}

func newRecordingServer(t *testing.T, status int, response string) (*httptest.Server, *recordedRequest) {
	t.Helper()
	got := &recordedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.query = r.URL.RawQuery
		got.apiKey = r.Header.Get("X-API-Key")
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &got.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func run(t *testing.T, srv *httptest.Server, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), append([]string{"--base-url", srv.URL, "--no-color"}, args...), Options{
		Stdout:  &stdout,
		Stderr:  &stderr,
		Timeout: 2 * time.Second,
	})
	return code, stdout.String(), stderr.String()
}

func TestRunHealthCommand(t *testing.T) {
	srv, got := newRecordingServer(t, http.StatusOK, `{"status":"ok"}`)
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "--api-key", "k1", "health"}, Options{
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if got.method != http.MethodGet || got.path != "/v1/health" || got.apiKey != "k1" {
		t.Fatalf("request = %#v", got)
	}
	if !strings.Contains(stdout.String(), `"status": "ok"`) {
		t.Fatalf("stdout = %s", stdout.String())
	}
}

func TestRunConnectionsListRendersTable(t *testing.T) {
	srv, got := newRecordingServer(t, http.StatusOK, `{"connections":[{"name":"Sales","dialect":"sqlserver"}]}`)
	code, stdout, stderr := run(t, srv, "connections", "list")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr)
	}
	if got.path != "/v1/connections" {
		t.Fatalf("path = %s", got.path)
	}
	for _, want := range []string{"Name", "Dialect", "Sales", "sqlserver"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("stdout missing %q: %s", want, stdout)
		}
	}
}

func TestRunConnectionsAdd(t *testing.T) {
	srv, got := newRecordingServer(t, http.StatusCreated, `{"connection":{"name":"Sales","dialect":"postgres"}}`)
	code, stdout, stderr := run(t, srv, "connections", "add", "Sales", "--connection-string", "postgres://db", "--dialect", "postgres", "--verify=false")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr)
	}
	if got.method != http.MethodPost || got.path != "/v1/connections" {
		t.Fatalf("request = %s %s", got.method, got.path)
	}
	if got.body["name"] != "Sales" || got.body["connection_string"] != "postgres://db" || got.body["dialect"] != "postgres" || got.body["verify"] != false {
		t.Fatalf("body = %#v", got.body)
	}
	if !strings.Contains(stdout, `connection "Sales" added`) {
		t.Fatalf("stdout = %s", stdout)
	}
}

func TestRunConnectionsAddRequiresConnectionString(t *testing.T) {
	srv, _ := newRecordingServer(t, http.StatusCreated, `{}`)
	if code, _, _ := run(t, srv, "connections", "add", "Sales"); code != 2 {
		t.Fatalf("exit code = %d", code)
	}
}

func TestRunConnectionsDelete(t *testing.T) {
	srv, got := newRecordingServer(t, http.StatusNoContent, ``)
	code, _, stderr := run(t, srv, "connections", "delete", "Sales")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr)
	}
	if got.method != http.MethodDelete || got.path != "/v1/connections/Sales" {
		t.Fatalf("request = %s %s", got.method, got.path)
	}
}

func TestRunSchemaPrintsRenderedLines(t *testing.T) {
	srv, got := newRecordingServer(t, http.StatusOK, `{"schema_raw":["- dbo.Orders (OrderId, Total)","- dbo.Customers (CustomerId)"]}`)
	code, stdout, stderr := run(t, srv, "schema", "Sales")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr)
	}
	if got.path != "/v1/connections/Sales/schema" {
		t.Fatalf("path = %s", got.path)
	}
	if stdout != "- dbo.Orders (OrderId, Total)\n- dbo.Customers (CustomerId)\n" {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestRunAskWithRun(t *testing.T) {
	srv, got := newRecordingServer(t, http.StatusOK, `{
		"summary":"Selects the five largest orders.",
		"query":"SELECT TOP 5 OrderId, Total FROM dbo.Orders ORDER BY Total DESC",
		"result":{"table":[["OrderId","Total"],["7","120.00"]],"row_count":1,"faulted_cells":0,"duration_ms":4}
	}`)
	code, stdout, stderr := run(t, srv, "ask", "Sales", "top", "5", "orders", "--run")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr)
	}
	if got.path != "/v1/connections/Sales/generate" {
		t.Fatalf("path = %s", got.path)
	}
	if got.body["prompt"] != "top 5 orders" || got.body["execute"] != true {
		t.Fatalf("body = %#v", got.body)
	}
	for _, want := range []string{"Selects the five largest orders.", "SELECT TOP 5", "120.00", "1 rows in 4ms"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("stdout missing %q: %s", want, stdout)
		}
	}
}

func TestRunQueryReportsFaultedCells(t *testing.T) {
	srv, got := newRecordingServer(t, http.StatusOK, `{"table":[["Id","Blob"],["1","DataTypeConversionError"]],"row_count":1,"faulted_cells":1,"duration_ms":2}`)
	code, stdout, stderr := run(t, srv, "run", "Sales", "SELECT Id, Blob FROM dbo.Files")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr)
	}
	if got.path != "/v1/connections/Sales/query" || got.body["sql"] != "SELECT Id, Blob FROM dbo.Files" {
		t.Fatalf("request = %s %#v", got.path, got.body)
	}
	if !strings.Contains(stdout, "1 cells could not be converted") {
		t.Fatalf("stdout = %s", stdout)
	}
}

func TestRunQueryEmptyResult(t *testing.T) {
	srv, _ := newRecordingServer(t, http.StatusOK, `{"table":[],"row_count":0,"faulted_cells":0,"duration_ms":1}`)
	code, stdout, _ := run(t, srv, "run", "Sales", "SELECT 1 WHERE 1 = 0")
	if code != 0 || !strings.Contains(stdout, "(no rows)") {
		t.Fatalf("code = %d, stdout = %s", code, stdout)
	}
}

func TestRunJSONFlagPrintsRawResponse(t *testing.T) {
	srv, _ := newRecordingServer(t, http.StatusOK, `{"table":[["x"],["1"]],"row_count":1}`)
	code, stdout, _ := run(t, srv, "--json", "run", "Sales", "SELECT 1 AS x")
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stdout, `"row_count": 1`) {
		t.Fatalf("stdout = %s", stdout)
	}
}

func TestRunHistoryFavorites(t *testing.T) {
	srv, got := newRecordingServer(t, http.StatusOK, `{"entries":[{"id":"abc","prompt":"count","query":"SELECT COUNT(*) FROM t","favorite":true,"created_at":"2026-03-01T12:00:00Z"}]}`)
	code, stdout, stderr := run(t, srv, "history", "Sales", "--favorites")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr)
	}
	if got.path != "/v1/connections/Sales/history" || got.query != "favorites=true" {
		t.Fatalf("request = %s?%s", got.path, got.query)
	}
	if !strings.Contains(stdout, "abc") || !strings.Contains(stdout, "SELECT COUNT(*) FROM t") {
		t.Fatalf("stdout = %s", stdout)
	}
}

func TestRunChat(t *testing.T) {
	srv, got := newRecordingServer(t, http.StatusOK, `{"message":{"role":"assistant","content":"Add an index."}}`)
	code, stdout, stderr := run(t, srv, "chat", "how", "do", "I", "speed", "this", "up?")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr)
	}
	messages, _ := got.body["messages"].([]any)
	if got.path != "/v1/chat" || len(messages) != 1 {
		t.Fatalf("request = %s %#v", got.path, got.body)
	}
	first, _ := messages[0].(map[string]any)
	if first["role"] != "user" || first["content"] != "how do I speed this up?" {
		t.Fatalf("message = %#v", first)
	}
	if stdout != "Add an index.\n" {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestRunReturnsErrorOnHTTPFailure(t *testing.T) {
	srv, _ := newRecordingServer(t, http.StatusUnprocessableEntity, `{"error_code":"GENERATION_PARSE_FAILED"}`)
	code, _, stderr := run(t, srv, "ask", "Sales", "anything")
	if code != 1 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr)
	}
	if !strings.Contains(stderr, "http 422") || !strings.Contains(stderr, "GENERATION_PARSE_FAILED") {
		t.Fatalf("stderr = %s", stderr)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"unknown"}, Options{Stderr: &stderr})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr.String(), "Usage:") {
		t.Fatalf("expected usage output, got %s", stderr.String())
	}
}
