package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dbchat/dbchat/internal/auth"
	"github.com/dbchat/dbchat/internal/config"
	"github.com/dbchat/dbchat/internal/connections"
	"github.com/dbchat/dbchat/internal/export"
	"github.com/dbchat/dbchat/internal/history"
	"github.com/dbchat/dbchat/internal/observability"
	"github.com/dbchat/dbchat/internal/query"
	"github.com/dbchat/dbchat/internal/schema"
	"github.com/dbchat/dbchat/internal/session"
	"github.com/dbchat/dbchat/internal/storage"
)

type generateRequest struct {
	Prompt string `json:"prompt"`
	// Execute runs the generated query and includes the result table in the response.
	Execute bool `json:"execute,omitempty"`
}

type generateResponse struct {
	Summary   string         `json:"summary"`
	Query     string         `json:"query"`
	Model     string         `json:"model,omitempty"`
	Dialect   string         `json:"dialect"`
	HistoryID string         `json:"history_id,omitempty"`
	Result    *queryResponse `json:"result,omitempty"`
}

type sqlRequest struct {
	SQL string `json:"sql"`
}

type queryResponse struct {
	Table        [][]string `json:"table"`
	Columns      []string   `json:"columns"`
	RowCount     int        `json:"row_count"`
	FaultedCells int        `json:"faulted_cells"`
	DurationMS   int64      `json:"duration_ms"`
}

func newQueryResponse(result query.Result) *queryResponse {
	table := result.Rows
	if table == nil {
		table = [][]string{}
	}
	columns := result.Columns
	if columns == nil {
		columns = []string{}
	}
	return &queryResponse{
		Table:        table,
		Columns:      columns,
		RowCount:     len(result.Data()),
		FaultedCells: result.FaultedCells,
		DurationMS:   result.Duration.Milliseconds(),
	}
}

func handleSchema(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	conn, ok := loadConnection(deps, w, r)
	if !ok {
		return
	}
	if deps.Introspector == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SCHEMA_UNAVAILABLE", "schema introspection is not configured", true, nil)
		return
	}
	dbSchema, err := deps.Introspector.GenerateSchema(r.Context(), conn)
	observability.ObserveSchemaIntrospection(err)
	if err != nil {
		writePipelineError(r, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connection":        conn.Summary(),
		"schema_structured": nonNilTables(dbSchema.Structured),
		"schema_raw":        nonNilStrings(dbSchema.Raw),
	})
}

func handleGenerate(deps Dependencies, cfg config.Config, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	var req generateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ARGUMENT", "prompt is required", false, nil)
		return
	}
	conn, ok := loadConnection(deps, w, r)
	if !ok {
		return
	}
	if deps.Introspector == nil || deps.Generator == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "GENERATION_UNAVAILABLE", "query generation is not configured", true, nil)
		return
	}
	d, err := session.Resolve(conn, cfg.Prompt.Dialect)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CONNECTION", err.Error(), false, nil)
		return
	}

	dbSchema, err := deps.Introspector.GenerateSchema(r.Context(), conn)
	observability.ObserveSchemaIntrospection(err)
	if err != nil {
		writePipelineError(r, w, err)
		return
	}

	start := time.Now()
	generation, err := deps.Generator.WithDialect(d).GenerateQuery(r.Context(), req.Prompt, dbSchema)
	if err != nil {
		observability.ObserveGeneration(observability.OutcomeError, time.Since(start))
		if errors.Is(err, context.DeadlineExceeded) {
			writePipelineError(r, w, err)
			return
		}
		writeError(r.Context(), w, http.StatusBadGateway, "GENERATION_FAILED", "chat backend request failed", true, map[string]any{"details": err.Error()})
		return
	}
	if !generation.Parsed {
		observability.ObserveGeneration(observability.OutcomeParseFailure, time.Since(start))
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "GENERATION_PARSE_FAILED", generation.Err().Error(), true, map[string]any{
			"raw_response": generation.RawText,
		})
		return
	}
	observability.ObserveGeneration(observability.OutcomeOK, time.Since(start))

	resp := generateResponse{
		Summary: generation.Query.Summary,
		Query:   generation.Query.Query,
		Model:   generation.Model,
		Dialect: d.Name,
	}
	if deps.History != nil {
		entry, err := deps.History.Save(r.Context(), history.Entry{
			ConnectionName: conn.Name,
			Prompt:         req.Prompt,
			Summary:        generation.Query.Summary,
			Query:          generation.Query.Query,
			CreatedBy:      subjectFromRequest(r),
		})
		if err != nil {
			if deps.Logger != nil {
				deps.Logger.WarnContext(r.Context(), "failed to record query history", "connection", conn.Name, "error", err)
			}
		} else {
			resp.HistoryID = entry.ID
		}
	}

	if req.Execute {
		result, ok := runQuery(deps, cfg, w, r, conn, generation.Query.Query)
		if !ok {
			return
		}
		resp.Result = newQueryResponse(result)
	}
	writeJSON(w, http.StatusOK, resp)
}

func handleQuery(deps Dependencies, cfg config.Config, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	var req sqlRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	conn, ok := loadConnection(deps, w, r)
	if !ok {
		return
	}
	result, ok := runQuery(deps, cfg, w, r, conn, req.SQL)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newQueryResponse(result))
}

func handleExport(deps Dependencies, cfg config.Config, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	if deps.Exporter == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "result export is not configured", true, nil)
		return
	}
	var req sqlRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	conn, ok := loadConnection(deps, w, r)
	if !ok {
		return
	}
	result, ok := runQuery(deps, cfg, w, r, conn, req.SQL)
	if !ok {
		return
	}
	artifact, err := deps.Exporter.Export(r.Context(), result)
	if err != nil {
		if errors.Is(err, export.ErrEmptyResult) {
			writeError(r.Context(), w, http.StatusUnprocessableEntity, "EXPORT_EMPTY_RESULT", err.Error(), false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "EXPORT_FAILED", "failed to export result", true, map[string]any{"details": err.Error()})
		return
	}
	if deps.Logger != nil {
		deps.Logger.InfoContext(r.Context(), "result exported", "connection", conn.Name, "export_id", artifact.ID, "rows", artifact.RowCount)
	}
	writeJSON(w, http.StatusCreated, artifact)
}

func handleDownloadExport(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	if deps.Exporter == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "result export is not configured", true, nil)
		return
	}
	id := r.PathValue("id")
	body, err := deps.Exporter.Open(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "EXPORT_NOT_FOUND", "export not found", false, map[string]any{"export_id": id})
			return
		}
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), false, nil)
		return
	}
	defer func() { _ = body.Close() }()

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.parquet"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil && deps.Logger != nil {
		deps.Logger.WarnContext(r.Context(), "export download interrupted", "export_id", id, "error", err)
	}
}

// runQuery applies the read-only gate and executes sqlText. It writes the error response and
// returns false on failure.
func runQuery(deps Dependencies, cfg config.Config, w http.ResponseWriter, r *http.Request, conn connections.AIConnection, sqlText string) (query.Result, bool) {
	if strings.TrimSpace(sqlText) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ARGUMENT", "sql is required", false, nil)
		return query.Result{}, false
	}
	if cfg.Query.ReadOnly && !query.IsReadOnly(sqlText) {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_NOT_READ_ONLY", "only SELECT and WITH statements are allowed", false, nil)
		return query.Result{}, false
	}
	if deps.Executor == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "QUERY_UNAVAILABLE", "query execution is not configured", true, nil)
		return query.Result{}, false
	}
	start := time.Now()
	result, err := deps.Executor.ExecuteQuery(r.Context(), conn, sqlText)
	observability.ObserveQueryExecution(err, result.FaultedCells, time.Since(start))
	if err != nil {
		writePipelineError(r, w, err)
		return query.Result{}, false
	}
	return result, true
}

// writePipelineError maps introspection and execution failures onto API errors.
func writePipelineError(r *http.Request, w http.ResponseWriter, err error) {
	ctx := r.Context()
	var connErr *session.ConnectionError
	var schemaErr *schema.QueryError
	var execErr *query.ExecutionError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		writeError(ctx, w, http.StatusGatewayTimeout, "TIMEOUT", "operation timed out", true, nil)
	case errors.As(err, &connErr):
		writeError(ctx, w, http.StatusBadGateway, "CONNECTION_FAILED", "could not connect to the database", true, map[string]any{
			"connection": connErr.Connection,
			"details":    connErr.Err.Error(),
		})
	case errors.As(err, &schemaErr):
		writeError(ctx, w, http.StatusBadGateway, "SCHEMA_QUERY_FAILED", "failed to read the database schema", true, map[string]any{
			"connection": schemaErr.Connection,
			"details":    schemaErr.Err.Error(),
		})
	case errors.As(err, &execErr):
		writeError(ctx, w, http.StatusBadRequest, "QUERY_EXECUTION_FAILED", "query execution failed", false, map[string]any{
			"connection": execErr.Connection,
			"details":    execErr.Err.Error(),
		})
	default:
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", "internal error", true, map[string]any{"details": err.Error()})
	}
}

func nonNilTables(tables []schema.TableSchema) []schema.TableSchema {
	if tables == nil {
		return []schema.TableSchema{}
	}
	return tables
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
