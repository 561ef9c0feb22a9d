package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dbchat/dbchat/internal/auth"
	"github.com/dbchat/dbchat/internal/config"
	"github.com/dbchat/dbchat/internal/connections"
	"github.com/dbchat/dbchat/internal/observability"
)

type addConnectionRequest struct {
	Name             string `json:"name"`
	ConnectionString string `json:"connection_string"`
	Dialect          string `json:"dialect,omitempty"`
	// Verify introspects the database before the connection is stored.
	Verify bool `json:"verify,omitempty"`
}

func handleListConnections(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if deps.Connections == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "CONNECTIONS_UNAVAILABLE", "connection store is not configured", true, nil)
		return
	}
	conns, err := deps.Connections.List(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CONNECTIONS_LIST_FAILED", "failed to list connections", true, map[string]any{"details": err.Error()})
		return
	}
	summaries := make([]connections.Summary, 0, len(conns))
	for _, conn := range conns {
		summaries = append(summaries, conn.Summary())
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": summaries})
}

func handleAddConnection(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleConnectionAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	if deps.Connections == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "CONNECTIONS_UNAVAILABLE", "connection store is not configured", true, nil)
		return
	}

	var req addConnectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	conn := connections.AIConnection{
		Name:             strings.TrimSpace(req.Name),
		ConnectionString: req.ConnectionString,
		Dialect:          strings.ToLower(strings.TrimSpace(req.Dialect)),
	}
	if err := connections.Validate(conn); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CONNECTION", err.Error(), false, nil)
		return
	}

	tables := -1
	if req.Verify {
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
		tables = len(dbSchema.Structured)
	}

	if err := deps.Connections.Add(r.Context(), conn); err != nil {
		switch {
		case errors.Is(err, connections.ErrExists):
			writeError(r.Context(), w, http.StatusConflict, "CONNECTION_EXISTS", "connection already exists", false, map[string]any{"name": conn.Name})
		case errors.Is(err, connections.ErrInvalid):
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CONNECTION", err.Error(), false, nil)
		default:
			writeError(r.Context(), w, http.StatusInternalServerError, "CONNECTION_SAVE_FAILED", "failed to save connection", true, map[string]any{"details": err.Error()})
		}
		return
	}
	if deps.Logger != nil {
		deps.Logger.InfoContext(r.Context(), "connection added", "connection", conn.Name, "dialect", conn.Summary().Dialect, "verified", req.Verify)
	}

	body := map[string]any{"connection": conn.Summary()}
	if tables >= 0 {
		body["table_count"] = tables
	}
	writeJSON(w, http.StatusCreated, body)
}

func handleDeleteConnection(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleConnectionAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	if deps.Connections == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "CONNECTIONS_UNAVAILABLE", "connection store is not configured", true, nil)
		return
	}
	name := r.PathValue("name")
	if err := deps.Connections.Delete(r.Context(), name); err != nil {
		if errors.Is(err, connections.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "CONNECTION_NOT_FOUND", "connection not found", false, map[string]any{"name": name})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CONNECTION_DELETE_FAILED", "failed to delete connection", true, map[string]any{"details": err.Error()})
		return
	}
	if deps.Logger != nil {
		deps.Logger.InfoContext(r.Context(), "connection deleted", "connection", name)
	}
	w.WriteHeader(http.StatusNoContent)
}

// loadConnection resolves the {name} path value. It writes the error response and returns false
// when the connection cannot be loaded.
func loadConnection(deps Dependencies, w http.ResponseWriter, r *http.Request) (connections.AIConnection, bool) {
	if deps.Connections == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "CONNECTIONS_UNAVAILABLE", "connection store is not configured", true, nil)
		return connections.AIConnection{}, false
	}
	name := r.PathValue("name")
	conn, err := deps.Connections.Get(r.Context(), name)
	if err != nil {
		if errors.Is(err, connections.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "CONNECTION_NOT_FOUND", "connection not found", false, map[string]any{"name": name})
			return connections.AIConnection{}, false
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CONNECTION_LOAD_FAILED", "failed to load connection", true, map[string]any{"details": err.Error()})
		return connections.AIConnection{}, false
	}
	return conn, true
}
