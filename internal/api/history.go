package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/dbchat/dbchat/internal/auth"
	"github.com/dbchat/dbchat/internal/config"
	"github.com/dbchat/dbchat/internal/history"
)

func handleListHistory(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	if deps.History == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "query history is not configured", true, nil)
		return
	}
	favoritesOnly := false
	if raw := r.URL.Query().Get("favorites"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ARGUMENT", "favorites must be a boolean", false, nil)
			return
		}
		favoritesOnly = parsed
	}
	name := r.PathValue("name")
	entries, err := deps.History.List(r.Context(), name, favoritesOnly)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_LIST_FAILED", "failed to list query history", true, map[string]any{"details": err.Error()})
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"connection": name, "entries": entries})
}

func handleFavorite(favorite bool) func(Dependencies, config.Config, http.ResponseWriter, *http.Request) {
	return func(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
		if err := requireRole(r, auth.RoleQueryReader); err != nil {
			writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
			return
		}
		if deps.History == nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "query history is not configured", true, nil)
			return
		}
		entry, err := deps.History.SetFavorite(r.Context(), r.PathValue("name"), r.PathValue("id"), favorite)
		if err != nil {
			writeHistoryError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

func handleDeleteHistory(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	if deps.History == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "query history is not configured", true, nil)
		return
	}
	if err := deps.History.Delete(r.Context(), r.PathValue("name"), r.PathValue("id")); err != nil {
		writeHistoryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeHistoryError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, history.ErrNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "HISTORY_NOT_FOUND", "history entry not found", false, map[string]any{
			"connection": r.PathValue("name"),
			"id":         r.PathValue("id"),
		})
		return
	}
	writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_UPDATE_FAILED", "failed to update query history", true, map[string]any{"details": err.Error()})
}
