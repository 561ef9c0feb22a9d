package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/dbchat/dbchat/internal/auth"
	"github.com/dbchat/dbchat/internal/config"
	"github.com/dbchat/dbchat/internal/nl2sql"
	"github.com/dbchat/dbchat/internal/observability"
)

type chatRequest struct {
	Messages []nl2sql.Message `json:"messages"`
}

// handleChat relays a caller-held conversation. The server keeps no chat state; clients append
// the returned message to their own history.
func handleChat(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	if deps.Relay == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "CHAT_UNAVAILABLE", "chat backend is not configured", true, nil)
		return
	}
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	reply, err := deps.Relay.Relay(r.Context(), req.Messages)
	switch {
	case errors.Is(err, nl2sql.ErrEmptyConversation), errors.Is(err, nl2sql.ErrInvalidMessage):
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), false, nil)
		return
	case errors.Is(err, context.DeadlineExceeded):
		observability.ObserveChatRelay(err)
		writeError(r.Context(), w, http.StatusGatewayTimeout, "TIMEOUT", "operation timed out", true, nil)
		return
	case err != nil:
		observability.ObserveChatRelay(err)
		writeError(r.Context(), w, http.StatusBadGateway, "CHAT_FAILED", "chat backend request failed", true, map[string]any{"details": err.Error()})
		return
	}
	observability.ObserveChatRelay(nil)
	writeJSON(w, http.StatusOK, map[string]any{"message": reply})
}
