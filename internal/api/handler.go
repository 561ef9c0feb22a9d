package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbchat/dbchat/internal/auth"
	"github.com/dbchat/dbchat/internal/config"
	"github.com/dbchat/dbchat/internal/connections"
	"github.com/dbchat/dbchat/internal/export"
	"github.com/dbchat/dbchat/internal/history"
	"github.com/dbchat/dbchat/internal/nl2sql"
	"github.com/dbchat/dbchat/internal/observability"
	"github.com/dbchat/dbchat/internal/query"
	"github.com/dbchat/dbchat/internal/schema"
)

const maxRequestBytes = 1 << 20

type route struct {
	pattern string
	handle  func(Dependencies, config.Config, http.ResponseWriter, *http.Request)
}

// protectedRoutes sit behind the auth middleware when auth is required.
var protectedRoutes = []route{
	{"GET /v1/connections", handleListConnections},
	{"POST /v1/connections", handleAddConnection},
	{"DELETE /v1/connections/{name}", handleDeleteConnection},
	{"GET /v1/connections/{name}/schema", handleSchema},
	{"POST /v1/connections/{name}/generate", handleGenerate},
	{"POST /v1/connections/{name}/query", handleQuery},
	{"POST /v1/connections/{name}/export", handleExport},
	{"GET /v1/exports/{id}", handleDownloadExport},
	{"GET /v1/connections/{name}/history", handleListHistory},
	{"POST /v1/connections/{name}/history/{id}/favorite", handleFavorite(true)},
	{"DELETE /v1/connections/{name}/history/{id}/favorite", handleFavorite(false)},
	{"DELETE /v1/connections/{name}/history/{id}", handleDeleteHistory},
	{"POST /v1/chat", handleChat},
}

type ReadinessCheck func(ctx context.Context) error

type SchemaIntrospector interface {
	GenerateSchema(ctx context.Context, conn connections.AIConnection) (schema.DatabaseSchema, error)
}

type ResultExporter interface {
	Export(ctx context.Context, result query.Result) (export.Artifact, error)
	Open(ctx context.Context, id string) (io.ReadCloser, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Connections       connections.Store
	Introspector      SchemaIntrospector
	Generator         *nl2sql.Generator
	Executor          query.Runner
	Relay             *nl2sql.Relay
	History           history.Store
	Exporter          ResultExporter
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	for _, route := range protectedRoutes {
		handle := route.handle
		protected.HandleFunc(route.pattern, func(w http.ResponseWriter, r *http.Request) {
			handle(deps, cfg, w, r)
		})
	}

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	for _, route := range protectedRoutes {
		mux.Handle(route.pattern, protectedHandler)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	middlewares = append(middlewares, observability.MetricsMiddleware)
	return chain(mux, middlewares...)
}

// CheckConnectionStore verifies the connection store answers a List call.
func CheckConnectionStore(store connections.Store) ReadinessCheck {
	return func(ctx context.Context) error {
		if store == nil {
			return errors.New("connection store is not configured")
		}
		if _, err := store.List(ctx); err != nil {
			return fmt.Errorf("connection store: %w", err)
		}
		return nil
	}
}

func CheckAIConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.AI.APIKey == "" {
			return errors.New("ai api key is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func requireRole(r *http.Request, role string) error {
	return auth.Authorize(r.Context(), role)
}

func subjectFromRequest(r *http.Request) string {
	return auth.Subject(r.Context())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
