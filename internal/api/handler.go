// Package api serves the operator HTTP API next to the chat listener.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/athenasql/athenasql/internal/auth"
	"github.com/athenasql/athenasql/internal/config"
	"github.com/athenasql/athenasql/internal/conversation"
	"github.com/athenasql/athenasql/internal/maintenance"
	"github.com/athenasql/athenasql/internal/observability"
	"github.com/athenasql/athenasql/internal/query"
	"github.com/athenasql/athenasql/internal/storage"
)

type ReadinessCheck func(ctx context.Context) error

type ConversationLister interface {
	Snapshot() []conversation.Snapshot
}

type Answerer interface {
	Answer(ctx context.Context, conversationKey string, mode conversation.Mode, question string) (conversation.Payload, error)
}

type SweepRunner interface {
	RunSweepOnce(ctx context.Context) maintenance.SweepSummary
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	AskTimeout        time.Duration
	Conversations     ConversationLister
	Answerer          Answerer
	Maintenance       SweepRunner
	Schema            query.SchemaDescriber
	Exports           storage.ObjectStore
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(observability.TraceMiddleware, observability.MetricsMiddleware)
	if deps.Logger != nil {
		r.Use(observability.LoggingMiddleware(deps.Logger))
	}

	r.Get("/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	r.Get("/v1/ready", func(w http.ResponseWriter, r *http.Request) {
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

	r.Method(http.MethodGet, "/v1/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Auth.Required {
			if deps.AuthMiddleware == nil {
				if deps.Logger != nil {
					deps.Logger.Error("auth required but auth middleware missing")
				}
				r.Use(func(http.Handler) http.Handler {
					return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
						writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
					})
				})
			} else {
				r.Use(deps.AuthMiddleware)
			}
		}

		r.With(auth.RequireRole(auth.RoleReader)).Get("/v1/conversations", func(w http.ResponseWriter, r *http.Request) {
			handleListConversations(deps, w, r)
		})
		r.With(auth.RequireRole(auth.RoleOperator)).Post("/v1/conversations/sweep", func(w http.ResponseWriter, r *http.Request) {
			handleSweep(deps, w, r)
		})
		r.With(auth.RequireRole(auth.RoleReader)).Get("/v1/schema", func(w http.ResponseWriter, r *http.Request) {
			handleSchema(deps, w, r)
		})
		r.With(auth.RequireRole(auth.RoleReader)).Get("/v1/exports/*", func(w http.ResponseWriter, r *http.Request) {
			handleExportDownload(deps, w, r)
		})
		r.With(auth.RequireRole(auth.RoleOperator)).Post("/v1/ask", func(w http.ResponseWriter, r *http.Request) {
			handleAsk(deps, w, r)
		})
	})

	return r
}

func CheckDatabase(ping func(ctx context.Context) error) ReadinessCheck {
	return func(ctx context.Context) error {
		if ping == nil {
			return errors.New("database is not configured")
		}
		return ping(ctx)
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		switch cfg.ObjectStore.Backend {
		case "s3":
			if cfg.ObjectStore.Endpoint == "" {
				return errors.New("object store endpoint is not configured")
			}
			if cfg.ObjectStore.Bucket == "" {
				return errors.New("object store bucket is not configured")
			}
		case "local":
			if cfg.ObjectStore.LocalDir == "" {
				return errors.New("object store directory is not configured")
			}
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
