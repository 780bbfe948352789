package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/athenasql/athenasql/internal/conversation"
	"github.com/athenasql/athenasql/internal/observability"
)

type askRequest struct {
	ConversationID string `json:"conversation_id"`
	Mode           string `json:"mode"`
	Question       string `json:"question"`
	IncludeBody    bool   `json:"include_body"`
}

type artifactResponse struct {
	ID          string   `json:"id"`
	Filename    string   `json:"filename"`
	Key         string   `json:"key,omitempty"`
	ContentType string   `json:"content_type"`
	RowCount    int      `json:"row_count"`
	Columns     []string `json:"columns"`
	Size        int      `json:"size"`
	DownloadURL string   `json:"download_url,omitempty"`
	Body        []byte   `json:"body,omitempty"`
}

type askResponse struct {
	ConversationID string            `json:"conversation_id"`
	Mode           string            `json:"mode"`
	Text           string            `json:"text,omitempty"`
	SQL            string            `json:"sql,omitempty"`
	Caption        string            `json:"caption,omitempty"`
	Artifact       *artifactResponse `json:"artifact,omitempty"`
	DurationMs     int64             `json:"duration_ms"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Answerer == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "question pipeline is not configured", false, nil)
		return
	}

	var req askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "request body must be valid JSON", false, map[string]any{"details": err.Error()})
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "question is required", false, nil)
		return
	}
	mode, ok := conversation.ParseMode(strings.ToLower(strings.TrimSpace(req.Mode)))
	if !ok {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MODE", "mode must be scalar or tabular", false, map[string]any{"mode": req.Mode})
		return
	}
	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		conversationID = "api/" + observability.TraceIDFromContext(r.Context())
	}

	ctx := observability.ContextWithConversation(r.Context(), conversationID)
	if deps.AskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deps.AskTimeout)
		defer cancel()
	}

	start := time.Now()
	payload, err := deps.Answerer.Answer(ctx, conversationID, mode, req.Question)
	if err != nil {
		kind := conversation.KindOf(err)
		if deps.Logger != nil {
			deps.Logger.ErrorContext(ctx, "api question failed", append(observability.ContextAttrs(ctx),
				slog.String("mode", mode.String()),
				slog.String("kind", string(kind)),
				slog.Any("error", err),
			)...)
		}
		observability.ObserveQuestionCycle(mode.String(), string(kind))
		status := http.StatusBadGateway
		if kind == conversation.KindTimeout {
			status = http.StatusGatewayTimeout
		}
		writeError(r.Context(), w, status, "ANSWER_FAILED", conversation.GenericFailureMessage, kind == conversation.KindTimeout, map[string]any{"kind": kind})
		return
	}
	observability.ObserveQuestionCycle(mode.String(), "ok")

	response := askResponse{
		ConversationID: conversationID,
		Mode:           mode.String(),
		Text:           payload.Text,
		SQL:            payload.SQL,
		Caption:        payload.Caption,
		DurationMs:     time.Since(start).Milliseconds(),
	}
	if artifact := payload.Artifact; artifact != nil {
		response.Artifact = &artifactResponse{
			ID:          artifact.ID,
			Filename:    artifact.Filename,
			Key:         artifact.Key,
			ContentType: artifact.ContentType,
			RowCount:    artifact.RowCount,
			Columns:     artifact.Columns,
			Size:        len(artifact.Body),
		}
		if artifact.Key != "" {
			response.Artifact.DownloadURL = "/v1/" + artifact.Key
		}
		if req.IncludeBody {
			response.Artifact.Body = artifact.Body
		}
	}
	writeJSON(w, http.StatusOK, response)
}
