package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/athenasql/athenasql/internal/extract"
	"github.com/athenasql/athenasql/internal/observability"
	"github.com/athenasql/athenasql/internal/query"
)

const defaultObservationRows = 50

// SQLAgent answers questions the way a tool-using SQL agent does: the model
// drafts a query, the query is run, and the model answers from the
// observed rows. Format instructions in the question (such as the tabular
// framing) apply to the final answer.
type SQLAgent struct {
	Model           Gateway
	Executor        query.Executor
	ObservationRows int
	Logger          *slog.Logger
}

func (a *SQLAgent) Ask(ctx context.Context, prompt string) (string, error) {
	if a.Model == nil {
		return "", fmt.Errorf("model gateway is required")
	}
	if a.Executor == nil {
		return a.Model.Ask(ctx, prompt)
	}

	draft, err := a.Model.Ask(ctx, draftPrompt(prompt))
	if err != nil {
		return "", fmt.Errorf("draft query: %w", err)
	}
	sqlText, err := extract.Extract(draft)
	if err != nil {
		if errors.Is(err, extract.ErrNoQuery) {
			return a.Model.Ask(ctx, prompt)
		}
		return "", err
	}

	limit := a.ObservationRows
	if limit <= 0 {
		limit = defaultObservationRows
	}
	observation, err := a.Executor.Execute(ctx, query.Request{SQL: sqlText, RowLimit: limit})
	if err != nil {
		if a.Logger != nil {
			a.Logger.WarnContext(ctx, "agent draft query failed", append(observability.ContextAttrs(ctx),
				slog.String("sql", sqlText),
				slog.Any("error", err),
			)...)
		}
		return a.Model.Ask(ctx, answerPrompt(prompt, sqlText, "the query failed: "+err.Error()))
	}
	rowsJSON, err := json.Marshal(map[string]any{"columns": observation.Columns, "rows": observation.Rows})
	if err != nil {
		return "", fmt.Errorf("marshal observation: %w", err)
	}
	return a.Model.Ask(ctx, answerPrompt(prompt, sqlText, string(rowsJSON)))
}

func draftPrompt(question string) string {
	return "Write one read-only SQL query that answers the question below. " +
		"Return only the query inside parentheses, following this format: (query).\n\nQuestion: " +
		strings.TrimSpace(question)
}

func answerPrompt(question, sqlText, observation string) string {
	return "Question: " + strings.TrimSpace(question) +
		"\n\nQuery used: " + sqlText +
		"\n\nObserved result (JSON): " + observation +
		"\n\nAnswer the question using the observed result. Follow any output format instructions in the question."
}
