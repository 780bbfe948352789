// Package agent wraps the natural-language-to-SQL model behind a single
// Ask call.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/athenasql/athenasql/internal/observability"
	"github.com/athenasql/athenasql/internal/query"
)

type Gateway interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

const tabularInstruction = ", Return only the query, it should be inside parentheses, following this format: (query). Do not include a LIMIT clause."

// ScalarPrompt frames a question whose answer is shown to the user as is.
func ScalarPrompt(question string) string {
	return strings.TrimSpace(question)
}

// TabularPrompt asks the agent to embed the exact statement it used in a
// single parenthesized group so it can be re-run for a full export.
func TabularPrompt(question string) string {
	return strings.TrimSpace(question) + tabularInstruction
}

// SchemaContext supplies the system prompt with the database dialect and
// the tables the agent may reference.
type SchemaContext struct {
	Dialect string
	Source  query.SchemaDescriber
	Logger  *slog.Logger
}

func (s SchemaContext) systemPrompt(ctx context.Context) string {
	dialect := strings.TrimSpace(s.Dialect)
	if dialect == "" {
		dialect = "SQL"
	}
	prompt := "You are an agent designed to interact with a " + dialect + " database. " +
		"Given an input question, write a syntactically correct " + dialect + " query, look at the results and return the answer. " +
		"Never run DML statements (INSERT, UPDATE, DELETE, DROP). " +
		"If the question asks for the query, return it exactly as instructed."
	if s.Source == nil {
		return prompt
	}
	tables, err := s.Source.DescribeSchema(ctx)
	if err != nil {
		if s.Logger != nil {
			s.Logger.WarnContext(ctx, "schema context unavailable", append(observability.ContextAttrs(ctx), slog.Any("error", err))...)
		}
		return prompt
	}
	if len(tables) == 0 {
		return prompt
	}
	tablesJSON, err := json.Marshal(tables)
	if err != nil {
		return prompt
	}
	return prompt + "\n\nAvailable tables and columns (JSON):\n" + string(tablesJSON)
}

// Logged decorates a gateway with latency metrics and, when verbose is set,
// debug logging of every prompt and answer.
func Logged(next Gateway, provider string, logger *slog.Logger, verbose bool) Gateway {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &loggedGateway{next: next, provider: provider, logger: logger, verbose: verbose}
}

type loggedGateway struct {
	next     Gateway
	provider string
	logger   *slog.Logger
	verbose  bool
}

func (g *loggedGateway) Ask(ctx context.Context, prompt string) (string, error) {
	if g.verbose {
		g.logger.DebugContext(ctx, "agent prompt", append(observability.ContextAttrs(ctx),
			slog.String("provider", g.provider),
			slog.String("prompt", prompt),
		)...)
	}
	start := time.Now()
	answer, err := g.next.Ask(ctx, prompt)
	elapsed := time.Since(start)
	observability.ObserveAgentCall(g.provider, elapsed, err)
	if err != nil {
		return "", fmt.Errorf("%s agent: %w", g.provider, err)
	}
	if g.verbose {
		g.logger.DebugContext(ctx, "agent answer", append(observability.ContextAttrs(ctx),
			slog.String("provider", g.provider),
			slog.String("answer", answer),
			slog.String("duration", elapsed.String()),
		)...)
	}
	return answer, nil
}
