package query

import (
	"context"
	"time"
)

type Request struct {
	SQL string
	// RowLimit wraps the statement in an outer LIMIT when > 0. Exports leave
	// it at zero so the full result set is materialized.
	RowLimit int
}

// Result is a materialized result set. Values keep the types returned by
// the driver, except []byte which is normalized to string.
type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

type Executor interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

type TableSchema struct {
	TableName string   `json:"table_name"`
	Columns   []string `json:"columns"`
}

type SchemaDescriber interface {
	DescribeSchema(ctx context.Context) ([]TableSchema, error)
}
