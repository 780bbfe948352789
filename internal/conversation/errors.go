package conversation

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindUserState  Kind = "user_state"
	KindAgent      Kind = "agent"
	KindExtraction Kind = "extraction"
	KindExecution  Kind = "execution"
	KindExport     Kind = "export"
	KindTimeout    Kind = "timeout"
	KindDelivery   Kind = "delivery"
)

const GenericFailureMessage = "Error in process, i could not process your question"

// Error tags a failed step of a question cycle. Chat users only ever see
// GenericFailureMessage; Kind and Err are for operator logs.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain, or "" when
// there is none.
func KindOf(err error) Kind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return ""
}

// stepError tags err with kind, except that an expired deadline is always
// reported as KindTimeout.
func stepError(ctx context.Context, kind Kind, op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
