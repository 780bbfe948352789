package conversation

import (
	"context"
	"strings"

	"github.com/athenasql/athenasql/internal/export"
)

type EventKind int

const (
	EventMessage EventKind = iota
	EventAction
)

func (k EventKind) String() string {
	if k == EventAction {
		return "action"
	}
	return "message"
}

// Event is one inbound chat interaction. ConversationID is the channel;
// ThreadID is set when the event belongs to a thread.
type Event struct {
	Kind           EventKind
	ConversationID string
	UserID         string
	Text           string
	ActionID       string
	Timestamp      string
	ThreadID       string
}

// ReplyThread is the thread replies go to: the event's thread, or the
// event itself when it started none.
func (e Event) ReplyThread() string {
	if strings.TrimSpace(e.ThreadID) != "" {
		return e.ThreadID
	}
	return e.Timestamp
}

func (e Event) Target() Target {
	return Target{ConversationID: e.ConversationID, ThreadID: e.ReplyThread()}
}

// ThreadKey identifies the thread a question belongs to. Artifacts are
// named after it.
func (e Event) ThreadKey() string {
	thread := e.ReplyThread()
	if thread == "" {
		return e.ConversationID
	}
	return e.ConversationID + "/" + thread
}

type Target struct {
	ConversationID string
	ThreadID       string
}

type ModeOption struct {
	ActionID string
	Label    string
}

type ModePrompt struct {
	Text    string
	Options []ModeOption
}

// Payload is the answer to one question: Text in scalar mode, Artifact in
// tabular mode.
type Payload struct {
	Text     string
	Artifact *export.Artifact
	Caption  string
	SQL      string
}

type Delivery interface {
	SendText(ctx context.Context, target Target, text string) error
	SendModePrompt(ctx context.Context, target Target, prompt ModePrompt) error
	SendFile(ctx context.Context, target Target, artifact export.Artifact, caption string) error
}
