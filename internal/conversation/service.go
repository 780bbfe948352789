package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/athenasql/athenasql/internal/agent"
	"github.com/athenasql/athenasql/internal/export"
	"github.com/athenasql/athenasql/internal/extract"
	"github.com/athenasql/athenasql/internal/observability"
	"github.com/athenasql/athenasql/internal/query"
)

const (
	defaultGreeting     = "hello"
	defaultSubject      = "Kiwi Financial INC"
	defaultCycleTimeout = 2 * time.Minute

	selectionAck = "Perfect, i will remember that selection"
	thinkingText = "Wait a moment, i'm thinking :hourglass:"
)

type Exporter interface {
	Export(ctx context.Context, conversationKey string, result query.Result) (export.Artifact, error)
}

type Config struct {
	Greeting     string
	Subject      string
	CycleTimeout time.Duration
}

type Service struct {
	Store    *Store
	Gateway  agent.Gateway
	Executor query.Executor
	Exporter Exporter
	Delivery Delivery
	Config   Config
	Logger   *slog.Logger

	defaults sync.Once
}

func (s *Service) ensureDefaults() {
	s.defaults.Do(s.applyDefaults)
}

func (s *Service) applyDefaults() {
	if s.Store == nil {
		s.Store = NewStore(nil)
	}
	if s.Logger == nil {
		s.Logger = observability.DiscardLogger()
	}
	if strings.TrimSpace(s.Config.Greeting) == "" {
		s.Config.Greeting = defaultGreeting
	}
	if strings.TrimSpace(s.Config.Subject) == "" {
		s.Config.Subject = defaultSubject
	}
	if s.Config.CycleTimeout <= 0 {
		s.Config.CycleTimeout = defaultCycleTimeout
	}
}

// BuildPrompt frames question for the agent according to mode.
func BuildPrompt(mode Mode, question string) string {
	if mode == ModeTabular {
		return agent.TabularPrompt(question)
	}
	return agent.ScalarPrompt(question)
}

// GuidanceText is sent when a question arrives before a mode was chosen.
func (s *Service) GuidanceText() string {
	s.ensureDefaults()
	return fmt.Sprintf("To initiate chat with AthenaSQL please type '%s'", s.Config.Greeting)
}

func (s *Service) modePrompt() ModePrompt {
	return ModePrompt{
		Text: "Hello, these are my principal options :smile:. *Please, be patient, i need time to think to give you a good answer*",
		Options: []ModeOption{
			{ActionID: ActionScalar, Label: "Number"},
			{ActionID: ActionTabular, Label: "Table"},
		},
	}
}

// HandleEvent processes one inbound event. Events for the same channel are
// handled one at a time. The returned error is the tagged failure of the
// question cycle, if any; it has already been logged and reported to the
// user.
func (s *Service) HandleEvent(ctx context.Context, event Event) error {
	s.ensureDefaults()
	if s.Delivery == nil {
		return fmt.Errorf("delivery is required")
	}
	ctx = observability.ContextWithConversation(ctx, event.ConversationID)

	unlock := s.Store.Lock(event.ConversationID)
	defer unlock()

	switch event.Kind {
	case EventAction:
		s.handleAction(ctx, event)
		return nil
	case EventMessage:
		text := strings.TrimSpace(event.Text)
		if text == "" {
			return nil
		}
		if strings.EqualFold(text, strings.TrimSpace(s.Config.Greeting)) {
			s.Store.Touch(event.ConversationID)
			s.deliver(ctx, "send mode prompt", func() error {
				return s.Delivery.SendModePrompt(ctx, event.Target(), s.modePrompt())
			})
			return nil
		}
		return s.handleQuestion(ctx, event, text)
	default:
		return fmt.Errorf("unknown event kind %d", event.Kind)
	}
}

func (s *Service) handleAction(ctx context.Context, event Event) {
	mode, ok := ModeFromAction(event.ActionID)
	if !ok {
		s.Logger.WarnContext(ctx, "ignoring unknown action", append(observability.ContextAttrs(ctx),
			slog.String("action_id", event.ActionID),
		)...)
		return
	}
	s.Store.Select(event.ConversationID, mode)
	s.Logger.InfoContext(ctx, "mode selected", append(observability.ContextAttrs(ctx),
		slog.String("mode", mode.String()),
		slog.String("user_id", event.UserID),
	)...)

	target := event.Target()
	s.deliver(ctx, "acknowledge selection", func() error {
		return s.Delivery.SendText(ctx, target, selectionAck)
	})
	s.deliver(ctx, "invite question", func() error {
		return s.Delivery.SendText(ctx, target, fmt.Sprintf("Now you can ask me something about %s", s.Config.Subject))
	})
}

func (s *Service) handleQuestion(ctx context.Context, event Event, question string) error {
	mode := s.Store.Take(event.ConversationID)
	defer s.Store.Reset(event.ConversationID)

	target := event.Target()
	if mode == ModeUnset {
		err := &Error{Kind: KindUserState, Op: "resolve mode", Err: errors.New("no mode selected")}
		s.Logger.InfoContext(ctx, "question without mode", append(observability.ContextAttrs(ctx),
			slog.String("kind", string(err.Kind)),
			slog.String("user_id", event.UserID),
		)...)
		observability.ObserveQuestionCycle(mode.String(), string(KindUserState))
		s.deliver(ctx, "send guidance", func() error {
			return s.Delivery.SendText(ctx, target, s.GuidanceText())
		})
		return err
	}

	s.deliver(ctx, "echo question", func() error {
		return s.Delivery.SendText(ctx, target, fmt.Sprintf("Your question is: *%s*", question))
	})
	s.deliver(ctx, "send progress", func() error {
		return s.Delivery.SendText(ctx, target, thinkingText)
	})

	start := time.Now()
	cycleCtx, cancel := context.WithTimeout(ctx, s.Config.CycleTimeout)
	payload, err := s.Answer(cycleCtx, event.ThreadKey(), mode, question)
	cancel()
	s.Store.CompleteCycle(event.ConversationID)

	if err != nil {
		kind := KindOf(err)
		s.Logger.ErrorContext(ctx, "question cycle failed", append(observability.ContextAttrs(ctx),
			slog.String("mode", mode.String()),
			slog.String("kind", string(kind)),
			slog.String("duration", time.Since(start).String()),
			slog.Any("error", err),
		)...)
		observability.ObserveQuestionCycle(mode.String(), string(kind))
		s.deliver(ctx, "send failure", func() error {
			return s.Delivery.SendText(ctx, target, GenericFailureMessage)
		})
		return err
	}

	deliveryErr := s.deliverPayload(ctx, target, payload)
	if deliveryErr != nil {
		observability.ObserveQuestionCycle(mode.String(), string(KindDelivery))
		return deliveryErr
	}
	observability.ObserveQuestionCycle(mode.String(), "ok")
	s.Logger.InfoContext(ctx, "question cycle completed", append(observability.ContextAttrs(ctx),
		slog.String("mode", mode.String()),
		slog.String("duration", time.Since(start).String()),
	)...)
	return nil
}

// Answer runs the agent, extraction, execution and export steps for one
// question without touching conversation state. Every error it returns is
// an *Error.
func (s *Service) Answer(ctx context.Context, conversationKey string, mode Mode, question string) (Payload, error) {
	s.ensureDefaults()
	if mode == ModeUnset {
		return Payload{}, &Error{Kind: KindUserState, Op: "resolve mode", Err: errors.New("no mode selected")}
	}
	if s.Gateway == nil {
		return Payload{}, &Error{Kind: KindAgent, Op: "ask agent", Err: errors.New("agent gateway is not configured")}
	}

	answer, err := s.Gateway.Ask(ctx, BuildPrompt(mode, question))
	if err != nil {
		return Payload{}, stepError(ctx, KindAgent, "ask agent", err)
	}
	if mode == ModeScalar {
		if strings.TrimSpace(answer) == "" {
			return Payload{}, &Error{Kind: KindAgent, Op: "ask agent", Err: errors.New("agent returned an empty answer")}
		}
		return Payload{Text: answer}, nil
	}

	sqlText, err := extract.Extract(answer)
	if err != nil {
		return Payload{}, &Error{Kind: KindExtraction, Op: "extract query", Err: err}
	}
	if s.Executor == nil {
		return Payload{}, &Error{Kind: KindExecution, Op: "execute query", Err: errors.New("query executor is not configured")}
	}
	result, err := s.Executor.Execute(ctx, query.Request{SQL: sqlText})
	if err != nil {
		return Payload{}, stepError(ctx, KindExecution, "execute query", err)
	}
	if s.Exporter == nil {
		return Payload{}, &Error{Kind: KindExport, Op: "export result", Err: errors.New("exporter is not configured")}
	}
	artifact, err := s.Exporter.Export(ctx, conversationKey, result)
	if err != nil {
		return Payload{}, stepError(ctx, KindExport, "export result", err)
	}
	return Payload{Artifact: &artifact, Caption: export.Caption(artifact), SQL: sqlText}, nil
}

func (s *Service) deliverPayload(ctx context.Context, target Target, payload Payload) error {
	var err error
	if payload.Artifact != nil {
		err = s.Delivery.SendFile(ctx, target, *payload.Artifact, payload.Caption)
	} else {
		err = s.Delivery.SendText(ctx, target, payload.Text)
	}
	if err != nil {
		tagged := &Error{Kind: KindDelivery, Op: "deliver answer", Err: err}
		s.Logger.ErrorContext(ctx, "answer delivery failed", append(observability.ContextAttrs(ctx),
			slog.String("kind", string(tagged.Kind)),
			slog.Any("error", err),
		)...)
		return tagged
	}
	return nil
}

func (s *Service) deliver(ctx context.Context, op string, send func() error) {
	if err := send(); err != nil {
		s.Logger.WarnContext(ctx, "delivery failed", append(observability.ContextAttrs(ctx),
			slog.String("op", op),
			slog.String("kind", string(KindDelivery)),
			slog.Any("error", err),
		)...)
	}
}
