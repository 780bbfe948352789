package slackbot

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/athenasql/athenasql/internal/conversation"
	"github.com/athenasql/athenasql/internal/observability"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, event conversation.Event) error
}

// Listener acknowledges Socket Mode envelopes and hands the chat events
// they carry to a Dispatcher.
type Listener struct {
	Client     *Client
	Dispatcher Dispatcher
	Logger     *slog.Logger
}

// Run reads events until ctx is canceled or the socket closes.
func (l *Listener) Run(ctx context.Context) error {
	if l.Logger == nil {
		l.Logger = observability.DiscardLogger()
	}
	socket := l.Client.Socket

	runErr := make(chan error, 1)
	go func() { runErr <- socket.RunContext(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			if err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case evt, ok := <-socket.Events:
			if !ok {
				return nil
			}
			l.handle(ctx, evt, func(req socketmode.Request) { socket.Ack(req) })
		}
	}
}

func (l *Listener) handle(ctx context.Context, evt socketmode.Event, ack func(socketmode.Request)) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		l.Logger.InfoContext(ctx, "connecting to slack socket mode")
		return
	case socketmode.EventTypeConnected:
		l.Logger.InfoContext(ctx, "connected to slack socket mode")
		return
	case socketmode.EventTypeConnectionError:
		l.Logger.WarnContext(ctx, "slack socket mode connection error", slog.Any("data", evt.Data))
		return
	}

	if evt.Request != nil {
		ack(*evt.Request)
	}

	var events []conversation.Event
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok || apiEvent.Type != slackevents.CallbackEvent {
			return
		}
		if message, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			if event, ok := messageEvent(message); ok {
				events = append(events, event)
			}
		}
	case socketmode.EventTypeInteractive:
		callback, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		events = actionEvents(callback)
	default:
		return
	}

	for _, event := range events {
		if err := l.Dispatcher.Dispatch(ctx, event); err != nil {
			l.Logger.WarnContext(ctx, "dropping slack event",
				slog.String("conversation_id", event.ConversationID),
				slog.Any("error", err),
			)
		}
	}
}

// messageEvent maps a user-authored message. Bot messages and edits are
// skipped so the bot never answers itself.
func messageEvent(message *slackevents.MessageEvent) (conversation.Event, bool) {
	if message == nil || message.BotID != "" || message.SubType != "" || message.User == "" {
		return conversation.Event{}, false
	}
	return conversation.Event{
		Kind:           conversation.EventMessage,
		ConversationID: message.Channel,
		UserID:         message.User,
		Text:           strings.TrimSpace(message.Text),
		Timestamp:      message.TimeStamp,
		ThreadID:       message.ThreadTimeStamp,
	}, true
}

func actionEvents(callback slack.InteractionCallback) []conversation.Event {
	if callback.Type != slack.InteractionTypeBlockActions {
		return nil
	}
	channelID := callback.Channel.ID
	if channelID == "" {
		channelID = callback.Container.ChannelID
	}
	messageTS := callback.Container.MessageTs
	if messageTS == "" {
		messageTS = callback.Message.Timestamp
	}
	threadTS := callback.Message.ThreadTimestamp

	events := make([]conversation.Event, 0, len(callback.ActionCallback.BlockActions))
	for _, action := range callback.ActionCallback.BlockActions {
		if action == nil {
			continue
		}
		events = append(events, conversation.Event{
			Kind:           conversation.EventAction,
			ConversationID: channelID,
			UserID:         callback.User.ID,
			ActionID:       action.ActionID,
			Timestamp:      messageTS,
			ThreadID:       threadTS,
		})
	}
	return events
}
