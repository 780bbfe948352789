package slackbot

import (
	"bytes"
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/athenasql/athenasql/internal/conversation"
	"github.com/athenasql/athenasql/internal/export"
)

const modeBlockID = "athenasql_mode"

type webAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
}

// Delivery posts replies into the thread of the event that caused them.
type Delivery struct {
	api webAPI
}

func NewDelivery(api webAPI) *Delivery {
	return &Delivery{api: api}
}

func (d *Delivery) SendText(ctx context.Context, target conversation.Target, text string) error {
	section := slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil)
	return d.post(ctx, target, slack.MsgOptionText(text, false), slack.MsgOptionBlocks(section))
}

func (d *Delivery) SendModePrompt(ctx context.Context, target conversation.Target, prompt conversation.ModePrompt) error {
	return d.post(ctx, target, slack.MsgOptionText(prompt.Text, false), slack.MsgOptionBlocks(modePromptBlocks(prompt)...))
}

func (d *Delivery) SendFile(ctx context.Context, target conversation.Target, artifact export.Artifact, caption string) error {
	if len(artifact.Body) == 0 {
		return fmt.Errorf("artifact %s is empty", artifact.ID)
	}
	_, err := d.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Reader:          bytes.NewReader(artifact.Body),
		FileSize:        len(artifact.Body),
		Filename:        artifact.Filename,
		Title:           artifact.Filename,
		InitialComment:  caption,
		Channel:         target.ConversationID,
		ThreadTimestamp: target.ThreadID,
	})
	if err != nil {
		return fmt.Errorf("upload %s to %s: %w", artifact.Filename, target.ConversationID, err)
	}
	return nil
}

func (d *Delivery) post(ctx context.Context, target conversation.Target, options ...slack.MsgOption) error {
	if target.ThreadID != "" {
		options = append(options, slack.MsgOptionTS(target.ThreadID))
	}
	if _, _, err := d.api.PostMessageContext(ctx, target.ConversationID, options...); err != nil {
		return fmt.Errorf("post message to %s: %w", target.ConversationID, err)
	}
	return nil
}

func modePromptBlocks(prompt conversation.ModePrompt) []slack.Block {
	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, prompt.Text, false, false), nil, nil),
	}
	if len(prompt.Options) == 0 {
		return blocks
	}
	buttons := make([]slack.BlockElement, 0, len(prompt.Options))
	for _, option := range prompt.Options {
		buttons = append(buttons, slack.NewButtonBlockElement(
			option.ActionID,
			option.ActionID,
			slack.NewTextBlockObject(slack.PlainTextType, option.Label, false, false),
		))
	}
	return append(blocks, slack.NewActionBlock(modeBlockID, buttons...))
}
