// Package slackbot connects the conversation service to Slack over Socket
// Mode and delivers its replies with the Web API.
package slackbot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

type Config struct {
	BotToken string
	AppToken string
	Debug    bool
	Logger   *slog.Logger
}

// Client bundles the Web API client used for delivery and the Socket Mode
// client used for inbound events.
type Client struct {
	API    *slack.Client
	Socket *socketmode.Client
}

func New(cfg Config) (*Client, error) {
	botToken := strings.TrimSpace(cfg.BotToken)
	appToken := strings.TrimSpace(cfg.AppToken)
	if botToken == "" {
		return nil, fmt.Errorf("slack bot token is required")
	}
	if !strings.HasPrefix(appToken, "xapp-") {
		return nil, fmt.Errorf("slack app-level token must start with xapp-")
	}

	options := []slack.Option{
		slack.OptionAppLevelToken(appToken),
		slack.OptionDebug(cfg.Debug),
	}
	socketOptions := []socketmode.Option{socketmode.OptionDebug(cfg.Debug)}
	if cfg.Logger != nil {
		stdLogger := slog.NewLogLogger(cfg.Logger.Handler(), slog.LevelDebug)
		options = append(options, slack.OptionLog(stdLogger))
		socketOptions = append(socketOptions, socketmode.OptionLog(stdLogger))
	}

	api := slack.New(botToken, options...)
	return &Client{API: api, Socket: socketmode.New(api, socketOptions...)}, nil
}

// Ping verifies the bot token.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.API.AuthTestContext(ctx); err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	return nil
}
