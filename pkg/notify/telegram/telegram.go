// Package telegram mirrors terminal notifications (final responses and
// errors) into a Telegram chat for operators.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"turnrelay/pkg/chat"
	"turnrelay/pkg/config"
	"turnrelay/pkg/logger"
)

const (
	messagePreviewLimit = 240
	// Telegram rejects messages longer than 4096 characters.
	maxMessageLength = 4000
)

type sender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Notifier forwards final_response and error notifications; token and
// heartbeat traffic is skipped.
type Notifier struct {
	chatID int64
	bot    sender
	log    *slog.Logger
}

// New validates Telegram configuration and constructs the bot client.
func New(cfg config.TelegramConfig, log *slog.Logger) (*Notifier, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("notify.telegram.token is required")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("notify.telegram.chat_id is required")
	}

	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}

	return newWithSender(cfg.ChatID, bot, log), nil
}

func newWithSender(chatID int64, bot sender, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}

	return &Notifier{
		chatID: chatID,
		bot:    bot,
		log:    log.With("component", "notify.telegram"),
	}
}

// Send mirrors terminal notifications into the configured chat.
func (n *Notifier) Send(ctx context.Context, notification chat.Notification) error {
	text, ok := renderText(notification)
	if !ok {
		return nil
	}

	n.log.Info("Sending message", "chat_id", n.chatID, "action", notification.Action, "content", logger.Preview(text, messagePreviewLimit))

	if _, err := n.bot.SendMessage(ctx, tu.Message(tu.ID(n.chatID), text)); err != nil {
		n.log.Error("Failed to send telegram message", "error", err)
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// renderText builds the mirrored message text. Non-terminal notifications
// are not mirrored.
func renderText(notification chat.Notification) (string, bool) {
	var body string
	switch notification.Action {
	case chat.NotifyFinalResponse:
		body = stringField(notification.Data, "content")
	case chat.NotifyError:
		if data, ok := notification.Data.(chat.ErrorData); ok {
			body = data.Content
		} else {
			body = stringField(notification.Data, "content")
		}
	default:
		return "", false
	}

	session := stringField(notification.Data, "sessionId")
	text := fmt.Sprintf("[%s] user=%s session=%s\n%s", notification.Action, notification.UserID, session, strings.TrimSpace(body))
	return logger.Truncate(text, maxMessageLength), true
}

// stringField reads a top-level string field from an arbitrary JSON-encodable
// payload.
func stringField(data any, key string) string {
	payload, err := json.Marshal(data)
	if err != nil {
		return ""
	}

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return ""
	}

	value, _ := fields[key].(string)
	return value
}
