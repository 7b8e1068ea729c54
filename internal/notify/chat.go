package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"monalert/internal/config"
	"monalert/internal/faults"

	tgbot "github.com/go-telegram/bot"
)

// ChatSender posts notifications through the Telegram Bot API.
// Params: bot token, chat ID, and API base URL from config.
// Returns: chat channel sender.
type ChatSender struct {
	client  *tgbot.Bot
	initErr error
}

// NewChatSender creates the chat bot sender.
// Params: chat notifier config.
// Returns: initialized sender; init failures surface on Send.
func NewChatSender(cfg config.ChatNotifier) *ChatSender {
	sender := &ChatSender{}

	if strings.TrimSpace(cfg.BotToken) == "" {
		sender.initErr = errors.New("chat bot token is required")
		return sender
	}

	options := []tgbot.Option{
		tgbot.WithSkipGetMe(),
		tgbot.WithServerURL(strings.TrimRight(cfg.APIBase, "/")),
	}
	client, err := tgbot.New(cfg.BotToken, options...)
	if err != nil {
		sender.initErr = fmt.Errorf("init chat bot: %w", err)
		return sender
	}
	sender.client = client
	return sender
}

// Channel returns sender channel name.
// Params: none.
// Returns: static channel key.
func (s *ChatSender) Channel() string {
	return config.ChannelChat
}

// Send posts one message to the chat named by the message recipient.
// Params: context and rendered message.
// Returns: permanent fault for init errors, transient fault for API failures.
func (s *ChatSender) Send(ctx context.Context, message Message) error {
	if s.initErr != nil {
		return faults.MarkPermanent(s.initErr)
	}
	if s.client == nil {
		return faults.MarkPermanent(errors.New("chat client is not initialized"))
	}

	sent, err := s.client.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: normalizeChatID(message.Recipient),
		Text:   message.Body,
	})
	if err != nil {
		return faults.MarkTransient(fmt.Errorf("chat send: %w", err))
	}
	if sent == nil || sent.ID <= 0 {
		return faults.MarkTransient(errors.New("chat send returned empty message id"))
	}
	return nil
}

// normalizeChatID converts numeric chat IDs to int64 and keeps names as string.
// Params: configured chat ID value.
// Returns: chat ID union value for the bot API.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}
