// Package notify delivers alert notifications over configured channels.
package notify

import (
	"context"
	"sort"

	"monalert/internal/config"
	"monalert/internal/domain"
)

// Message is one rendered outbound notification.
// Params: recipient address, subject line, body text, and source alert.
// Returns: channel-agnostic payload handed to one sender.
type Message struct {
	Recipient string
	Subject   string
	Body      string
	Alert     domain.Alert
}

// Sender delivers one message over one transport channel.
// Params: context and rendered message.
// Returns: nil on delivery, transient/permanent fault on failure.
type Sender interface {
	Channel() string
	Send(ctx context.Context, message Message) error
}

// Registry holds the senders for all enabled channels.
// Params: channel key to sender mapping.
// Returns: sender lookup for the dispatcher.
type Registry struct {
	senders map[string]Sender
}

// NewRegistry builds transport senders for every enabled channel.
// Params: notify config snapshot.
// Returns: registry with one sender per enabled channel.
func NewRegistry(cfg config.NotifyConfig) *Registry {
	senders := make(map[string]Sender)
	for _, channel := range config.NotifyChannelNames() {
		if !config.ChannelEnabled(cfg, channel) {
			continue
		}
		sender := newSenderForChannel(channel, cfg)
		if sender == nil {
			continue
		}
		senders[channel] = sender
	}
	return &Registry{senders: senders}
}

// newSenderForChannel builds the transport sender for one channel key.
// Params: channel key and full notify config.
// Returns: channel sender or nil when channel is unknown.
func newSenderForChannel(channel string, cfg config.NotifyConfig) Sender {
	switch channel {
	case config.ChannelEmail:
		return NewEmailSender(cfg.Email)
	case config.ChannelSMS:
		return NewSMSSender(cfg.SMS)
	case config.ChannelWebhook:
		return NewWebhookSender(cfg.Webhook)
	case config.ChannelChat:
		return NewChatSender(cfg.Chat)
	default:
		return nil
	}
}

// Sender returns the configured sender for one channel.
// Params: channel key.
// Returns: sender and presence flag.
func (r *Registry) Sender(channel string) (Sender, bool) {
	sender, ok := r.senders[channel]
	return sender, ok
}

// Channels returns configured channel keys in deterministic order.
// Params: none.
// Returns: sorted channel list.
func (r *Registry) Channels() []string {
	channels := make([]string, 0, len(r.senders))
	for channel := range r.senders {
		channels = append(channels, channel)
	}
	sort.Strings(channels)
	return channels
}
