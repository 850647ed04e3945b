// Package notify delivers deal alerts over email, Slack and Telegram.
package notify

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealradar/internal/config"
	"github.com/sells-group/dealradar/internal/model"
)

// Message is a single notification addressed to one recipient on one
// channel. Chat channels ignore Recipient unless the sender supports
// per-message targets.
type Message struct {
	Channel   model.Channel `json:"channel"`
	Recipient string        `json:"recipient,omitempty"`
	Subject   string        `json:"subject"`
	Body      string        `json:"body"`
}

// Dispatcher sends notifications.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// Sender delivers messages on a single channel.
type Sender interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// Router dispatches messages to the sender registered for their channel.
type Router struct {
	senders map[model.Channel]Sender
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{senders: make(map[model.Channel]Sender)}
}

// Register sets the sender for ch, replacing any previous one.
func (r *Router) Register(ch model.Channel, s Sender) {
	r.senders[ch] = s
}

// Channels returns the registered channels in name order.
func (r *Router) Channels() []model.Channel {
	out := make([]model.Channel, 0, len(r.senders))
	for ch := range r.senders {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Send implements Dispatcher.
func (r *Router) Send(ctx context.Context, msg Message) error {
	s, ok := r.senders[msg.Channel]
	if !ok {
		return eris.Errorf("notify: channel %q not configured", msg.Channel)
	}
	if err := s.Send(ctx, msg.Recipient, msg.Subject, msg.Body); err != nil {
		return eris.Wrapf(err, "notify: send %s", msg.Channel)
	}
	zap.L().Debug("notification sent",
		zap.String("channel", string(msg.Channel)),
		zap.String("recipient", msg.Recipient),
		zap.String("subject", msg.Subject),
	)
	return nil
}

// FromConfig builds a Router with a sender for every channel listed in cfg.
func FromConfig(cfg config.NotifyConfig) (*Router, error) {
	r := NewRouter()
	for _, name := range cfg.Channels {
		ch, err := model.ParseChannel(strings.TrimSpace(name))
		if err != nil {
			return nil, eris.Wrap(err, "notify: build router")
		}
		switch ch {
		case model.ChannelEmail:
			r.Register(ch, NewEmailSender(cfg.SMTP))
		case model.ChannelSlack:
			r.Register(ch, NewSlackSender(cfg.Slack.WebhookURL))
		case model.ChannelTelegram:
			r.Register(ch, NewTelegramSender(cfg.Telegram))
		}
	}
	return r, nil
}
