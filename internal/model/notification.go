package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSlack    Channel = "slack"
	ChannelTelegram Channel = "telegram"
)

// ParseChannel converts a raw string to a Channel.
func ParseChannel(s string) (Channel, error) {
	ch := Channel(s)
	switch ch {
	case ChannelEmail, ChannelSlack, ChannelTelegram:
		return ch, nil
	}
	return "", eris.Errorf("unknown notification channel %q", s)
}

// Notification records a high-value alert sent for a post on one channel.
type Notification struct {
	ID      int64     `json:"id"`
	AdID    string    `json:"ad_id"`
	Channel Channel   `json:"channel"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
	Read    bool      `json:"read"`
}
