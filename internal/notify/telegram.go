package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealradar/internal/config"
	"github.com/sells-group/dealradar/internal/resilience"
)

// TelegramSender sends notifications through the Telegram bot API.
type TelegramSender struct {
	apiURL string
	token  string
	chatID string
	client *http.Client
	retry  resilience.RetryConfig
}

// NewTelegramSender creates a TelegramSender from bot settings.
func NewTelegramSender(cfg config.TelegramConfig) *TelegramSender {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = "https://api.telegram.org"
	}
	return &TelegramSender{
		apiURL: strings.TrimRight(apiURL, "/"),
		token:  cfg.BotToken,
		chatID: cfg.ChatID,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  resilience.NotifyRetryConfig("telegram"),
	}
}

// Send implements Sender. A non-empty recipient overrides the configured
// chat id.
func (s *TelegramSender) Send(ctx context.Context, recipient, subject, body string) error {
	chatID := s.chatID
	if strings.TrimSpace(recipient) != "" {
		chatID = recipient
	}
	if s.token == "" || chatID == "" {
		return eris.New("notify: telegram bot token and chat id are required")
	}

	payload, err := json.Marshal(map[string]any{
		"chat_id":                  chatID,
		"text":                     subject + "\n\n" + body,
		"disable_web_page_preview": true,
	})
	if err != nil {
		return eris.Wrap(err, "notify: marshal telegram payload")
	}

	url := s.apiURL + "/bot" + s.token + "/sendMessage"
	return resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		return postJSON(ctx, s.client, "telegram", url, payload)
	})
}
