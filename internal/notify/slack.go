package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealradar/internal/resilience"
)

// SlackSender posts notifications to a Slack incoming webhook.
type SlackSender struct {
	webhookURL string
	client     *http.Client
	retry      resilience.RetryConfig
}

// NewSlackSender creates a SlackSender for webhookURL.
func NewSlackSender(webhookURL string) *SlackSender {
	return &SlackSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		retry:      resilience.NotifyRetryConfig("slack"),
	}
}

// Send implements Sender. recipient is ignored; the webhook fixes the
// destination channel.
func (s *SlackSender) Send(ctx context.Context, _, subject, body string) error {
	if s.webhookURL == "" {
		return eris.New("notify: slack webhook url is empty")
	}
	payload, err := json.Marshal(map[string]string{"text": "*" + subject + "*\n" + body})
	if err != nil {
		return eris.Wrap(err, "notify: marshal slack payload")
	}
	return resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		return postJSON(ctx, s.client, "slack", s.webhookURL, payload)
	})
}

// postJSON posts payload and checks for a 2xx response.
func postJSON(ctx context.Context, client *http.Client, service, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrapf(err, "notify: create %s request", service)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return eris.Wrapf(err, "notify: %s request", service)
	}
	defer resp.Body.Close() //nolint:errcheck

	return resilience.CheckResponse("notify: "+service, resp)
}
