package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealradar/internal/config"
	"github.com/sells-group/dealradar/internal/model"
	"github.com/sells-group/dealradar/internal/resilience"
)

const maxWebhookBody = 1 << 20

// WebhookScorer delegates scoring to an automation workflow webhook. The
// workflow receives the listing and prompt as JSON and answers with the
// same JSON object a model would produce.
type WebhookScorer struct {
	url   string
	http  *http.Client
	retry resilience.RetryConfig
}

type webhookRequest struct {
	Listing model.Post `json:"listing"`
	Prompt  Prompt     `json:"prompt"`
	Message string     `json:"message"`
}

// NewWebhookScorer creates a WebhookScorer from scoring config.
func NewWebhookScorer(cfg config.ScoringConfig) *WebhookScorer {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("webhook", "score")
	return &WebhookScorer{
		url:   cfg.WebhookURL,
		http:  &http.Client{Timeout: timeout},
		retry: retry,
	}
}

// Score implements Scorer.
func (s *WebhookScorer) Score(ctx context.Context, listing model.Post, prompt Prompt) (*Result, error) {
	payload, err := json.Marshal(webhookRequest{
		Listing: listing,
		Prompt:  prompt,
		Message: userMessage(listing, prompt),
	})
	if err != nil {
		return nil, eris.Wrap(err, "scoring: marshal webhook payload")
	}

	body, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
		if err != nil {
			return nil, eris.Wrap(err, "scoring: create webhook request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "scoring: webhook request")
		}
		defer resp.Body.Close() //nolint:errcheck

		if err := resilience.CheckResponse("scoring: webhook", resp); err != nil {
			return nil, err
		}
		b, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookBody))
		if err != nil {
			return nil, eris.Wrap(err, "scoring: read webhook response")
		}
		return b, nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "scoring: webhook for %s", listing.AdID)
	}

	return ParseResult(string(body))
}
