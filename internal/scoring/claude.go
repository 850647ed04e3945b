package scoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealradar/internal/config"
	"github.com/sells-group/dealradar/internal/model"
	"github.com/sells-group/dealradar/pkg/anthropic"
)

// ClaudeScorer scores listings with an Anthropic model.
type ClaudeScorer struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	timeout   time.Duration
}

// NewClaudeScorer creates a ClaudeScorer from scoring config.
func NewClaudeScorer(client anthropic.Client, cfg config.ScoringConfig) *ClaudeScorer {
	s := &ClaudeScorer{
		client:    client,
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
		timeout:   time.Duration(cfg.TimeoutSecs) * time.Second,
	}
	if s.maxTokens <= 0 {
		s.maxTokens = 1024
	}
	if s.timeout <= 0 {
		s.timeout = 60 * time.Second
	}
	return s
}

// Score implements Scorer.
func (s *ClaudeScorer) Score(ctx context.Context, listing model.Post, prompt Prompt) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	temp := 0.0
	resp, err := s.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		System:      anthropic.CachedSystem(prompt.System + "\n\n" + outputFormat),
		Messages:    []anthropic.Message{{Role: "user", Content: userMessage(listing, prompt)}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "scoring: claude request for %s", listing.AdID)
	}
	resp.Usage.LogCost(s.model, "score")

	text := resp.Text()
	if text == "" {
		return nil, eris.Errorf("scoring: empty claude response for %s", listing.AdID)
	}

	res, err := ParseResult(text)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("scored listing",
		zap.String("ad_id", listing.AdID),
		zap.Float64("score", res.Score),
		zap.String("stop_reason", resp.StopReason),
	)
	return res, nil
}
