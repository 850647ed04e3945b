package scoring

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/dealradar/internal/config"
	"github.com/sells-group/dealradar/pkg/anthropic"
)

// New builds the scorer selected by cfg.Scoring.Provider.
func New(cfg *config.Config) (Scorer, error) {
	switch cfg.Scoring.Provider {
	case "anthropic", "":
		if cfg.Anthropic.Key == "" {
			return nil, eris.New("scoring: anthropic.key is required")
		}
		return NewClaudeScorer(anthropic.NewClient(cfg.Anthropic.Key), cfg.Scoring), nil
	case "webhook":
		if cfg.Scoring.WebhookURL == "" {
			return nil, eris.New("scoring: scoring.webhook_url is required")
		}
		return NewWebhookScorer(cfg.Scoring), nil
	default:
		return nil, eris.Errorf("scoring: unknown provider %q", cfg.Scoring.Provider)
	}
}
