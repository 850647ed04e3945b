package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig       `yaml:"store" mapstructure:"store"`
	Blocket    BlocketConfig     `yaml:"blocket" mapstructure:"blocket"`
	Categories map[string]string `yaml:"categories" mapstructure:"categories"`
	Scoring    ScoringConfig     `yaml:"scoring" mapstructure:"scoring"`
	Anthropic  AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	Matching   MatchingConfig    `yaml:"matching" mapstructure:"matching"`
	Evaluation EvaluationConfig  `yaml:"evaluation" mapstructure:"evaluation"`
	Notify     NotifyConfig      `yaml:"notify" mapstructure:"notify"`
	Schedule   ScheduleConfig    `yaml:"schedule" mapstructure:"schedule"`
	Monitoring MonitoringConfig  `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig      `yaml:"server" mapstructure:"server"`
	Log        LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// BlocketConfig configures the marketplace listing source.
type BlocketConfig struct {
	SiteURL            string  `yaml:"site_url" mapstructure:"site_url"`
	APIURL             string  `yaml:"api_url" mapstructure:"api_url"`
	UserAgent          string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs        int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	BatchSize          int     `yaml:"batch_size" mapstructure:"batch_size"`
	BatchDelayMs       int     `yaml:"batch_delay_ms" mapstructure:"batch_delay_ms"`
	RequestsPerSecond  float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	MaxSearchLimit     int     `yaml:"max_search_limit" mapstructure:"max_search_limit"`
	DefaultSearchLimit int     `yaml:"default_search_limit" mapstructure:"default_search_limit"`
}

// ScoringConfig selects and tunes the deal scorer.
type ScoringConfig struct {
	Provider    string `yaml:"provider" mapstructure:"provider"`
	Model       string `yaml:"model" mapstructure:"model"`
	MaxTokens   int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// MatchingConfig configures the request matching engine.
type MatchingConfig struct {
	CandidateLimit     int     `yaml:"candidate_limit" mapstructure:"candidate_limit"`
	Concurrency        int     `yaml:"concurrency" mapstructure:"concurrency"`
	QualifyThreshold   float64 `yaml:"qualify_threshold" mapstructure:"qualify_threshold"`
	UnknownPricePolicy string  `yaml:"unknown_price_policy" mapstructure:"unknown_price_policy"`
	RequestTTLHours    int     `yaml:"request_ttl_hours" mapstructure:"request_ttl_hours"`
}

// EvaluationConfig configures generic deal evaluation and high-value alerts.
type EvaluationConfig struct {
	HighValueThreshold float64 `yaml:"high_value_threshold" mapstructure:"high_value_threshold"`
	BatchLimit         int     `yaml:"batch_limit" mapstructure:"batch_limit"`
	Concurrency        int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// NotifyConfig configures notification channels.
type NotifyConfig struct {
	Channels            []string       `yaml:"channels" mapstructure:"channels"`
	HighValueRecipients []string       `yaml:"high_value_recipients" mapstructure:"high_value_recipients"`
	SMTP                SMTPConfig     `yaml:"smtp" mapstructure:"smtp"`
	Slack               SlackConfig    `yaml:"slack" mapstructure:"slack"`
	Telegram            TelegramConfig `yaml:"telegram" mapstructure:"telegram"`
}

// SMTPConfig holds outgoing mail settings.
type SMTPConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	From     string `yaml:"from" mapstructure:"from"`

	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// SlackConfig holds the incoming webhook used for Slack alerts.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token" mapstructure:"bot_token"`
	ChatID   string `yaml:"chat_id" mapstructure:"chat_id"`
	APIURL   string `yaml:"api_url" mapstructure:"api_url"`
}

// ScheduleConfig configures the in-process cron scheduler.
type ScheduleConfig struct {
	Ingest         string   `yaml:"ingest" mapstructure:"ingest"`
	Evaluate       string   `yaml:"evaluate" mapstructure:"evaluate"`
	Notify         string   `yaml:"notify" mapstructure:"notify"`
	Match          string   `yaml:"match" mapstructure:"match"`
	Expire         string   `yaml:"expire" mapstructure:"expire"`
	Monitor        string   `yaml:"monitor" mapstructure:"monitor"`
	Categories     []string `yaml:"categories" mapstructure:"categories"`
	IngestLimit    int      `yaml:"ingest_limit" mapstructure:"ingest_limit"`
	LockTTLMinutes int      `yaml:"lock_ttl_minutes" mapstructure:"lock_ttl_minutes"`
	RedisURL       string   `yaml:"redis_url" mapstructure:"redis_url"`
}

// MonitoringConfig configures operational health alerts.
type MonitoringConfig struct {
	FailureRateThreshold float64  `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinEvaluations       int      `yaml:"min_evaluations" mapstructure:"min_evaluations"`
	BacklogThreshold     int      `yaml:"backlog_threshold" mapstructure:"backlog_threshold"`
	Channels             []string `yaml:"channels" mapstructure:"channels"`
	Recipients           []string `yaml:"recipients" mapstructure:"recipients"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultCategories maps marketplace category names to their ids.
var DefaultCategories = map[string]string{
	"computers":            "5021",
	"computer_accessories": "5020",
	"mobile_phones":        "5040",
	"gaming_consoles":      "5060",
	"furniture":            "40",
	"vehicles":             "10",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DEALRADAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("blocket.site_url", "https://www.blocket.se")
	v.SetDefault("blocket.api_url", "https://api.blocket.se")
	v.SetDefault("blocket.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("blocket.timeout_secs", 30)
	v.SetDefault("blocket.batch_size", 3)
	v.SetDefault("blocket.batch_delay_ms", 500)
	v.SetDefault("blocket.requests_per_second", 5.0)
	v.SetDefault("blocket.max_search_limit", 100)
	v.SetDefault("blocket.default_search_limit", 10)
	v.SetDefault("categories", DefaultCategories)
	v.SetDefault("scoring.provider", "anthropic")
	v.SetDefault("scoring.model", "claude-haiku-4-5-20251001")
	v.SetDefault("scoring.max_tokens", 1024)
	v.SetDefault("scoring.timeout_secs", 60)
	v.SetDefault("scoring.webhook_url", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("matching.candidate_limit", 20)
	v.SetDefault("matching.concurrency", 3)
	v.SetDefault("matching.qualify_threshold", 9.0)
	v.SetDefault("matching.unknown_price_policy", "include")
	v.SetDefault("matching.request_ttl_hours", 168)
	v.SetDefault("evaluation.high_value_threshold", 8.0)
	v.SetDefault("evaluation.batch_limit", 10)
	v.SetDefault("evaluation.concurrency", 3)
	v.SetDefault("notify.channels", []string{"email"})
	v.SetDefault("notify.high_value_recipients", []string{})
	v.SetDefault("notify.smtp.host", "")
	v.SetDefault("notify.smtp.port", 587)
	v.SetDefault("notify.smtp.user", "")
	v.SetDefault("notify.smtp.password", "")
	v.SetDefault("notify.smtp.from", "")
	v.SetDefault("notify.smtp.timeout_secs", 30)
	v.SetDefault("notify.slack.webhook_url", "")
	v.SetDefault("notify.telegram.bot_token", "")
	v.SetDefault("notify.telegram.chat_id", "")
	v.SetDefault("notify.telegram.api_url", "https://api.telegram.org")
	v.SetDefault("schedule.ingest", "@every 30m")
	v.SetDefault("schedule.evaluate", "@every 15m")
	v.SetDefault("schedule.notify", "@every 15m")
	v.SetDefault("schedule.match", "@every 1h")
	v.SetDefault("schedule.expire", "@every 6h")
	v.SetDefault("schedule.monitor", "@every 1h")
	v.SetDefault("schedule.categories", []string{"computers"})
	v.SetDefault("schedule.ingest_limit", 20)
	v.SetDefault("schedule.lock_ttl_minutes", 55)
	v.SetDefault("schedule.redis_url", "")

	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.min_evaluations", 5)
	v.SetDefault("monitoring.backlog_threshold", 200)
	v.SetDefault("monitoring.channels", []string{})
	v.SetDefault("monitoring.recipients", []string{})

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// ResolveCategory maps a category name to its id. Values that are not a
// known name are returned unchanged so raw ids pass through.
func (c *Config) ResolveCategory(nameOrID string) string {
	key := strings.ToLower(strings.TrimSpace(nameOrID))
	if id, ok := c.Categories[key]; ok {
		return id
	}
	if id, ok := DefaultCategories[key]; ok {
		return id
	}
	return strings.TrimSpace(nameOrID)
}

// Validate checks that the settings a command needs are present. mode is one
// of store, scoring, notify, match, monitor, serve or schedule.
func (c *Config) Validate(mode string) error {
	var errs []string

	requireStore := func() {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required")
			}
		case "sqlite":
		default:
			errs = append(errs, fmt.Sprintf("store.driver %q must be postgres or sqlite", c.Store.Driver))
		}
	}
	requireScoring := func() {
		switch c.Scoring.Provider {
		case "anthropic":
			if c.Anthropic.Key == "" {
				errs = append(errs, "anthropic.key is required")
			}
		case "webhook":
			if c.Scoring.WebhookURL == "" {
				errs = append(errs, "scoring.webhook_url is required")
			}
		default:
			errs = append(errs, fmt.Sprintf("scoring.provider %q must be anthropic or webhook", c.Scoring.Provider))
		}
	}
	requireChannels := func(key string, channels []string) {
		for _, ch := range channels {
			switch ch {
			case "email":
				if c.Notify.SMTP.Host == "" || c.Notify.SMTP.From == "" {
					errs = append(errs, "notify.smtp.host and notify.smtp.from are required for email")
				}
			case "slack":
				if c.Notify.Slack.WebhookURL == "" {
					errs = append(errs, "notify.slack.webhook_url is required for slack")
				}
			case "telegram":
				if c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == "" {
					errs = append(errs, "notify.telegram.bot_token and notify.telegram.chat_id are required for telegram")
				}
			default:
				errs = append(errs, fmt.Sprintf("%s: unknown channel %q", key, ch))
			}
		}
	}
	requireNotify := func() { requireChannels("notify.channels", c.Notify.Channels) }
	requireThresholds := func() {
		if c.Matching.QualifyThreshold < 1 || c.Matching.QualifyThreshold > 10 {
			errs = append(errs, "matching.qualify_threshold must be between 1 and 10")
		}
		if c.Evaluation.HighValueThreshold < 1 || c.Evaluation.HighValueThreshold > 10 {
			errs = append(errs, "evaluation.high_value_threshold must be between 1 and 10")
		}
		if c.Matching.Concurrency < 1 || c.Matching.Concurrency > 20 {
			errs = append(errs, "matching.concurrency must be between 1 and 20")
		}
		if c.Evaluation.Concurrency < 1 || c.Evaluation.Concurrency > 20 {
			errs = append(errs, "evaluation.concurrency must be between 1 and 20")
		}
	}

	switch mode {
	case "store":
		requireStore()
	case "scoring":
		requireStore()
		requireScoring()
		requireThresholds()
	case "notify":
		requireStore()
		requireNotify()
	case "match":
		requireStore()
		requireScoring()
		requireNotify()
		requireThresholds()
	case "monitor":
		requireStore()
		requireChannels("monitoring.channels", c.Monitoring.Channels)
		if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
			errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
		}
		if slices.Contains(c.Monitoring.Channels, "email") && len(c.Monitoring.Recipients) == 0 {
			errs = append(errs, "monitoring.recipients is required for email alerts")
		}
	case "serve":
		requireStore()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "schedule":
		requireStore()
		requireScoring()
		requireNotify()
		requireThresholds()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
