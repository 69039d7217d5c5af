package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"CrossPoster/internal/domain"
	"CrossPoster/internal/retry"
)

const (
	defaultTimezone = "UTC"

	configPathEnv      = "CROSSPOSTER_CONFIG"
	databaseDSNEnv     = "DATABASE_DSN"
	databaseDriverEnv  = "DATABASE_DRIVER"
	mastodonTokenEnv   = "MASTODON_ACCESS_TOKEN"
	mastodonURLEnv     = "MASTODON_INSTANCE_URL"
	telegramTokenEnv   = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv  = "TELEGRAM_CHAT_ID"
	logLevelEnv        = "LOG_LEVEL"
	defaultDotEnvFile  = ".env"
	defaultDatabaseDSN = "crossposter.db"
)

// Config holds high-level settings required across the application.
type Config struct {
	Database      DatabaseConfig     `yaml:"database"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Dedup         DedupConfig        `yaml:"dedup"`
	Publishing    PublishingConfig   `yaml:"publishing"`
	Destination   DestinationConfig  `yaml:"destination"`
	Notifications NotificationConfig `yaml:"notifications"`
	Metrics       MetricsConfig      `yaml:"metrics"`
	Logging       LoggingConfig      `yaml:"logging"`
	Sources       []SourceConfig     `yaml:"sources"`
}

// DatabaseConfig selects the state backend: sqlite, postgres or memory.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SchedulerConfig defines when ticks fire and how often each source is polled.
// A cron expression wins over the tick interval when both are set.
type SchedulerConfig struct {
	CronExpression       string         `yaml:"cronExpression"`
	TickInterval         time.Duration  `yaml:"tickInterval"`
	Timezone             string         `yaml:"timezone"`
	PollInterval         time.Duration  `yaml:"pollInterval"`
	BackoffCap           int            `yaml:"backoffCap"`
	MaxConcurrentSources int            `yaml:"maxConcurrentSources"`
	location             *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	return time.UTC
}

// DedupConfig tunes the edit/duplicate buffer.
type DedupConfig struct {
	SimilarityThreshold float64       `yaml:"similarityThreshold"`
	RetentionWindow     time.Duration `yaml:"retentionWindow"`
	SweepInterval       time.Duration `yaml:"sweepInterval"`
}

// PublishingConfig bounds retries and attachment uploads of destination calls.
type PublishingConfig struct {
	BackoffMode       string        `yaml:"backoffMode"`
	MaxRetries        int           `yaml:"maxRetries"`
	RetryInitial      time.Duration `yaml:"retryInitial"`
	RetryMax          time.Duration `yaml:"retryMax"`
	MaxRateLimitWaits int           `yaml:"maxRateLimitWaits"`
	MaxAttachments    int           `yaml:"maxAttachments"`
	UploadWorkers     int           `yaml:"uploadWorkers"`
}

// RetryPolicy is the retry policy exactly as configured, before any defaults apply.
func (p PublishingConfig) RetryPolicy() retry.Policy {
	return retry.Policy{
		Mode:       retry.BackoffMode(p.BackoffMode),
		Initial:    p.RetryInitial,
		Max:        p.RetryMax,
		MaxRetries: p.MaxRetries,
	}
}

// DestinationConfig points at the Mastodon-compatible instance posts are mirrored to.
type DestinationConfig struct {
	InstanceURL string        `yaml:"instanceUrl"`
	AccessToken string        `yaml:"accessToken"`
	Visibility  string        `yaml:"visibility"`
	MaxChars    int           `yaml:"maxChars"`
	Timeout     time.Duration `yaml:"timeout"`
}

// NotificationConfig encapsulates outbound alert channels.
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// Enabled reports whether alerts can be sent.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// MetricsConfig enables the Prometheus endpoint when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SourceConfig describes a single polled source and the adapter that reads it.
type SourceConfig struct {
	ID            string            `yaml:"id"`
	Platform      string            `yaml:"platform"`
	URL           string            `yaml:"url"`
	BackfillLimit int               `yaml:"backfillLimit"`
	Options       map[string]string `yaml:"options"`
}

// Source converts the entry to its domain form.
func (s SourceConfig) Source() domain.Source {
	return domain.Source{
		ID:            s.ID,
		Platform:      s.Platform,
		URL:           s.URL,
		BackfillLimit: s.BackfillLimit,
		Options:       s.Options,
	}
}

// Load reads the optional .env file, the YAML configuration at path (or at
// $CROSSPOSTER_CONFIG when path is empty) and applies environment overrides.
// Keys absent from the file keep their defaults.
func Load(path string) (Config, error) {
	if err := godotenv.Load(defaultDotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, &domain.ConfigError{Err: fmt.Errorf("load %s: %w", defaultDotEnvFile, err)}
	}

	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, &domain.ConfigError{Err: fmt.Errorf("read %s: %w", path, err)}
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, &domain.ConfigError{Err: fmt.Errorf("parse %s: %w", path, err)}
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.bindTimezone(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(mastodonURLEnv); v != "" {
		c.Destination.InstanceURL = v
	}
	if v := os.Getenv(mastodonTokenEnv); v != "" {
		c.Destination.AccessToken = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) bindTimezone() error {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return &domain.ConfigError{Err: fmt.Errorf("unknown timezone %q: %w", tz, err)}
	}
	c.Scheduler.location = loc
	return nil
}

// Validate reports every problem at once as a single ConfigError.
func (c Config) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
		if c.Database.DSN == "" {
			add("database.dsn is required for driver %s", c.Database.Driver)
		}
	case "memory":
	default:
		add("database.driver %q is not one of sqlite, postgres, memory", c.Database.Driver)
	}

	if c.Scheduler.CronExpression == "" && c.Scheduler.TickInterval <= 0 {
		add("scheduler needs cronExpression or a positive tickInterval")
	}
	if c.Scheduler.PollInterval <= 0 {
		add("scheduler.pollInterval must be positive")
	}
	if c.Scheduler.BackoffCap < 1 {
		add("scheduler.backoffCap must be at least 1")
	}
	if c.Scheduler.MaxConcurrentSources < 1 {
		add("scheduler.maxConcurrentSources must be at least 1")
	}

	if t := c.Dedup.SimilarityThreshold; t <= 0 || t > 1 {
		add("dedup.similarityThreshold must be in (0, 1], got %v", t)
	}
	if c.Dedup.RetentionWindow <= 0 {
		add("dedup.retentionWindow must be positive")
	}

	if err := c.Publishing.RetryPolicy().Validate(); err != nil {
		add("publishing retry policy: %v", err)
	}
	if c.Publishing.MaxAttachments < 0 || c.Publishing.UploadWorkers < 0 {
		add("publishing attachment limits cannot be negative")
	}

	if c.Destination.InstanceURL == "" {
		add("destination.instanceUrl is required")
	}
	if c.Destination.AccessToken == "" {
		add("destination.accessToken is required")
	}

	tg := c.Notifications.Telegram
	if (tg.BotToken == "") != (tg.ChatID == "") {
		add("notifications.telegram needs both botToken and chatId")
	}

	if len(c.Sources) == 0 {
		add("at least one source must be configured")
	}
	seen := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		if strings.TrimSpace(src.ID) == "" {
			add("sources[%d].id is required", i)
		} else if seen[src.ID] {
			add("sources[%d].id %q is duplicated", i, src.ID)
		}
		seen[src.ID] = true
		if src.Platform == "" {
			add("sources[%d].platform is required", i)
		}
		if src.URL == "" {
			add("sources[%d].url is required", i)
		}
		if src.BackfillLimit < 0 {
			add("sources[%d].backfillLimit cannot be negative", i)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return &domain.ConfigError{Err: errors.Join(problems...)}
}

func defaultConfig() Config {
	return Config{
		Database: DatabaseConfig{Driver: "sqlite", DSN: defaultDatabaseDSN},
		Scheduler: SchedulerConfig{
			TickInterval:         time.Minute,
			Timezone:             defaultTimezone,
			PollInterval:         10 * time.Minute,
			BackoffCap:           32,
			MaxConcurrentSources: 4,
			location:             time.UTC,
		},
		Dedup: DedupConfig{
			SimilarityThreshold: 0.8,
			RetentionWindow:     48 * time.Hour,
			SweepInterval:       time.Hour,
		},
		Publishing: PublishingConfig{
			BackoffMode:       "exponential",
			MaxRetries:        2,
			RetryInitial:      time.Second,
			RetryMax:          30 * time.Second,
			MaxRateLimitWaits: 5,
			MaxAttachments:    4,
			UploadWorkers:     4,
		},
		Destination: DestinationConfig{
			Visibility: "public",
			MaxChars:   500,
			Timeout:    30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}
