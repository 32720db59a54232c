// Package config manages application configuration from config.yaml,
// BOT_* environment variables, and default values.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines the application configuration for all components:
// logging, the Discord connection, summary scheduling, backfill, the
// Gemini summarizer, and the database.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Discord   DiscordConfig   `mapstructure:"discord"`
	Summary   SummaryConfig   `mapstructure:"summary"`
	Backfill  BackfillConfig  `mapstructure:"backfill"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LogConfig controls log verbosity and output format.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DiscordConfig holds the bot token and the allowlist for the on-demand
// recap command. User IDs are Discord snowflakes as strings.
type DiscordConfig struct {
	Token             string   `mapstructure:"token" validate:"required"`
	AuthorizedUserIDs []string `mapstructure:"authorized_user_ids"`
}

// SummaryConfig controls the daily recap: the display name of the output
// channel looked up per server, and the UTC hour of the daily run.
type SummaryConfig struct {
	Channel string `mapstructure:"channel" validate:"required"`
	Hour    int    `mapstructure:"hour"    validate:"min=0,max=23"`
}

// BackfillConfig controls history catch-up on startup. LookbackDays bounds
// the first fetch for channels without a watermark; Pace is the fixed
// delay between channel fetches.
type BackfillConfig struct {
	LookbackDays int           `mapstructure:"lookback_days" validate:"min=1"`
	Pace         time.Duration `mapstructure:"pace"          validate:"min=0"`
}

// GeminiConfig holds the summarizer client settings.
type GeminiConfig struct {
	APIKey            string  `mapstructure:"api_key" validate:"required"`
	Model             string  `mapstructure:"model"   validate:"required"`
	Temperature       float32 `mapstructure:"temperature" validate:"min=0,max=2"`
	MaxRetries        int     `mapstructure:"max_retries" validate:"min=0,max=10"`
	RetryDelaySeconds int     `mapstructure:"retry_delay_seconds" validate:"min=0"`
}

// DatabaseConfig holds the SQLite database location.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// SchedulerConfig maps task names to their cron schedules.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// TaskConfig enables a registered task and sets its cron schedule.
// An empty daily_summary schedule is derived from summary.hour at startup.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// LoadConfig loads and validates configuration in precedence order:
// defaults, then the YAML file at configPath (optional), then BOT_*
// environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Missing config file is fine, defaults plus env must suffice.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", true)

	v.SetDefault("summary.channel", "recaps")
	v.SetDefault("summary.hour", 20)

	v.SetDefault("backfill.lookback_days", 2)
	v.SetDefault("backfill.pace", time.Second)

	v.SetDefault("gemini.model", "gemini-2.0-flash")
	v.SetDefault("gemini.temperature", 0.7)
	v.SetDefault("gemini.max_retries", 2)
	v.SetDefault("gemini.retry_delay_seconds", 5)

	v.SetDefault("database.path", "messages.db")

	v.SetDefault("scheduler.tasks.daily_summary.enabled", true)
	v.SetDefault("scheduler.tasks.sql_maintenance.enabled", true)
	v.SetDefault("scheduler.tasks.sql_maintenance.schedule", "0 4 * * 0")
}
