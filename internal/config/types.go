package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the bot's on-disk configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Discord   DiscordConfig   `yaml:"discord"`
	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type DiscordConfig struct {
	// Token is usually supplied via the BOT_TOKEN environment variable
	// instead of the config file; see LoadEnv.
	Token string `yaml:"token,omitempty"`

	// GuildID scopes slash-command registration to one guild (instant
	// availability, useful in development). Empty registers globally.
	GuildID string `yaml:"guild_id,omitempty"`

	// WebhookURL receives operator alerts (delivery failures, missed fires).
	WebhookURL string `yaml:"webhook_url,omitempty"`
}

type StorageConfig struct {
	Path        string `yaml:"path"`
	BusyTimeout string `yaml:"busy_timeout,omitempty"`
}

type SchedulerConfig struct {
	// Timezone is the default IANA zone for time parsing, e.g.
	// "Europe/Stockholm". Empty means UTC.
	Timezone string `yaml:"timezone,omitempty"`

	Workers         int    `yaml:"workers,omitempty"`
	QueueSize       int    `yaml:"queue_size,omitempty"`
	DispatchTimeout string `yaml:"dispatch_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string `yaml:"level,omitempty"`
	Console *bool  `yaml:"console,omitempty"`

	File struct {
		Enabled bool   `yaml:"enabled,omitempty"`
		Path    string `yaml:"path,omitempty"`
	} `yaml:"file,omitempty"`

	Webhook struct {
		Enabled    bool   `yaml:"enabled,omitempty"`
		MinLevel   string `yaml:"min_level,omitempty"`
		RatePerSec int    `yaml:"rate_per_sec,omitempty"`
	} `yaml:"webhook,omitempty"`
}

// Validate catches the mistakes that would otherwise only surface at
// runtime (bad durations, unknown zones).
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.dispatch_timeout", c.Scheduler.DispatchTimeout); err != nil {
		return err
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: unknown zone %q", tz)
		}
	}
	if c.Scheduler.Workers < 0 {
		return fmt.Errorf("scheduler.workers must be >= 0")
	}
	return nil
}

// ConsoleEnabled defaults to true when the field is omitted.
func (l LoggingConfig) ConsoleEnabled() bool {
	return l.Console == nil || *l.Console
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
