package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// IMAPConfig holds the inbox server settings.
type IMAPConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`

	// TLS selects implicit TLS; otherwise STARTTLS is used.
	TLS bool `mapstructure:"tls" yaml:"tls"`

	// Mailbox is the folder polled for unread messages.
	Mailbox string `mapstructure:"mailbox" yaml:"mailbox"`

	// DraftsMailbox receives best-effort reply drafts.
	DraftsMailbox string `mapstructure:"drafts_mailbox" yaml:"drafts_mailbox"`

	// FetchLimit caps the number of unread messages taken per sweep.
	FetchLimit int `mapstructure:"fetch_limit" yaml:"fetch_limit"`
}

// SMTPConfig holds the outgoing server settings.
type SMTPConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`

	// Security is one of "tls", "starttls", or "none".
	Security string `mapstructure:"security" yaml:"security"`
}

// MailConfig holds the mailbox identity and server settings.
type MailConfig struct {
	// Address is the mailbox address replies are sent from.
	Address string `mapstructure:"address" yaml:"address"`

	// DisplayName is used in the From header of outgoing mail.
	DisplayName string `mapstructure:"display_name" yaml:"display_name"`

	// Username authenticates against both IMAP and SMTP. The password
	// lives in the keyring, never in the file.
	Username string `mapstructure:"username" yaml:"username"`

	IMAP IMAPConfig `mapstructure:"imap" yaml:"imap"`
	SMTP SMTPConfig `mapstructure:"smtp" yaml:"smtp"`
}

// AIConfig holds settings for the language model integration.
type AIConfig struct {
	// Enabled switches the latency policy and composer to the Claude API.
	// When false (or no API key is available) the heuristic policy and
	// template composer are used.
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Model     string `mapstructure:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
}

// ScheduleConfig holds sweep intervals, timeouts and delay bounds.
type ScheduleConfig struct {
	IngestIntervalSec   int `mapstructure:"ingest_interval_sec" yaml:"ingest_interval_sec"`
	DispatchIntervalSec int `mapstructure:"dispatch_interval_sec" yaml:"dispatch_interval_sec"`

	// Workers is the dispatch fan-out; 1 processes due rows sequentially.
	Workers int `mapstructure:"workers" yaml:"workers"`

	TransportTimeoutSec int `mapstructure:"transport_timeout_sec" yaml:"transport_timeout_sec"`
	PolicyTimeoutSec    int `mapstructure:"policy_timeout_sec" yaml:"policy_timeout_sec"`

	// ClaimTTLSec bounds how long a sweep may hold a row before an
	// overlapping sweep can retry it.
	ClaimTTLSec int `mapstructure:"claim_ttl_sec" yaml:"claim_ttl_sec"`

	// FallbackMinMinutes and FallbackMaxMinutes bound the random reply
	// delay used when the latency policy fails.
	FallbackMinMinutes int `mapstructure:"fallback_min_minutes" yaml:"fallback_min_minutes"`
	FallbackMaxMinutes int `mapstructure:"fallback_max_minutes" yaml:"fallback_max_minutes"`

	FollowupMinDays int `mapstructure:"followup_min_days" yaml:"followup_min_days"`
	FollowupMaxDays int `mapstructure:"followup_max_days" yaml:"followup_max_days"`

	BusinessHoursStart int `mapstructure:"business_hours_start" yaml:"business_hours_start"`
	BusinessHoursEnd   int `mapstructure:"business_hours_end" yaml:"business_hours_end"`

	// CreateDrafts stores each reply as a provider-side draft at ingestion.
	CreateDrafts bool `mapstructure:"create_drafts" yaml:"create_drafts"`
}

// Duration helpers convert the second-based settings.
func (s ScheduleConfig) IngestInterval() time.Duration {
	return time.Duration(s.IngestIntervalSec) * time.Second
}

func (s ScheduleConfig) DispatchInterval() time.Duration {
	return time.Duration(s.DispatchIntervalSec) * time.Second
}

func (s ScheduleConfig) TransportTimeout() time.Duration {
	return time.Duration(s.TransportTimeoutSec) * time.Second
}

func (s ScheduleConfig) PolicyTimeout() time.Duration {
	return time.Duration(s.PolicyTimeoutSec) * time.Second
}

func (s ScheduleConfig) ClaimTTL() time.Duration {
	return time.Duration(s.ClaimTTLSec) * time.Second
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig selects the log level and output format ("console" or "json").
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig holds the listen address of the metrics/health server.
// An empty address disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Mail     MailConfig     `mapstructure:"mail" yaml:"mail"`
	AI       AIConfig       `mapstructure:"ai" yaml:"ai"`
	Schedule ScheduleConfig `mapstructure:"schedule" yaml:"schedule"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// envPrefix namespaces environment overrides, e.g. REPLYPACER_MAIL_ADDRESS.
const envPrefix = "REPLYPACER"

// DefaultConfigDir returns ~/.config/replypacer.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "replypacer")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/replypacer/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// defaults is the single table of default values; it feeds both viper
// and DefaultAppConfig.
var defaults = map[string]any{
	"mail.address":                   "",
	"mail.display_name":              "",
	"mail.username":                  "",
	"mail.imap.host":                 "",
	"mail.smtp.host":                 "",
	"mail.imap.port":                 "993",
	"mail.imap.tls":                  true,
	"mail.imap.mailbox":              "INBOX",
	"mail.imap.drafts_mailbox":       "Drafts",
	"mail.imap.fetch_limit":          10,
	"mail.smtp.port":                 "465",
	"mail.smtp.security":             "tls",
	"ai.enabled":                     true,
	"ai.model":                       "claude-sonnet-4-5-20250929",
	"ai.max_tokens":                  1024,
	"ai.base_url":                    "https://api.anthropic.com",
	"schedule.ingest_interval_sec":   60,
	"schedule.dispatch_interval_sec": 60,
	"schedule.workers":               1,
	"schedule.transport_timeout_sec": 30,
	"schedule.policy_timeout_sec":    30,
	"schedule.claim_ttl_sec":         300,
	"schedule.fallback_min_minutes":  30,
	"schedule.fallback_max_minutes":  60,
	"schedule.followup_min_days":     2,
	"schedule.followup_max_days":     5,
	"schedule.business_hours_start":  9,
	"schedule.business_hours_end":    17,
	"schedule.create_drafts":         true,
	"store.path":                     "",
	"log.level":                      "info",
	"log.format":                     "console",
	"metrics.addr":                   ":9464",
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

// DefaultAppConfig returns the configuration used when no file exists.
func DefaultAppConfig() *AppConfig {
	cfg := &AppConfig{}
	if err := newViper("").Unmarshal(cfg); err != nil {
		// The defaults table is static; failing to decode it is a bug.
		panic(fmt.Sprintf("decoding default config: %v", err))
	}
	cfg.Store.Path = filepath.Join(DefaultConfigDir(), "replypacer.db")
	return cfg
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Environment variables prefixed with REPLYPACER_ override file values.
// If the file does not exist, defaults (plus environment) are returned.
func LoadConfig(path string) (*AppConfig, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(filepath.Dir(path), "replypacer.db")
	}
	if cfg.Mail.Username == "" {
		cfg.Mail.Username = cfg.Mail.Address
	}
	cfg.Schedule.normalize()

	return cfg, nil
}

// normalize repairs settings that would make a sweep hang or misbehave.
func (s *ScheduleConfig) normalize() {
	if s.IngestIntervalSec <= 0 {
		s.IngestIntervalSec = 60
	}
	if s.DispatchIntervalSec <= 0 {
		s.DispatchIntervalSec = 60
	}
	if s.Workers < 1 {
		s.Workers = 1
	}
	if s.TransportTimeoutSec <= 0 {
		s.TransportTimeoutSec = 30
	}
	if s.PolicyTimeoutSec <= 0 {
		s.PolicyTimeoutSec = 30
	}
	if s.ClaimTTLSec <= 0 {
		s.ClaimTTLSec = 300
	}
	if s.FallbackMaxMinutes < s.FallbackMinMinutes {
		s.FallbackMaxMinutes = s.FallbackMinMinutes
	}
	if s.FollowupMaxDays < s.FollowupMinDays {
		s.FollowupMaxDays = s.FollowupMinDays
	}
}

// Validate reports settings that are required before talking to a server.
func (c *AppConfig) Validate() error {
	var missing []string
	if c.Mail.Address == "" {
		missing = append(missing, "mail.address")
	}
	if c.Mail.IMAP.Host == "" {
		missing = append(missing, "mail.imap.host")
	}
	if c.Mail.SMTP.Host == "" {
		missing = append(missing, "mail.smtp.host")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	switch c.Mail.SMTP.Security {
	case "tls", "starttls", "none":
	default:
		return fmt.Errorf("mail.smtp.security must be tls, starttls or none, got %q", c.Mail.SMTP.Security)
	}
	// A claim that expires mid-send lets an overlapping sweep send again.
	if c.Schedule.ClaimTTLSec <= c.Schedule.TransportTimeoutSec {
		return fmt.Errorf("schedule.claim_ttl_sec (%d) must exceed schedule.transport_timeout_sec (%d)",
			c.Schedule.ClaimTTLSec, c.Schedule.TransportTimeoutSec)
	}
	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("mail", cfg.Mail)
	v.Set("ai", cfg.AI)
	v.Set("schedule", cfg.Schedule)
	v.Set("store", cfg.Store)
	v.Set("log", cfg.Log)
	v.Set("metrics", cfg.Metrics)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
