package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/replypacer/internal/ai"
	"github.com/nhle/replypacer/internal/credential"
	"github.com/nhle/replypacer/internal/engine"
	"github.com/nhle/replypacer/internal/model"
	"github.com/nhle/replypacer/internal/policy"
	"github.com/nhle/replypacer/internal/source/email"
	"github.com/nhle/replypacer/internal/store"
)

// newLogger builds the process logger from the log section. Console output
// is meant for a terminal, json for collection.
func newLogger(cfg model.LogConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "json" {
		logger = zerolog.New(out)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// logFile opens the log file used while the dashboard owns the terminal.
func logFile(cfgPath string) (*os.File, error) {
	path := filepath.Join(filepath.Dir(cfgPath), "replypacer.log")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}

func loadConfig(cfgPath string) (*model.AppConfig, error) {
	cfg, err := model.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w (run `replypacer setup`)", err)
	}
	return cfg, nil
}

func openStore(cfg *model.AppConfig) (*store.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return store.NewSQLiteStore(cfg.Store.Path)
}

func newTransport(cfg *model.AppConfig) (*email.Transport, error) {
	password, err := credential.Lookup(credential.MailPassword, credential.MailPasswordEnv)
	if err != nil {
		return nil, fmt.Errorf("mail password: %w", err)
	}
	return email.NewTransport(cfg.Mail, password), nil
}

func businessHours(cfg model.ScheduleConfig) policy.BusinessHours {
	if cfg.BusinessHoursStart == 0 && cfg.BusinessHoursEnd == 0 {
		return policy.DefaultBusinessHours
	}
	return policy.BusinessHours{Start: cfg.BusinessHoursStart, End: cfg.BusinessHoursEnd}
}

// newEngine wires the engine. The Claude-backed latency policy and
// composer are used when enabled and a key is available; otherwise the
// heuristic and templates stand in.
func newEngine(
	cfg *model.AppConfig,
	s store.Store,
	transport *email.Transport,
	logger zerolog.Logger,
) (*engine.Engine, error) {
	hours := businessHours(cfg.Schedule)
	deps := engine.Deps{
		Store:     s,
		Transport: transport,
		Latency:   policy.NewHeuristic(hours),
		Followup: policy.RandomFollowup{
			MinDays: cfg.Schedule.FollowupMinDays,
			MaxDays: cfg.Schedule.FollowupMaxDays,
		},
		Composer: policy.Templates{},
		Logger:   logger,
	}

	if cfg.AI.Enabled {
		key, err := credential.Lookup(credential.ClaudeAPIKey, credential.ClaudeAPIKeyEnv)
		if err != nil || key == "" {
			logger.Warn().Err(err).Msg("ai enabled but no API key found, using heuristic policy")
		} else {
			client := ai.NewClient(key, cfg.AI)
			signer := cfg.Mail.DisplayName
			if signer == "" {
				signer = cfg.Mail.Address
			}
			deps.Latency = ai.NewLatencyAgent(client, hours)
			deps.Composer = ai.NewComposer(client, signer)
		}
	}

	return engine.New(deps, engine.OptionsFromConfig(cfg))
}
