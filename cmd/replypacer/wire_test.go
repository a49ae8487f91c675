package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/replypacer/internal/model"
	"github.com/nhle/replypacer/internal/policy"
	"github.com/nhle/replypacer/internal/source/email"
	"github.com/nhle/replypacer/tests/testutil"
)

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(model.LogConfig{Level: "WARN", Format: "json"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("component", "engine").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"component":"engine"`)
	assert.Contains(t, out, `"level":"warn"`)
}

func TestNewLoggerDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(model.LogConfig{Level: "chatty", Format: "json"}, &buf)

	logger.Debug().Msg("hidden")
	logger.Info().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestBusinessHours(t *testing.T) {
	assert.Equal(t, policy.DefaultBusinessHours, businessHours(model.ScheduleConfig{}))
	assert.Equal(t,
		policy.BusinessHours{Start: 8, End: 18},
		businessHours(model.ScheduleConfig{BusinessHoursStart: 8, BusinessHoursEnd: 18}),
	)
}

func TestNewEngineFallsBackWithoutKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg := model.DefaultAppConfig()
	cfg.Mail.Address = "me@example.com"
	cfg.AI.Enabled = false

	var buf bytes.Buffer
	eng, err := newEngine(cfg, testutil.NewTestStore(t), email.NewTransport(cfg.Mail, "secret"), newLogger(cfg.Log, &buf))
	require.NoError(t, err)
	assert.NotNil(t, eng)
}

func TestCommandsParseFlags(t *testing.T) {
	cmds := commands()
	for _, name := range []string{"run", "once", "watch", "check", "setup", "queue", "notifications"} {
		require.Contains(t, cmds, name)
	}

	q := cmds["queue"]
	require.NoError(t, q.flags.Parse([]string{"--all", "-n", "5"}))
	all, err := q.flags.GetBool("all")
	require.NoError(t, err)
	assert.True(t, all)
	n, err := q.flags.GetInt("limit")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}
