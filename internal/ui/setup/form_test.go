package setup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/replypacer/internal/model"
)

func TestApplyCopiesValues(t *testing.T) {
	cfg := model.DefaultAppConfig()
	v := valuesFrom(cfg)
	v.address = " sam@example.com "
	v.imapHost = "imap.example.com"
	v.smtpHost = "smtp.example.com"
	v.smtpSecurity = "starttls"
	v.hoursStart = "8"
	v.hoursEnd = "18"
	v.workers = "4"

	out, err := v.apply(cfg)
	require.NoError(t, err)
	assert.Equal(t, "sam@example.com", out.Mail.Address)
	assert.Equal(t, "sam@example.com", out.Mail.Username)
	assert.Equal(t, "starttls", out.Mail.SMTP.Security)
	assert.Equal(t, 8, out.Schedule.BusinessHoursStart)
	assert.Equal(t, 18, out.Schedule.BusinessHoursEnd)
	assert.Equal(t, 4, out.Schedule.Workers)
	require.NoError(t, out.Validate())

	assert.Empty(t, cfg.Mail.Address, "input config is not modified")
}

func TestApplyRejectsBadSchedule(t *testing.T) {
	cfg := model.DefaultAppConfig()

	v := valuesFrom(cfg)
	v.hoursStart, v.hoursEnd = "17", "9"
	_, err := v.apply(cfg)
	assert.Error(t, err)

	v = valuesFrom(cfg)
	v.workers = "0"
	_, err = v.apply(cfg)
	assert.Error(t, err)
}

func TestValidators(t *testing.T) {
	assert.NoError(t, validateAddress("a@b.c"))
	assert.Error(t, validateAddress("nobody"))
	assert.Error(t, validateAddress("trailing@"))

	assert.NoError(t, validatePort("993"))
	assert.Error(t, validatePort("99x"))
	assert.Error(t, validatePort(""))

	assert.NoError(t, validateHour("24"))
	assert.Error(t, validateHour("25"))
	assert.Error(t, validateRequired("Host")("  "))
}
