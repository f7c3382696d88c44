package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadSettingsDefaults(t *testing.T) {
	for _, key := range []string{"SERVER_PORT", "APP_BASE_URL", "REQUEST_PREFIX", "SUBMISSION_LOCK_MODE",
		"JWT_EXPIRE_HOURS", "NOTIFY_WORKERS", "NOTIFY_REDELIVERY_CRON", "KAFKA_BROKERS", "SMTP_HOST", "SMTP_PORT"} {
		t.Setenv(key, "")
	}
	s := LoadSettings()
	assert.Equal(t, "8080", s.ServerPort)
	assert.Equal(t, "http://localhost:3000", s.BaseURL)
	assert.Equal(t, "REQ", s.RequestPrefix)
	assert.Equal(t, LockModeNoWait, s.LockMode)
	assert.Equal(t, 24*time.Hour, s.JWTExpiry())
	assert.Equal(t, 4, s.NotifyWorkers)
	assert.Equal(t, "@every 5m", s.NotifyRedeliveryCron)
	assert.Empty(t, s.KafkaBrokers)
	assert.Equal(t, 587, s.SMTP.Port)
	assert.False(t, s.SMTP.Configured())
}

func TestLoadSettingsOverrides(t *testing.T) {
	t.Setenv("APP_BASE_URL", "https://desk.example.org/")
	t.Setenv("SUBMISSION_LOCK_MODE", " WAIT ")
	t.Setenv("NOTIFY_WORKERS", "-3")
	t.Setenv("KAFKA_BROKERS", "k1:9092, ,k2:9092")
	t.Setenv("SMTP_HOST", "smtp.example.org")
	t.Setenv("SMTP_FROM", "desk@example.org")

	s := LoadSettings()
	assert.Equal(t, "https://desk.example.org", s.BaseURL)
	assert.Equal(t, LockModeWait, s.LockMode)
	assert.Equal(t, 4, s.NotifyWorkers)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, s.KafkaBrokers)
	assert.True(t, s.SMTP.Configured())
}

func TestMailerWithoutRecipientsIsNoop(t *testing.T) {
	assert.NoError(t, NewMailer(SMTPSettings{}).Send(nil, "subject", "<p>x</p>"))
	assert.ErrorIs(t, NewMailer(SMTPSettings{}).Send([]string{"a@example.org"}, "s", "b"), ErrMailNotConfigured)
}
