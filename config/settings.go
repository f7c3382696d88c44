package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Lock modes for SUBMISSION_LOCK_MODE.
const (
	LockModeNoWait = "nowait"
	LockModeWait   = "wait"
)

// Settings collects the environment the API and the CLI run with.
type Settings struct {
	ServerPort string
	GinMode    string
	BaseURL    string

	RequestPrefix string
	LockMode      string
	UploadPath    string

	JWTSecret      string
	JWTExpireHours int
	LogsToken      string

	NotifyWorkers        int
	NotifyQueueSize      int
	NotifyRedeliveryCron string
	NotifyMaxAttempts    int

	KafkaBrokers []string
	KafkaTopic   string

	TraceOutput string

	SMTP SMTPSettings
}

// LoadSettings reads Settings from the process environment. Call it after
// godotenv.Load.
func LoadSettings() Settings {
	return Settings{
		ServerPort: envOr("SERVER_PORT", "8080"),
		GinMode:    os.Getenv("GIN_MODE"),
		BaseURL:    strings.TrimRight(envOr("APP_BASE_URL", "http://localhost:3000"), "/"),

		RequestPrefix: envOr("REQUEST_PREFIX", "REQ"),
		LockMode:      lockMode(os.Getenv("SUBMISSION_LOCK_MODE")),
		UploadPath:    envOr("UPLOAD_PATH", "./uploads"),

		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTExpireHours: envInt("JWT_EXPIRE_HOURS", 24),
		LogsToken:      os.Getenv("LOGS_TOKEN"),

		NotifyWorkers:        envInt("NOTIFY_WORKERS", 4),
		NotifyQueueSize:      envInt("NOTIFY_QUEUE_SIZE", 256),
		NotifyRedeliveryCron: envOr("NOTIFY_REDELIVERY_CRON", "@every 5m"),
		NotifyMaxAttempts:    envInt("NOTIFY_MAX_ATTEMPTS", 5),

		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   envOr("KAFKA_TOPIC", "request-routing.notifications"),

		TraceOutput: os.Getenv("TRACE_OUTPUT"),

		SMTP: LoadSMTPSettings(),
	}
}

// JWTExpiry is the token lifetime.
func (s Settings) JWTExpiry() time.Duration {
	return time.Duration(s.JWTExpireHours) * time.Hour
}

func lockMode(v string) string {
	if strings.EqualFold(strings.TrimSpace(v), LockModeWait) {
		return LockModeWait
	}
	return LockModeNoWait
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
