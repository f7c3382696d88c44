package config

import (
	"crypto/tls"
	"errors"
	"os"
	"strconv"

	mail "github.com/go-mail/mail/v2"
)

// ErrMailNotConfigured is returned when SMTP_HOST or SMTP_FROM is missing.
var ErrMailNotConfigured = errors.New("smtp not configured (SMTP_HOST/SMTP_FROM)")

// SMTPSettings holds the SMTP_* variables.
type SMTPSettings struct {
	Host          string
	Port          int
	User          string
	Pass          string
	From          string // e.g. "Request Desk <no-reply@your.org>"
	SkipTLSVerify bool
}

func LoadSMTPSettings() SMTPSettings {
	port, _ := strconv.Atoi(os.Getenv("SMTP_PORT"))
	if port == 0 {
		port = 587
	}
	return SMTPSettings{
		Host:          os.Getenv("SMTP_HOST"),
		Port:          port,
		User:          os.Getenv("SMTP_USER"),
		Pass:          os.Getenv("SMTP_PASS"),
		From:          os.Getenv("SMTP_FROM"),
		SkipTLSVerify: os.Getenv("SMTP_SKIP_TLS_VERIFY") == "1",
	}
}

func (s SMTPSettings) Configured() bool {
	return s.Host != "" && s.From != ""
}

// Mailer sends HTML mail over STARTTLS.
type Mailer struct {
	settings SMTPSettings
}

func NewMailer(settings SMTPSettings) *Mailer {
	return &Mailer{settings: settings}
}

func (m *Mailer) Send(to []string, subject, html string) error {
	if len(to) == 0 {
		return nil
	}
	if !m.settings.Configured() {
		return ErrMailNotConfigured
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.settings.From)
	msg.SetHeader("To", to...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", html)

	d := mail.NewDialer(m.settings.Host, m.settings.Port, m.settings.User, m.settings.Pass)
	d.StartTLSPolicy = mail.MandatoryStartTLS
	// ServerName must match the SMTP hostname; skip verification only in development.
	d.TLSConfig = &tls.Config{
		ServerName:         m.settings.Host,
		InsecureSkipVerify: m.settings.SkipTLSVerify,
	}
	return d.DialAndSend(msg)
}
