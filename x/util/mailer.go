package util

import (
	"log/slog"
	"net/smtp"
	"strings"
)

// SmtpMailer sends plain-text mail through a configured relay. With no
// relay configured it logs and drops the message, so callers never
// need to care whether mail is set up.
type SmtpMailer struct {
	config Mail
}

func NewSmtpMailer(config Mail) *SmtpMailer {
	return &SmtpMailer{config}
}

func (m *SmtpMailer) Send(to, subject, body string) error {
	if m.config.SmtpAddr == "" {
		slog.Debug("mail disabled, dropping message", slog.String("to", to), slog.String("subject", subject))
		return nil
	}

	var auth smtp.Auth
	if m.config.SmtpUser != "" {
		host, _, _ := strings.Cut(m.config.SmtpAddr, ":")
		auth = smtp.PlainAuth("", m.config.SmtpUser, m.config.SmtpPass, host)
	}

	message := "From: " + m.config.From + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"\r\n" +
		body + "\r\n"

	return smtp.SendMail(m.config.SmtpAddr, auth, m.config.From, []string{to}, []byte(message))
}
