package notify

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/hotspotpay/hotspot/internal/pkg/env"
)

// Alerter tells operators about conditions that need manual remediation,
// such as a controller user left enabled after a failed disable.
type Alerter interface {
	Alert(subject, body string)
}

// LogAlerter writes alerts to the error log only.
type LogAlerter struct{}

func (LogAlerter) Alert(subject, body string) {
	log.Errorf("[Alert] %s: %s", subject, body)
}

// SMTPAlerter emails alerts to ALERT_EMAIL and always logs them as well.
type SMTPAlerter struct {
	Host     string
	Port     string
	Username string
	Password string
	Sender   string
	To       string

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewAlerterFromEnv returns an SMTPAlerter when SMTP_HOST and ALERT_EMAIL are set.
func NewAlerterFromEnv() Alerter {
	host := env.GetEnv("SMTP_HOST", "")
	to := env.GetEnv("ALERT_EMAIL", "")
	if host == "" || to == "" {
		return LogAlerter{}
	}
	sender := env.GetEnv("SMTP_SENDER", "")
	if sender == "" {
		sender = "no-reply@localhost"
		log.Infof("[Alert] SMTP_SENDER not set, using default sender: %s", sender)
	}
	return &SMTPAlerter{
		Host:     host,
		Port:     env.GetEnv("SMTP_PORT", "587"),
		Username: env.GetEnv("SMTP_USERNAME", ""),
		Password: env.GetEnv("SMTP_PASSWORD", ""),
		Sender:   sender,
		To:       to,
		send:     smtp.SendMail,
	}
}

func (s *SMTPAlerter) Alert(subject, body string) {
	LogAlerter{}.Alert(subject, body)

	var auth smtp.Auth
	if s.Username != "" && s.Password != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	addr := fmt.Sprintf("%s:%s", s.Host, s.Port)
	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: [hotspot] %s\r\n", s.Sender, s.To, sanitizeHeader(subject)) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
			body,
	)

	send := s.send
	if send == nil {
		send = smtp.SendMail
	}
	go func() {
		if err := send(addr, auth, s.Sender, []string{s.To}, msg); err != nil {
			log.Warnf("[Alert] SMTP send error: %v", err)
		}
	}()
}

func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
