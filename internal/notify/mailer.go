package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Mailer delivers a single email.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig describes the outbound mail server.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends mail with PLAIN auth over STARTTLS.
type SMTPMailer struct {
	cfg  SMTPConfig
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &SMTPMailer{cfg: cfg, auth: auth, send: smtp.SendMail}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	done := make(chan error, 1)
	go func() {
		done <- m.send(addr, m.auth, m.cfg.From, []string{msg.To}, m.encode(msg))
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send to %s: %w", msg.To, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *SMTPMailer) encode(msg Message) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&sb, "To: %s\r\n", msg.To)
	fmt.Fprintf(&sb, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&sb, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(sb.String())
}

// LogMailer only logs messages. Used when no SMTP host is configured.
type LogMailer struct {
	logger *zerolog.Logger
}

func NewLogMailer(logger *zerolog.Logger) *LogMailer {
	l := logger.With().Str("component", "mailer").Logger()
	return &LogMailer{logger: &l}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info().
		Str("kind", string(msg.Kind)).
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Msg("Email not sent: SMTP is not configured")
	return nil
}
