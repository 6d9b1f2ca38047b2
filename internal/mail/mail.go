package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"nutribin-backend/config"
)

// Message is a rendered HTML email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers an email.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender delivers mail through an SMTP relay.
type SMTPSender struct {
	cfg     config.MailConfig
	timeout time.Duration
}

// NewSMTPSender creates a sender for the configured relay.
func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg, timeout: 30 * time.Second}
}

// Send delivers msg. It fails fast when no relay is configured.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if s.cfg.Host == "" {
		return errors.New("mail host is not configured")
	}
	if msg.To == "" {
		return errors.New("recipient is required")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	dialer := &net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if s.cfg.UseTLS {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}
	if s.cfg.Username != "" && s.cfg.Password != "" {
		if err := client.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("failed to set recipient: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open data writer: %w", err)
	}
	if _, err := w.Write([]byte(s.build(msg))); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}
	return client.Quit()
}

func (s *SMTPSender) build(msg Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s <%s>\r\n", s.cfg.FromName, s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	return b.String()
}
