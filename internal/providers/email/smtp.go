package email

import (
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"strings"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPProvider struct {
	cfg      Config
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTP(cfg Config) *SMTPProvider {
	return &SMTPProvider{cfg: cfg, sendMail: smtp.SendMail}
}

func (p *SMTPProvider) Name() string { return ProviderSMTP }

func (p *SMTPProvider) Send(ctx context.Context, msg Message) (string, error) {
	if len(msg.To) == 0 {
		return "", ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	from := msg.From
	if from.Email == "" {
		from.Email = p.cfg.From
	}

	recipients := make([]string, 0, len(msg.To))
	for _, to := range msg.To {
		recipients = append(recipients, to.Email)
	}

	var auth smtp.Auth
	if p.cfg.Username != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	if err := p.sendMail(addr, auth, from.Email, recipients, buildMIME(from, msg)); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}
	return "", nil
}

func buildMIME(from Address, msg Message) []byte {
	to := make([]string, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, formatAddress(addr))
	}

	var b strings.Builder
	b.WriteString("From: " + formatAddress(from) + "\r\n")
	b.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	if msg.ReplyTo != nil && msg.ReplyTo.Email != "" {
		b.WriteString("Reply-To: " + formatAddress(*msg.ReplyTo) + "\r\n")
	}
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(msg.HTMLBody)
	return []byte(b.String())
}

func formatAddress(addr Address) string {
	if addr.Name == "" {
		return addr.Email
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", addr.Name), addr.Email)
}
