package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const brevoEndpoint = "https://api.brevo.com/v3/smtp/email"

var ErrBrevoAPIKeyMissing = errors.New("BREVO_API_KEY not configured")

type BrevoConfig struct {
	APIKey      string
	SenderEmail string
	SenderName  string
}

type BrevoProvider struct {
	cfg      BrevoConfig
	http     *http.Client
	endpoint string
}

func NewBrevo(cfg BrevoConfig, hc *http.Client) *BrevoProvider {
	if hc == nil {
		hc = &http.Client{}
	}
	return &BrevoProvider{cfg: cfg, http: hc, endpoint: brevoEndpoint}
}

func (p *BrevoProvider) Name() string { return ProviderBrevo }

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type brevoRequest struct {
	Sender      brevoContact   `json:"sender"`
	To          []brevoContact `json:"to"`
	ReplyTo     *brevoContact  `json:"replyTo,omitempty"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
}

type brevoResponse struct {
	MessageID string `json:"messageId"`
}

func (p *BrevoProvider) Send(ctx context.Context, msg Message) (string, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return "", ErrBrevoAPIKeyMissing
	}
	if len(msg.To) == 0 {
		return "", ErrNoRecipients
	}

	sender := brevoContact{Email: msg.From.Email, Name: msg.From.Name}
	if sender.Email == "" {
		sender.Email = p.cfg.SenderEmail
	}
	if sender.Name == "" {
		sender.Name = p.cfg.SenderName
	}

	body := brevoRequest{
		Sender:      sender,
		Subject:     msg.Subject,
		HTMLContent: msg.HTMLBody,
	}
	for _, to := range msg.To {
		body.To = append(body.To, brevoContact{Email: to.Email, Name: to.Name})
	}
	if msg.ReplyTo != nil && msg.ReplyTo.Email != "" {
		body.ReplyTo = &brevoContact{Email: msg.ReplyTo.Email, Name: msg.ReplyTo.Name}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("api-key", p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("brevo request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("brevo response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("failed to send email: %s", strings.TrimSpace(string(raw)))
	}

	var out brevoResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return "", fmt.Errorf("brevo response: %w", err)
		}
	}
	return out.MessageID, nil
}
