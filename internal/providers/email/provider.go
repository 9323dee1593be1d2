package email

import (
	"context"
	"errors"
)

const (
	ProviderBrevo = "brevo"
	ProviderSMTP  = "smtp"
	ProviderNoop  = "noop"
)

var (
	ErrNotConfigured = errors.New("email provider not configured")
	ErrNoRecipients  = errors.New("email message has no recipients")
)

type Address struct {
	Email string
	Name  string
}

// Message is a single HTML email. ReplyTo is optional.
type Message struct {
	From     Address
	To       []Address
	ReplyTo  *Address
	Subject  string
	HTMLBody string
}

type Provider interface {
	Name() string
	// Send delivers the message and returns the provider message id when the
	// provider reports one.
	Send(ctx context.Context, msg Message) (string, error)
}

type NoOpProvider struct{}

func (p *NoOpProvider) Name() string { return ProviderNoop }

func (p *NoOpProvider) Send(ctx context.Context, msg Message) (string, error) {
	if len(msg.To) == 0 {
		return "", ErrNoRecipients
	}
	return "", nil
}
