package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/smallbiznis/phage/internal/config"
	contactdomain "github.com/smallbiznis/phage/internal/contact/domain"
	obslogger "github.com/smallbiznis/phage/internal/observability/logger"
	"github.com/smallbiznis/phage/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	subjectPrefix = "[Contact Form] "
	adminName     = "Admin"

	maxNameLen    = 200
	maxSubjectLen = 300
	maxMessageLen = 10000
)

type Params struct {
	fx.In

	Log    *zap.Logger
	Config config.Config
	Email  email.Provider
}

type Service struct {
	log        *zap.Logger
	email      email.Provider
	adminEmail string
}

func New(p Params) contactdomain.Service {
	return &Service{
		log:        p.Log.Named("contact.service"),
		email:      p.Email,
		adminEmail: strings.TrimSpace(p.Config.Email.AdminEmail),
	}
}

func (s *Service) Submit(ctx context.Context, req contactdomain.Request) (*contactdomain.Result, error) {
	clean := contactdomain.Request{
		Name:    Sanitize(req.Name),
		Email:   strings.TrimSpace(req.Email),
		Subject: Sanitize(req.Subject),
		Message: Sanitize(req.Message),
	}
	if err := validate(clean); err != nil {
		return nil, err
	}

	log := obslogger.WithContext(ctx, s.log)
	log.Info("contact form submission received",
		zap.String("name", clean.Name),
		zap.String("email", clean.Email),
		zap.String("subject", clean.Subject),
		zap.Int("message_length", len(clean.Message)),
	)

	if s.adminEmail == "" {
		return nil, contactdomain.ErrNotConfigured
	}

	id, err := s.email.Send(ctx, email.Message{
		To:       []email.Address{{Email: s.adminEmail, Name: adminName}},
		ReplyTo:  &email.Address{Email: clean.Email, Name: clean.Name},
		Subject:  subjectPrefix + clean.Subject,
		HTMLBody: RenderHTML(clean),
	})
	if err != nil {
		return nil, err
	}
	return &contactdomain.Result{Success: true, MessageID: id}, nil
}

func validate(req contactdomain.Request) error {
	if req.Name == "" || req.Email == "" || req.Subject == "" || req.Message == "" {
		return contactdomain.ErrMissingField
	}
	if !IsValidEmail(req.Email) {
		return contactdomain.ErrInvalidEmail
	}
	if utf8.RuneCountInString(req.Name) > maxNameLen ||
		utf8.RuneCountInString(req.Subject) > maxSubjectLen ||
		utf8.RuneCountInString(req.Message) > maxMessageLen {
		return contactdomain.ErrFieldTooLong
	}
	return nil
}

// RenderHTML builds the notification body sent to the admin inbox.
func RenderHTML(req contactdomain.Request) string {
	message := strings.ReplaceAll(html.EscapeString(req.Message), "\n", "<br>")
	return fmt.Sprintf(
		"<h2>New Contact Form Submission</h2>\n"+
			"<p><strong>From:</strong> %s (%s)</p>\n"+
			"<p><strong>Subject:</strong> %s</p>\n"+
			"<hr />\n"+
			"<p>%s</p>\n",
		html.EscapeString(req.Name),
		html.EscapeString(req.Email),
		html.EscapeString(req.Subject),
		message,
	)
}
