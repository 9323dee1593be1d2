package domain

import (
	"context"
	"errors"
)

var (
	ErrInvalidEmail  = errors.New("invalid email address")
	ErrMissingField  = errors.New("name, email, subject and message are required")
	ErrFieldTooLong  = errors.New("contact field exceeds maximum length")
	ErrNotConfigured = errors.New("ADMIN_EMAIL not configured")
)

type Request struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

type Result struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
}

type Service interface {
	Submit(ctx context.Context, req Request) (*Result, error)
}
