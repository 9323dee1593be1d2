package domain

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
)

type CheckoutService interface {
	CreateCheckoutSession(ctx context.Context, userID snowflake.ID, req CheckoutRequest) (*CheckoutSession, error)
}

type WebhookService interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
}

type BillingAddress struct {
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

type CheckoutRequest struct {
	Credits        float64         `json:"credits"`
	Currency       string          `json:"currency,omitempty"`
	Country        string          `json:"country,omitempty"`
	BillingAddress *BillingAddress `json:"billing_address,omitempty"`
	PaymentMethods []string        `json:"payment_methods,omitempty"`
}

type CheckoutSession struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
}
