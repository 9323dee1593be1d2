package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventRecord is one received webhook, unique per provider event id.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:varchar(64);not null;uniqueIndex:ux_payment_events_provider_event,priority:1"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:varchar(255);not null;uniqueIndex:ux_payment_events_provider_event,priority:2"`
	EventType       string         `json:"event_type" gorm:"type:varchar(64);not null"`
	UserID          *snowflake.ID  `json:"user_id,omitempty" gorm:"index"`
	Payload         datatypes.JSON `json:"payload" gorm:"not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ClaimedAt       *time.Time     `json:"claimed_at"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventTypePaymentSucceeded = "payment.succeeded"
	EventTypePaymentFailed    = "payment.failed"
	EventTypeRefundSucceeded  = "refund.succeeded"
)

// PaymentEvent is the canonical payment event parsed by adapters. UserRef
// is the raw user reference echoed back from checkout metadata.
type PaymentEvent struct {
	Provider        string
	ProviderEventID string
	PaymentID       string
	Type            string
	UserRef         string
	Credits         float64
	AmountCents     int64
	Currency        string
	PaymentMethod   string
	OccurredAt      time.Time
	RawPayload      []byte
}
