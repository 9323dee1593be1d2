package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Status labels what a transaction row records. Rows are append-only.
type Status string

const (
	StatusPaymentSucceeded Status = "payment.succeeded"
	StatusPaymentFailed    Status = "payment.failed"
	StatusSucceeded        Status = "succeeded"
	StatusFailed           Status = "failed"
	StatusPaymentCredited  Status = "payment.credited"
	StatusRefundSucceeded  Status = "refund.succeeded"
	StatusSimulationDebit  Status = "simulation.debit"
	StatusSimulationRefund Status = "simulation.refund"
)

// Transaction is one row of a user's credit and payment history.
type Transaction struct {
	ID           snowflake.ID    `gorm:"primaryKey" json:"id"`
	UserID       snowflake.ID    `gorm:"not null;index:idx_transactions_user_created,priority:1" json:"user_id"`
	PaymentID    string          `gorm:"type:text;not null;default:''" json:"payment_id"`
	Amount       decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"amount"`
	Currency     string          `gorm:"type:text;not null;default:''" json:"currency"`
	Credits      int64           `gorm:"not null;default:0" json:"credits"`
	Status       Status          `gorm:"type:text;not null;index" json:"status"`
	EventID      string          `gorm:"type:text;not null;default:''" json:"event_id,omitempty"`
	SimulationID *snowflake.ID   `gorm:"index" json:"simulation_id,omitempty"`
	CreatedAt    time.Time       `gorm:"not null;index:idx_transactions_user_created,priority:2" json:"created_at"`
}

func (Transaction) TableName() string { return "transactions" }

// Entry is the input for appending a transaction.
type Entry struct {
	UserID       snowflake.ID
	PaymentID    string
	Amount       decimal.Decimal
	Currency     string
	Credits      int64
	Status       Status
	EventID      string
	SimulationID *snowflake.ID
}
