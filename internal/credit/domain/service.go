package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInsufficientCredits = errors.New("insufficient_credits")
	ErrInvalidAmount       = errors.New("invalid_credit_amount")
	ErrUserNotFound        = errors.New("user_not_found")
)

// Service owns the credit balance stored on the users table.
type Service interface {
	Balance(ctx context.Context, userID snowflake.ID) (int64, error)
	// Debit removes exactly amount credits or fails with ErrInsufficientCredits
	// leaving the balance untouched.
	Debit(ctx context.Context, userID snowflake.ID, amount int64) (int64, error)
	DebitTx(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount int64) error
	// Apply adds purchased credits. Non-positive amounts are a no-op.
	Apply(ctx context.Context, userID snowflake.ID, amount int64) (int64, error)
	Refund(ctx context.Context, userID snowflake.ID, amount int64) (int64, error)
	RefundTx(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount int64) error
}
