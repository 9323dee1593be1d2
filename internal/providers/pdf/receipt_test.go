package pdf

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateReceipt(t *testing.T) {
	out, err := New().GenerateReceipt(context.Background(), Receipt{
		Number:        "1820000000000000000",
		PaymentID:     "pay_123",
		CustomerName:  "Ada",
		CustomerEmail: "ada@example.com",
		Credits:       100,
		Amount:        decimal.RequireFromString("10"),
		Currency:      "usd",
		PaidAt:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestGenerateReceiptRejectsMissingNumber(t *testing.T) {
	_, err := New().GenerateReceipt(context.Background(), Receipt{Credits: 1})
	assert.ErrorIs(t, err, ErrInvalidReceipt)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "10.50 USD", FormatAmount(Receipt{Amount: decimal.RequireFromString("10.5"), Currency: "usd"}))
	assert.Equal(t, "1490 JPY", FormatAmount(Receipt{Amount: decimal.RequireFromString("1490"), Currency: "JPY"}))
}
