package pdf

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)

// Receipt is the data rendered on a credit purchase receipt.
type Receipt struct {
	Number        string
	PaymentID     string
	CustomerName  string
	CustomerEmail string
	Credits       int64
	Amount        decimal.Decimal
	Currency      string
	PaidAt        time.Time
}

type Provider interface {
	GenerateReceipt(ctx context.Context, receipt Receipt) ([]byte, error)
}

type NoOpProvider struct{}

func (p *NoOpProvider) GenerateReceipt(ctx context.Context, receipt Receipt) ([]byte, error) {
	return nil, nil
}
