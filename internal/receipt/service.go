package receipt

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/phage/internal/auth/domain"
	ledgerdomain "github.com/smallbiznis/phage/internal/ledger/domain"
	obslogger "github.com/smallbiznis/phage/internal/observability/logger"
	"github.com/smallbiznis/phage/internal/providers/pdf"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrNotFound covers missing rows, rows owned by someone else and rows that
// do not record a completed payment.
var ErrNotFound = errors.New("receipt_not_found")

type Params struct {
	fx.In

	Log    *zap.Logger
	Ledger ledgerdomain.Service
	Users  authdomain.Repository
	PDF    pdf.Provider
}

type Service struct {
	log    *zap.Logger
	ledger ledgerdomain.Service
	users  authdomain.Repository
	pdf    pdf.Provider
}

// Document is a rendered receipt ready to stream.
type Document struct {
	FileName string
	Content  []byte
}

func New(p Params) *Service {
	return &Service{
		log:    p.Log.Named("receipt.service"),
		ledger: p.Ledger,
		users:  p.Users,
		pdf:    p.PDF,
	}
}

func (s *Service) Render(ctx context.Context, userID, transactionID snowflake.ID) (*Document, error) {
	tx, err := s.ledger.Get(ctx, userID, transactionID)
	if errors.Is(err, ledgerdomain.ErrTransactionMissing) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if tx.Status != ledgerdomain.StatusSucceeded {
		return nil, ErrNotFound
	}

	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, authdomain.ErrUserNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	content, err := s.pdf.GenerateReceipt(ctx, pdf.Receipt{
		Number:        tx.ID.String(),
		PaymentID:     tx.PaymentID,
		CustomerName:  user.Name,
		CustomerEmail: user.Email,
		Credits:       tx.Credits,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		PaidAt:        tx.CreatedAt,
	})
	if err != nil {
		obslogger.WithContext(ctx, s.log).Error("failed to render receipt",
			zap.String("transaction_id", tx.ID.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("render receipt: %w", err)
	}

	return &Document{
		FileName: fmt.Sprintf("receipt-%s.pdf", tx.ID.String()),
		Content:  content,
	}, nil
}
