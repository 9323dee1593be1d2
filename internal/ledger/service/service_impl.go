package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/phage/internal/clock"
	ledgerdomain "github.com/smallbiznis/phage/internal/ledger/domain"
	"github.com/smallbiznis/phage/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) ledgerdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		clock: clk,
	}
}

func (s *Service) Record(ctx context.Context, entry ledgerdomain.Entry) (*ledgerdomain.Transaction, error) {
	return s.RecordTx(ctx, s.db, entry)
}

func (s *Service) RecordTx(ctx context.Context, tx *gorm.DB, entry ledgerdomain.Entry) (*ledgerdomain.Transaction, error) {
	if entry.UserID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if strings.TrimSpace(string(entry.Status)) == "" {
		return nil, ledgerdomain.ErrInvalidStatus
	}

	row := &ledgerdomain.Transaction{
		ID:           s.genID.Generate(),
		UserID:       entry.UserID,
		PaymentID:    strings.TrimSpace(entry.PaymentID),
		Amount:       entry.Amount.Round(2),
		Currency:     strings.ToUpper(strings.TrimSpace(entry.Currency)),
		Credits:      entry.Credits,
		Status:       entry.Status,
		EventID:      strings.TrimSpace(entry.EventID),
		SimulationID: entry.SimulationID,
		CreatedAt:    s.clock.Now(),
	}
	if err := tx.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}

	s.log.Debug("transaction recorded",
		zap.String("transaction_id", row.ID.String()),
		zap.String("user_id", row.UserID.String()),
		zap.String("status", string(row.Status)),
		zap.Int64("credits", row.Credits),
	)
	return row, nil
}

func (s *Service) Get(ctx context.Context, userID, id snowflake.ID) (*ledgerdomain.Transaction, error) {
	var row ledgerdomain.Transaction
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledgerdomain.ErrTransactionMissing
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListByUser returns the user's transactions, newest first.
func (s *Service) ListByUser(ctx context.Context, userID snowflake.ID, page pagination.Pagination) (ledgerdomain.ListResponse, error) {
	limit := page.Limit()
	query := s.db.WithContext(ctx).
		Model(&ledgerdomain.Transaction{}).
		Where("user_id = ?", userID)

	if token := strings.TrimSpace(page.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return ledgerdomain.ListResponse{}, err
		}
		id, createdAt, err := cursor.Bounds()
		if err != nil {
			return ledgerdomain.ListResponse{}, err
		}
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", createdAt, createdAt, id)
	}

	var rows []*ledgerdomain.Transaction
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit + 1).Find(&rows).Error; err != nil {
		return ledgerdomain.ListResponse{}, err
	}

	rows, info := pagination.BuildCursorPageInfo(rows, limit, func(t *ledgerdomain.Transaction) pagination.Cursor {
		return pagination.NewCursor(int64(t.ID), t.CreatedAt)
	})
	if rows == nil {
		rows = []*ledgerdomain.Transaction{}
	}
	return ledgerdomain.ListResponse{Transactions: rows, PageInfo: info}, nil
}
