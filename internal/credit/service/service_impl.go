package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/phage/internal/clock"
	creditdomain "github.com/smallbiznis/phage/internal/credit/domain"
	obsmetrics "github.com/smallbiznis/phage/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) creditdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("credit.service"),
		clock:      clk,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Balance(ctx context.Context, userID snowflake.ID) (int64, error) {
	return s.balance(ctx, s.db, userID)
}

func (s *Service) Debit(ctx context.Context, userID snowflake.ID, amount int64) (int64, error) {
	var balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.DebitTx(ctx, tx, userID, amount); err != nil {
			return err
		}
		var err error
		balance, err = s.balance(ctx, tx, userID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// DebitTx is a single conditional update so concurrent debits can never
// drive the balance negative.
func (s *Service) DebitTx(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount int64) error {
	if amount <= 0 {
		return creditdomain.ErrInvalidAmount
	}

	result := tx.WithContext(ctx).Exec(
		`UPDATE users SET credits = credits - ?, updated_at = ? WHERE id = ? AND credits >= ?`,
		amount, s.clock.Now(), userID, amount,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}

	if _, err := s.balance(ctx, tx, userID); err != nil {
		return err
	}
	return creditdomain.ErrInsufficientCredits
}

func (s *Service) Apply(ctx context.Context, userID snowflake.ID, amount int64) (int64, error) {
	if amount <= 0 {
		s.log.Debug("ignoring non-positive credit grant",
			zap.String("user_id", userID.String()),
			zap.Int64("credits", amount),
		)
		return s.Balance(ctx, userID)
	}

	balance, err := s.add(ctx, userID, amount)
	if err != nil {
		return 0, err
	}
	s.obsMetrics.RecordCreditsApplied(ctx, amount)
	s.log.Info("credits applied",
		zap.String("user_id", userID.String()),
		zap.Int64("credits", amount),
		zap.Int64("balance", balance),
	)
	return balance, nil
}

func (s *Service) Refund(ctx context.Context, userID snowflake.ID, amount int64) (int64, error) {
	if amount <= 0 {
		return s.Balance(ctx, userID)
	}
	return s.add(ctx, userID, amount)
}

func (s *Service) RefundTx(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount int64) error {
	if amount <= 0 {
		return nil
	}
	return s.addTx(ctx, tx, userID, amount)
}

func (s *Service) add(ctx context.Context, userID snowflake.ID, amount int64) (int64, error) {
	var balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.addTx(ctx, tx, userID, amount); err != nil {
			return err
		}
		var err error
		balance, err = s.balance(ctx, tx, userID)
		return err
	})
	return balance, err
}

func (s *Service) addTx(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount int64) error {
	result := tx.WithContext(ctx).Exec(
		`UPDATE users SET credits = credits + ?, updated_at = ? WHERE id = ?`,
		amount, s.clock.Now(), userID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return creditdomain.ErrUserNotFound
	}
	return nil
}

func (s *Service) balance(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (int64, error) {
	var rows []int64
	if err := tx.WithContext(ctx).Raw(`SELECT credits FROM users WHERE id = ?`, userID).Scan(&rows).Error; err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, creditdomain.ErrUserNotFound
	}
	return rows[0], nil
}
