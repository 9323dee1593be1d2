package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/phage/internal/auth/domain"
	"github.com/smallbiznis/phage/internal/clock"
	creditdomain "github.com/smallbiznis/phage/internal/credit/domain"
	"github.com/smallbiznis/phage/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, credits int64) (creditdomain.Service, snowflake.ID) {
	t.Helper()

	conn, err := db.NewTest(t.Name())
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&authdomain.User{}))

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	user := authdomain.User{
		ID:           snowflake.ID(100),
		Email:        "user@example.com",
		PasswordHash: "x",
		Credits:      credits,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, conn.Create(&user).Error)

	svc := New(Params{DB: conn, Log: zap.NewNop(), Clock: clock.NewFakeClock(now)})
	return svc, user.ID
}

func TestDebitTakesExactAmount(t *testing.T) {
	svc, userID := newTestService(t, 10)

	balance, err := svc.Debit(context.Background(), userID, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(7), balance)
}

func TestDebitRefusesWhenInsufficient(t *testing.T) {
	svc, userID := newTestService(t, 2)
	ctx := context.Background()

	_, err := svc.Debit(ctx, userID, 3)
	assert.ErrorIs(t, err, creditdomain.ErrInsufficientCredits)

	balance, err := svc.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), balance)

	_, err = svc.Debit(ctx, userID, 0)
	assert.ErrorIs(t, err, creditdomain.ErrInvalidAmount)

	_, err = svc.Debit(ctx, 999, 1)
	assert.ErrorIs(t, err, creditdomain.ErrUserNotFound)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	svc, userID := newTestService(t, 5)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Debit(ctx, userID, 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	balance, err := svc.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 5, succeeded)
	assert.Equal(t, int64(0), balance)
}

func TestApplyNonPositiveIsNoop(t *testing.T) {
	svc, userID := newTestService(t, 5)
	ctx := context.Background()

	for _, amount := range []int64{0, -10} {
		balance, err := svc.Apply(ctx, userID, amount)
		require.NoError(t, err)
		assert.Equal(t, int64(5), balance)
	}

	balance, err := svc.Apply(ctx, userID, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(55), balance)

	_, err = svc.Apply(ctx, 999, 5)
	assert.ErrorIs(t, err, creditdomain.ErrUserNotFound)
}

func TestRefundRestoresBalance(t *testing.T) {
	svc, userID := newTestService(t, 5)
	ctx := context.Background()

	_, err := svc.Debit(ctx, userID, 4)
	require.NoError(t, err)
	balance, err := svc.Refund(ctx, userID, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)
}
