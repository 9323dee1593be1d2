package currency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/phage/internal/clock"
	"github.com/smallbiznis/phage/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, url string, clk clock.Clock) *Service {
	t.Helper()
	return New(Params{
		Log:     zap.NewNop(),
		Config:  config.Config{Currency: config.CurrencyConfig{RatesURL: url, CacheTTL: time.Hour}},
		Pricing: config.NewStaticPricingHolder(config.DefaultPricingConfig()),
		Clock:   clk,
	})
}

func findRate(t *testing.T, rates Rates, code string) float64 {
	t.Helper()
	for _, cur := range rates.Currencies {
		if cur.Code == code {
			return cur.Rate
		}
	}
	t.Fatalf("currency %s not found", code)
	return 0
}

func TestRatesMergesLiveFeedAndCaches(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"base_code":"USD","conversion_rates":{"USD":1,"INR":84.5,"EUR":0.9}}`))
	}))
	defer server.Close()

	fake := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := newTestService(t, server.URL, fake)

	rates := svc.Rates(context.Background())
	assert.True(t, rates.Live)
	require.NotNil(t, rates.FetchedAt)
	assert.Equal(t, "USD", rates.Base)
	assert.Equal(t, 84.5, findRate(t, rates, "INR"))
	assert.Equal(t, 0.9, findRate(t, rates, "EUR"))
	assert.Equal(t, 0.79, findRate(t, rates, "GBP"))

	svc.Rates(context.Background())
	assert.Equal(t, int32(1), calls.Load())

	fake.Advance(time.Hour)
	svc.Rates(context.Background())
	assert.Equal(t, int32(2), calls.Load())
}

func TestRatesAcceptsRatesField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"base":"USD","rates":{"jpy":150}}`))
	}))
	defer server.Close()

	svc := newTestService(t, server.URL, clock.NewFakeClock(time.Now()))
	assert.Equal(t, 150.0, findRate(t, svc.Rates(context.Background()), "JPY"))
}

func TestRatesFallsBackOnError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fake := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := newTestService(t, server.URL, fake)

	rates := svc.Rates(context.Background())
	assert.False(t, rates.Live)
	assert.Nil(t, rates.FetchedAt)
	assert.Equal(t, 83.0, findRate(t, rates, "INR"))

	svc.Rates(context.Background())
	assert.Equal(t, int32(1), calls.Load())

	fake.Advance(failureBackoff)
	svc.Rates(context.Background())
	assert.Equal(t, int32(2), calls.Load())
}

func TestQuote(t *testing.T) {
	svc := newTestService(t, "", clock.NewFakeClock(time.Now()))

	q, err := svc.Quote(context.Background(), 25, "usd")
	require.NoError(t, err)
	assert.Equal(t, "USD", q.Currency)
	assert.Equal(t, "2.5", q.USDAmount.String())
	assert.Equal(t, "2.5", q.Amount.String())
	assert.False(t, q.BelowMinimum)

	q, err = svc.Quote(context.Background(), 100, "INR")
	require.NoError(t, err)
	assert.Equal(t, "830", q.Amount.String())

	q, err = svc.Quote(context.Background(), 3, "JPY")
	require.NoError(t, err)
	assert.Equal(t, "45", q.Amount.String())
	assert.True(t, q.BelowMinimum)

	q, err = svc.Quote(context.Background(), 10, "")
	require.NoError(t, err)
	assert.Equal(t, "USD", q.Currency)
	assert.Equal(t, "1", q.Amount.String())
}

func TestQuoteRejectsBadInput(t *testing.T) {
	svc := newTestService(t, "", clock.NewFakeClock(time.Now()))

	_, err := svc.Quote(context.Background(), 0, "USD")
	assert.ErrorIs(t, err, ErrInvalidCredits)

	_, err = svc.Quote(context.Background(), 10, "XYZ")
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int32(0), MinorUnits("jpy"))
	assert.Equal(t, int32(2), MinorUnits("USD"))
}
