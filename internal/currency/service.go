package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/phage/internal/cache"
	"github.com/smallbiznis/phage/internal/clock"
	"github.com/smallbiznis/phage/internal/config"
	obslogger "github.com/smallbiznis/phage/internal/observability/logger"
	"github.com/smallbiznis/phage/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	baseCurrency     = "USD"
	liveRatesKey     = "live"
	failureBackoff   = time.Minute
	fetchTimeout     = 10 * time.Second
	maxRatesBodySize = 1 << 20
)

var (
	ErrInvalidCredits      = errors.New("credits must be a positive number")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	errRatesUnavailable    = errors.New("exchange rates unavailable")
)

// zeroDecimalCurrencies are billed without minor units.
var zeroDecimalCurrencies = map[string]struct{}{
	"JPY": {},
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Config     config.Config
	Pricing    *config.PricingHolder
	Clock      clock.Clock  `optional:"true"`
	HTTPClient *http.Client `optional:"true"`
}

// Rates is the currency table served to clients.
type Rates struct {
	Base       string            `json:"base"`
	Live       bool              `json:"live"`
	FetchedAt  *time.Time        `json:"fetched_at,omitempty"`
	Currencies []config.Currency `json:"currencies"`
}

type Quote struct {
	Credits      float64         `json:"credits"`
	Currency     string          `json:"currency"`
	Rate         float64         `json:"rate"`
	USDAmount    decimal.Decimal `json:"usd_amount"`
	Amount       decimal.Decimal `json:"amount"`
	MinAmount    decimal.Decimal `json:"min_amount"`
	BelowMinimum bool            `json:"below_minimum"`
}

type liveRates struct {
	rates     map[string]float64
	fetchedAt time.Time
	ok        bool
}

type Service struct {
	log     *zap.Logger
	pricing *config.PricingHolder
	clock   clock.Clock
	http    *http.Client
	url     string
	ttl     time.Duration

	cache  cache.Cache[string, liveRates]
	flight singleflight.Group
}

func New(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	hc := p.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: fetchTimeout}
	}
	ttl := p.Config.Currency.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		log:     p.Log.Named("currency.service"),
		pricing: p.Pricing,
		clock:   clk,
		http:    tracing.WrapClient("exchange_rates", hc),
		url:     strings.TrimSpace(p.Config.Currency.RatesURL),
		ttl:     ttl,
		cache:   cache.NewTTLCacheWithClock[string, liveRates](clk),
	}
}

// Rates returns the configured currency table with live USD rates merged in.
// Codes missing from the live feed keep their configured fallback rate.
func (s *Service) Rates(ctx context.Context) Rates {
	table := s.pricing.Get().Currencies
	live := s.liveRates(ctx)

	out := Rates{Base: baseCurrency, Currencies: make([]config.Currency, 0, len(table))}
	if live.ok {
		out.Live = true
		fetchedAt := live.fetchedAt
		out.FetchedAt = &fetchedAt
	}
	for _, cur := range table {
		if rate, ok := live.rates[cur.Code]; ok && rate > 0 && !math.IsInf(rate, 0) {
			cur.Rate = rate
		}
		out.Currencies = append(out.Currencies, cur)
	}
	return out
}

// Quote converts a credit amount into the given billing currency.
func (s *Service) Quote(ctx context.Context, credits float64, code string) (*Quote, error) {
	if math.IsNaN(credits) || math.IsInf(credits, 0) || credits <= 0 {
		return nil, ErrInvalidCredits
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		code = baseCurrency
	}

	var (
		cur   config.Currency
		found bool
	)
	for _, candidate := range s.Rates(ctx).Currencies {
		if candidate.Code == code {
			cur, found = candidate, true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, code)
	}

	perUSD := decimal.NewFromFloat(s.pricing.Get().CreditsPerUSD)
	usd := decimal.NewFromFloat(credits).Div(perUSD)
	places := MinorUnits(code)
	amount := usd.Mul(decimal.NewFromFloat(cur.Rate)).Round(places)
	minAmount := decimal.NewFromFloat(cur.MinAmount)

	return &Quote{
		Credits:      credits,
		Currency:     code,
		Rate:         cur.Rate,
		USDAmount:    usd.Round(2),
		Amount:       amount,
		MinAmount:    minAmount,
		BelowMinimum: amount.LessThan(minAmount),
	}, nil
}

// MinorUnits is the number of decimal places used when billing in code.
func MinorUnits(code string) int32 {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(code)]; ok {
		return 0
	}
	return 2
}

func (s *Service) liveRates(ctx context.Context) liveRates {
	if cached, ok := s.cache.Get(liveRatesKey); ok {
		return cached
	}
	v, _, _ := s.flight.Do(liveRatesKey, func() (any, error) {
		if cached, ok := s.cache.Get(liveRatesKey); ok {
			return cached, nil
		}
		rates, err := s.fetch(context.WithoutCancel(ctx))
		if err != nil {
			obslogger.WithContext(ctx, s.log).Warn("failed to fetch live exchange rates, using fallback", zap.Error(err))
			failed := liveRates{}
			s.cache.Set(liveRatesKey, failed, failureBackoff)
			return failed, nil
		}
		fresh := liveRates{rates: rates, fetchedAt: s.clock.Now(), ok: true}
		s.cache.Set(liveRatesKey, fresh, s.ttl)
		s.log.Info("live exchange rates updated", zap.Int("currencies", len(rates)))
		return fresh, nil
	})
	return v.(liveRates)
}

type ratesResponse struct {
	ConversionRates map[string]float64 `json:"conversion_rates"`
	Rates           map[string]float64 `json:"rates"`
}

func (s *Service) fetch(ctx context.Context) (map[string]float64, error) {
	if s.url == "" {
		return nil, errRatesUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxRatesBodySize))
		return nil, fmt.Errorf("%w: status %d", errRatesUnavailable, resp.StatusCode)
	}

	var body ratesResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRatesBodySize)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode rates: %w", err)
	}
	rates := body.ConversionRates
	if len(rates) == 0 {
		rates = body.Rates
	}
	if len(rates) == 0 {
		return nil, errRatesUnavailable
	}

	normalized := make(map[string]float64, len(rates))
	for code, rate := range rates {
		normalized[strings.ToUpper(code)] = rate
	}
	return normalized, nil
}
