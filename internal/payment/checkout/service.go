package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	authdomain "github.com/smallbiznis/phage/internal/auth/domain"
	"github.com/smallbiznis/phage/internal/config"
	obslogger "github.com/smallbiznis/phage/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/phage/internal/observability/metrics"
	"github.com/smallbiznis/phage/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/phage/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	liveBaseURL = "https://live.dodopayments.com"
	testBaseURL = "https://test.dodopayments.com"
	liveMode    = "live_mode"

	maxRetries     = 2
	attemptTimeout = 15 * time.Second
	maxErrorBody   = 8 << 10
	checkoutSource = "phage_web"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Config     config.Config
	Pricing    *config.PricingHolder
	Users      authdomain.Repository
	HTTPClient *http.Client        `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	cfg     config.PaymentsConfig
	pricing *config.PricingHolder
	users   authdomain.Repository
	http    *http.Client
	metrics *obsmetrics.Metrics

	baseURL string
	sleep   func(ctx context.Context, d time.Duration) error
	jitter  func(n int) int
}

func New(p Params) paymentdomain.CheckoutService {
	return newService(p)
}

func newService(p Params) *Service {
	hc := p.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	baseURL := testBaseURL
	if strings.EqualFold(strings.TrimSpace(p.Config.Payments.DodoEnvironment), liveMode) {
		baseURL = liveBaseURL
	}
	return &Service{
		log:     p.Log.Named("payment.checkout"),
		cfg:     p.Config.Payments,
		pricing: p.Pricing,
		users:   p.Users,
		http:    tracing.WrapClient("dodo", hc),
		metrics: p.ObsMetrics,
		baseURL: baseURL,
		sleep:   sleepContext,
		jitter:  rand.IntN,
	}
}

type productItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Amount    int64  `json:"amount"`
}

type customer struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type billingAddress struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Zipcode string `json:"zipcode,omitempty"`
	Country string `json:"country,omitempty"`
}

type checkoutBody struct {
	ProductCart               []productItem     `json:"product_cart"`
	Customer                  customer          `json:"customer"`
	AllowedPaymentMethodTypes []string          `json:"allowed_payment_method_types"`
	ReturnURL                 string            `json:"return_url"`
	BillingCurrency           string            `json:"billing_currency"`
	BillingAddress            *billingAddress   `json:"billing_address,omitempty"`
	Metadata                  map[string]string `json:"metadata"`
}

// CreateCheckoutSession opens a hosted checkout for a credit purchase.
func (s *Service) CreateCheckoutSession(ctx context.Context, userID snowflake.ID, req paymentdomain.CheckoutRequest) (*paymentdomain.CheckoutSession, error) {
	if s.cfg.DodoAPIKey == "" || s.cfg.DodoProductID == "" || s.cfg.DodoReturnURL == "" {
		return nil, paymentdomain.ErrNotConfigured
	}
	if math.IsNaN(req.Credits) || math.IsInf(req.Credits, 0) || req.Credits <= 0 {
		return nil, paymentdomain.ErrInvalidCredits
	}
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, authdomain.ErrUserNotFound) || (err == nil && user == nil) {
		return nil, paymentdomain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(s.buildBody(user, req))
	if err != nil {
		return nil, err
	}
	log := obslogger.WithContext(ctx, s.log).With(zap.String("user_id", userID.String()))

	resp, err := s.postWithRetry(ctx, body, uuid.NewString())
	if err != nil {
		s.metrics.RecordCheckoutAttempt(ctx, "network_error")
		log.Error("checkout request failed", zap.Error(err))
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		s.metrics.RecordCheckoutAttempt(ctx, "provider_error")
		perr := &ProviderError{StatusCode: resp.StatusCode, Body: string(text)}
		log.Error("checkout rejected", zap.Int("status", resp.StatusCode), zap.String("body", string(text)))
		return nil, perr
	}

	var session paymentdomain.CheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	s.metrics.RecordCheckoutAttempt(ctx, "ok")
	log.Info("checkout session created", zap.String("session_id", session.SessionID))
	return &session, nil
}

func (s *Service) buildBody(user *authdomain.User, req paymentdomain.CheckoutRequest) checkoutBody {
	pricing := s.pricing.Get()

	country := strings.TrimSpace(req.Country)
	if req.BillingAddress != nil && strings.TrimSpace(req.BillingAddress.Country) != "" {
		country = strings.TrimSpace(req.BillingAddress.Country)
	}
	if country == "" {
		country = "US"
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = pricing.CurrencyForCountry(country)
	}

	methods := req.PaymentMethods
	if methods == nil {
		methods = pricing.PaymentMethodsForCountry(country)
	}

	var address *billingAddress
	if req.BillingAddress != nil {
		address = &billingAddress{
			Street:  req.BillingAddress.Street,
			City:    req.BillingAddress.City,
			State:   req.BillingAddress.State,
			Zipcode: req.BillingAddress.PostalCode,
			Country: req.BillingAddress.Country,
		}
	}

	return checkoutBody{
		ProductCart: []productItem{{
			ProductID: s.cfg.DodoProductID,
			Quantity:  1,
			Amount:    AmountInCents(req.Credits, pricing.CreditsPerUSD),
		}},
		Customer:                  customer{Email: user.Email, Name: user.Name},
		AllowedPaymentMethodTypes: methods,
		ReturnURL:                 s.cfg.DodoReturnURL,
		BillingCurrency:           currency,
		BillingAddress:            address,
		Metadata: map[string]string{
			"user_id": user.ID.String(),
			"credits": decimal.NewFromFloat(req.Credits).String(),
			"source":  checkoutSource,
		},
	}
}

// AmountInCents prices credits in USD cents.
func AmountInCents(credits, creditsPerUSD float64) int64 {
	if creditsPerUSD <= 0 {
		return 0
	}
	return decimal.NewFromFloat(credits).
		Div(decimal.NewFromFloat(creditsPerUSD)).
		Mul(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
}

// postWithRetry sends the checkout request, retrying 5xx answers and
// network errors with the same idempotency key.
func (s *Service) postWithRetry(ctx context.Context, body []byte, idempotencyKey string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := s.post(ctx, body, idempotencyKey)
		if err == nil {
			if resp.StatusCode >= 500 && resp.StatusCode < 600 && attempt < maxRetries {
				drain(resp)
				s.metrics.RecordCheckoutRetry(ctx, "server_error")
				if err := s.sleep(ctx, s.backoff(200, attempt)); err != nil {
					return nil, err
				}
				continue
			}
			return resp, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < maxRetries {
			s.metrics.RecordCheckoutRetry(ctx, "network_error")
			if err := s.sleep(ctx, s.backoff(250, attempt)); err != nil {
				return nil, err
			}
			continue
		}
	}
	if lastErr == nil {
		lastErr = errors.New("Unknown network error")
	}
	return nil, lastErr
}

func (s *Service) post(ctx context.Context, body []byte, idempotencyKey string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, attemptTimeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/checkouts", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.DodoAPIKey)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := s.http.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// backoff is base*(attempt+1) plus up to base of jitter, in milliseconds.
func (s *Service) backoff(base, attempt int) time.Duration {
	return time.Duration(base*(attempt+1)+s.jitter(base)) * time.Millisecond
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
