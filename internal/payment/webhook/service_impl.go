package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/phage/internal/clock"
	"github.com/smallbiznis/phage/internal/config"
	creditdomain "github.com/smallbiznis/phage/internal/credit/domain"
	ledgerdomain "github.com/smallbiznis/phage/internal/ledger/domain"
	obslogger "github.com/smallbiznis/phage/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/phage/internal/observability/metrics"
	"github.com/smallbiznis/phage/internal/payment/adapters"
	"github.com/smallbiznis/phage/internal/payment/adapters/dodo"
	paymentdomain "github.com/smallbiznis/phage/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// claimLease is how long a delivery may hold an event before a retry can
// take it over.
const claimLease = 5 * time.Minute

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	Repo       paymentdomain.Repository
	Adapters   *adapters.Registry
	Credits    creditdomain.Service
	Ledger     ledgerdomain.Service
	GenID      *snowflake.Node
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     paymentdomain.Repository
	adapters *adapters.Registry
	credits  creditdomain.Service
	ledger   ledgerdomain.Service
	genID    *snowflake.Node
	clock    clock.Clock
	metrics  *obsmetrics.Metrics
	configs  map[string]map[string]any
}

func NewService(p Params) paymentdomain.WebhookService {
	log := p.Log.Named("payment.webhook")
	if strings.TrimSpace(p.Cfg.Payments.DodoWebhookSecret) == "" {
		log.Warn("DODO_PAYMENTS_WEBHOOK_SECRET is not set, webhook signatures will not be verified")
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}

	return &Service{
		db:       p.DB,
		log:      log,
		repo:     p.Repo,
		adapters: p.Adapters,
		credits:  p.Credits,
		ledger:   p.Ledger,
		genID:    p.GenID,
		clock:    clk,
		metrics:  p.ObsMetrics,
		configs: map[string]map[string]any{
			dodo.Provider: {"webhook_secret": p.Cfg.Payments.DodoWebhookSecret},
		},
	}
}

// IngestWebhook verifies, records and applies one provider webhook. Once the
// signature is valid, processing errors are logged rather than returned so
// the provider does not redeliver.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return paymentdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}

	adapter, err := s.adapters.NewAdapter(provider, paymentdomain.AdapterConfig{
		Provider: provider,
		Config:   s.configs[provider],
	})
	if err != nil {
		return err
	}
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		return err
	}

	log := obslogger.WithContext(ctx, s.log).With(zap.String("provider", provider))
	event, err := adapter.Parse(ctx, payload, headers)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			log.Debug("payment webhook ignored")
			return nil
		}
		return err
	}
	log = log.With(
		zap.String("event_type", event.Type),
		zap.String("payment_id", event.PaymentID),
		zap.String("provider_event_id", event.ProviderEventID),
	)
	s.metrics.RecordPaymentEvent(ctx, provider, event.Type)

	userID, hasUser := parseUser(event.UserRef)
	record, fresh, err := s.recordEvent(ctx, event, userID, hasUser)
	if err != nil {
		log.Error("failed to record payment event", zap.Error(err))
		return nil
	}
	if !fresh {
		log.Info("duplicate payment webhook skipped")
		return nil
	}

	if !hasUser {
		if event.Type == paymentdomain.EventTypePaymentSucceeded {
			log.Error("no user id found in payment metadata", zap.String("user_ref", event.UserRef))
		}
	} else {
		log = log.With(zap.String("user_id", userID.String()))
		switch event.Type {
		case paymentdomain.EventTypePaymentSucceeded:
			s.paymentSucceeded(ctx, log, event, userID)
		case paymentdomain.EventTypePaymentFailed:
			s.paymentFailed(ctx, log, event, userID)
		case paymentdomain.EventTypeRefundSucceeded:
			s.refundSucceeded(ctx, log, event, userID)
		}
	}

	if err := s.repo.MarkProcessed(ctx, s.db, record.ID, s.clock.Now()); err != nil {
		log.Error("failed to mark payment event processed", zap.Error(err))
	}
	return nil
}

// recordEvent stores and claims the event. fresh is false when the event was
// already processed or another delivery is still applying it.
func (s *Service) recordEvent(ctx context.Context, event *paymentdomain.PaymentEvent, userID snowflake.ID, hasUser bool) (*paymentdomain.EventRecord, bool, error) {
	now := s.clock.Now()
	record := &paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(event.RawPayload),
		ReceivedAt:      now,
		ClaimedAt:       &now,
	}
	if hasUser {
		record.UserID = &userID
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return record, true, nil
	}

	existing, err := s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil || existing.ProcessedAt != nil {
		return existing, false, nil
	}
	// an earlier delivery recorded it but never finished
	claimed, err := s.repo.ClaimEvent(ctx, s.db, existing.ID, now, now.Add(-claimLease))
	if err != nil {
		return nil, false, err
	}
	return existing, claimed, nil
}

func (s *Service) paymentSucceeded(ctx context.Context, log *zap.Logger, event *paymentdomain.PaymentEvent, userID snowflake.ID) {
	credits, valid := wholeCredits(event.Credits)

	if _, err := s.ledger.Record(ctx, ledgerdomain.Entry{
		UserID:    userID,
		PaymentID: event.PaymentID,
		Credits:   credits,
		Status:    ledgerdomain.Status(event.Type),
		EventID:   event.PaymentID,
	}); err != nil {
		log.Error("failed to log payment event", zap.Error(err))
	}

	if _, err := s.ledger.Record(ctx, ledgerdomain.Entry{
		UserID:    userID,
		PaymentID: event.PaymentID,
		Amount:    centsToAmount(event.AmountCents),
		Currency:  event.Currency,
		Credits:   credits,
		Status:    ledgerdomain.StatusSucceeded,
		EventID:   event.PaymentID,
	}); err != nil {
		log.Error("failed to store payment transaction", zap.Error(err))
	}

	if !valid || credits <= 0 {
		log.Warn("payment carried no credits to apply", zap.Float64("credits", event.Credits))
		return
	}
	if _, err := s.credits.Apply(ctx, userID, credits); err != nil {
		log.Error("failed to apply credits to user", zap.Int64("credits", credits), zap.Error(err))
		return
	}
	if _, err := s.ledger.Record(ctx, ledgerdomain.Entry{
		UserID:    userID,
		PaymentID: event.PaymentID,
		Credits:   credits,
		Status:    ledgerdomain.StatusPaymentCredited,
		EventID:   event.PaymentID + ":resolved",
	}); err != nil {
		log.Error("failed to log payment credited event", zap.Error(err))
	}
}

func (s *Service) paymentFailed(ctx context.Context, log *zap.Logger, event *paymentdomain.PaymentEvent, userID snowflake.ID) {
	if _, err := s.ledger.Record(ctx, ledgerdomain.Entry{
		UserID:    userID,
		PaymentID: event.PaymentID,
		Status:    ledgerdomain.Status(event.Type),
		EventID:   event.PaymentID,
	}); err != nil {
		log.Error("failed to log payment failed event", zap.Error(err))
	}

	if _, err := s.ledger.Record(ctx, ledgerdomain.Entry{
		UserID:    userID,
		PaymentID: event.PaymentID,
		Amount:    centsToAmount(event.AmountCents),
		Currency:  event.Currency,
		Status:    ledgerdomain.StatusFailed,
		EventID:   event.PaymentID,
	}); err != nil {
		log.Error("failed to store payment failed transaction", zap.Error(err))
	}
}

// refundSucceeded only records the refund; the balance is left alone.
func (s *Service) refundSucceeded(ctx context.Context, log *zap.Logger, event *paymentdomain.PaymentEvent, userID snowflake.ID) {
	credits, _ := wholeCredits(event.Credits)
	if _, err := s.ledger.Record(ctx, ledgerdomain.Entry{
		UserID:    userID,
		PaymentID: event.PaymentID,
		Credits:   credits,
		Status:    ledgerdomain.StatusRefundSucceeded,
		EventID:   event.PaymentID + ":refund",
	}); err != nil {
		log.Error("failed to log refund event", zap.Error(err))
	}
}

func parseUser(ref string) (snowflake.ID, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return 0, false
	}
	id, err := snowflake.ParseString(ref)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// maxPaymentCredits bounds what a single payment may grant.
const maxPaymentCredits = 1_000_000_000

// wholeCredits truncates fractional credits; valid is false for NaN,
// infinities and amounts above maxPaymentCredits.
func wholeCredits(credits float64) (int64, bool) {
	if math.IsNaN(credits) || math.IsInf(credits, 0) || math.Abs(credits) > maxPaymentCredits {
		return 0, false
	}
	return int64(credits), true
}

func centsToAmount(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
