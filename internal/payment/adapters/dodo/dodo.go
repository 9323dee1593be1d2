package dodo

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/phage/internal/clock"
	paymentdomain "github.com/smallbiznis/phage/internal/payment/domain"
)

const (
	Provider = "dodo"

	headerID        = "webhook-id"
	headerTimestamp = "webhook-timestamp"
	headerSignature = "webhook-signature"

	secretPrefix     = "whsec_"
	defaultTolerance = 5 * time.Minute
)

type Factory struct {
	clock clock.Clock
}

func NewFactory(clk clock.Clock) *Factory {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Factory{clock: clk}
}

func (f *Factory) Provider() string {
	return Provider
}

// NewAdapter builds an adapter from "webhook_secret". An empty secret
// disables signature verification.
func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	raw, _ := readString(cfg.Config, "webhook_secret")
	secret, err := decodeSecret(raw)
	if err != nil {
		return nil, paymentdomain.ErrInvalidConfig
	}
	return &Adapter{
		secret:    secret,
		clock:     f.clock,
		tolerance: defaultTolerance,
	}, nil
}

type Adapter struct {
	secret    []byte
	clock     clock.Clock
	tolerance time.Duration
}

func (a *Adapter) VerificationEnabled() bool {
	return len(a.secret) > 0
}

// Verify checks a Standard Webhooks signature over "id.timestamp.body".
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if !a.VerificationEnabled() {
		return nil
	}

	id := strings.TrimSpace(headers.Get(headerID))
	ts := strings.TrimSpace(headers.Get(headerTimestamp))
	sigHeader := strings.TrimSpace(headers.Get(headerSignature))
	if id == "" || ts == "" || sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	skew := a.clock.Now().Sub(time.Unix(unix, 0))
	if skew > a.tolerance || skew < -a.tolerance {
		return paymentdomain.ErrInvalidSignature
	}

	expected := sign(a.secret, id, ts, payload)
	for _, candidate := range strings.Fields(sigHeader) {
		version, signature, ok := strings.Cut(candidate, ",")
		if !ok || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return paymentdomain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte, headers http.Header) (*paymentdomain.PaymentEvent, error) {
	var event dodoEvent
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	eventType := strings.TrimSpace(event.Type)
	switch eventType {
	case paymentdomain.EventTypePaymentSucceeded,
		paymentdomain.EventTypePaymentFailed,
		paymentdomain.EventTypeRefundSucceeded:
	case "":
		return nil, paymentdomain.ErrInvalidEvent
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	paymentID := strings.TrimSpace(event.Data.PaymentID)
	if paymentID == "" {
		paymentID = "unknown"
	}
	amount := numberToInt(event.Data.Amount)
	if event.Data.Amount == "" {
		amount = numberToInt(event.Data.TotalAmount)
	}

	eventID := strings.TrimSpace(headers.Get(headerID))
	if eventID == "" {
		eventID = paymentID + ":" + eventType
	}

	return &paymentdomain.PaymentEvent{
		Provider:        Provider,
		ProviderEventID: eventID,
		PaymentID:       paymentID,
		Type:            eventType,
		UserRef:         firstPresent(event.Data.Metadata, "user_id", "userId", "customer_id"),
		Credits:         parseCredits(event.Data.Metadata),
		AmountCents:     amount,
		Currency:        strings.ToUpper(strings.TrimSpace(event.Data.Currency)),
		PaymentMethod:   strings.TrimSpace(event.Data.PaymentMethod),
		OccurredAt:      a.occurredAt(event.Timestamp),
		RawPayload:      payload,
	}, nil
}

type dodoEvent struct {
	BusinessID string        `json:"business_id"`
	Type       string        `json:"type"`
	Timestamp  string        `json:"timestamp"`
	Data       dodoEventData `json:"data"`
}

type dodoEventData struct {
	PaymentID     string         `json:"payment_id"`
	Amount        json.Number    `json:"amount"`
	TotalAmount   json.Number    `json:"total_amount"`
	Currency      string         `json:"currency"`
	PaymentMethod string         `json:"payment_method"`
	Metadata      map[string]any `json:"metadata"`
}

func (a *Adapter) occurredAt(raw string) time.Time {
	if parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(raw)); err == nil {
		return parsed.UTC()
	}
	return a.clock.Now()
}

func sign(secret []byte, id, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(id + "." + timestamp + "."))
	_, _ = mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// decodeSecret accepts "whsec_<base64>" secrets as issued by the dashboard
// and falls back to the raw bytes for anything else.
func decodeSecret(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if trimmed, ok := strings.CutPrefix(raw, secretPrefix); ok {
		decoded, err := base64.StdEncoding.DecodeString(trimmed)
		if err != nil {
			return nil, err
		}
		return decoded, nil
	}
	return []byte(raw), nil
}

// firstPresent returns the first key that is set at all, mirroring how the
// checkout metadata was read: an empty user_id does not fall through.
func firstPresent(metadata map[string]any, keys ...string) string {
	for _, key := range keys {
		value, ok := metadata[key]
		if !ok || value == nil {
			continue
		}
		return metadataString(value)
	}
	return ""
}

func parseCredits(metadata map[string]any) float64 {
	for _, key := range []string{"credits", "credit_amount"} {
		value, ok := metadata[key]
		if !ok || value == nil {
			continue
		}
		raw := metadataString(value)
		if raw == "" {
			return 0
		}
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return math.NaN()
		}
		return parsed
	}
	return math.NaN()
}

func metadataString(value any) string {
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case json.Number:
		return cast.String()
	case float64:
		return strconv.FormatFloat(cast, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(cast)
	}
	return ""
}

func numberToInt(n json.Number) int64 {
	if n == "" {
		return 0
	}
	if v, err := n.Int64(); err == nil {
		return v
	}
	if f, err := n.Float64(); err == nil {
		return int64(math.Round(f))
	}
	return 0
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	cast, ok := value.(string)
	return cast, ok
}
