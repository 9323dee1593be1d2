package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "dodo"),
		attribute.String("user_id", "456"),
		attribute.String("event_type", "payment.succeeded"),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("provider"), attrs[0].Key)
	assert.Equal(t, attribute.Key("event_type"), attrs[1].Key)
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordSimulationCreated(ctx)
		m.RecordJobSubmission(ctx, "ok")
		m.RecordPaymentEvent(ctx, "dodo", "payment.succeeded")
		m.RecordCreditsApplied(ctx, 10)
	})
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "phage"}, noop.NewMeterProvider())
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		m.RecordCheckoutAttempt(context.Background(), "ok")
		m.RecordCheckoutRetry(context.Background(), "server_error")
		m.RecordCreditsApplied(context.Background(), 0)
	})
}
