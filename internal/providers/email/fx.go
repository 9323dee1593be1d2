package email

import (
	"context"
	"net/http"

	"github.com/smallbiznis/phage/internal/config"
	obsmetrics "github.com/smallbiznis/phage/internal/observability/metrics"
	"github.com/smallbiznis/phage/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
)

const contactSenderName = "Phage Contact Form"

type Params struct {
	fx.In

	Config     config.Config
	Log        *zap.Logger
	HTTPClient *http.Client        `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewFromConfig(p Params) Provider {
	var provider Provider
	switch p.Config.Email.Provider {
	case ProviderSMTP:
		provider = NewSMTP(Config{
			Host:     p.Config.Email.SMTPHost,
			Port:     p.Config.Email.SMTPPort,
			Username: p.Config.Email.SMTPUsername,
			Password: p.Config.Email.SMTPPassword,
			From:     p.Config.Email.SMTPFrom,
		})
	case ProviderNoop:
		provider = &NoOpProvider{}
	default:
		hc := p.HTTPClient
		if hc == nil {
			hc = &http.Client{}
		}
		provider = NewBrevo(BrevoConfig{
			APIKey:      p.Config.Email.BrevoAPIKey,
			SenderEmail: p.Config.Email.BrevoSender,
			SenderName:  contactSenderName,
		}, tracing.WrapClient("brevo", hc))
	}
	return &instrumented{next: provider, log: p.Log.Named("providers.email"), metrics: p.ObsMetrics}
}

type instrumented struct {
	next    Provider
	log     *zap.Logger
	metrics *obsmetrics.Metrics
}

func (i *instrumented) Name() string { return i.next.Name() }

func (i *instrumented) Send(ctx context.Context, msg Message) (string, error) {
	id, err := i.next.Send(ctx, msg)
	if err != nil {
		i.metrics.RecordEmailSent(ctx, i.next.Name(), "error")
		i.log.Error("email send failed", zap.String("provider", i.next.Name()), zap.Error(err))
		return "", err
	}
	i.metrics.RecordEmailSent(ctx, i.next.Name(), "sent")
	i.log.Info("email sent", zap.String("provider", i.next.Name()), zap.String("message_id", id))
	return id, nil
}
