package compute

import (
	"net/http"

	"github.com/smallbiznis/phage/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("compute",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config, log *zap.Logger) Client {
	return NewClient(cfg.Compute.BaseURL, cfg.Compute.Timeout, &http.Client{}, log)
}
