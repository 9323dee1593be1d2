package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/phage/internal/clock"
	"github.com/smallbiznis/phage/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("storage",
	fx.Provide(NewSignerFromConfig),
	fx.Provide(New),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	DB        *gorm.DB
	Log       *zap.Logger
	Signer    *Signer
	Clock     clock.Clock
}

func NewSignerFromConfig(cfg config.Config, clk clock.Clock, log *zap.Logger) (*Signer, error) {
	signer, generated, err := NewSigner(cfg.Storage.SigningSecret, cfg.PublicBaseURL, clk)
	if err != nil {
		return nil, err
	}
	if generated {
		log.Warn("STORAGE_SIGNING_SECRET not set; download links will not survive a restart")
	}
	return signer, nil
}

// New selects the configured backend.
func New(p Params) (Store, error) {
	log := p.Log.Named("storage")
	switch strings.ToLower(strings.TrimSpace(p.Config.Storage.Backend)) {
	case BackendMinio:
		store, client, err := NewMinioStore(p.Config.Storage)
		if err != nil {
			return nil, err
		}
		bucket := p.Config.Storage.MinioBucket
		if p.Lifecycle != nil {
			p.Lifecycle.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					return EnsureBucket(ctx, client, bucket)
				},
			})
		}
		log.Info("using minio storage", zap.String("endpoint", p.Config.Storage.MinioEndpoint), zap.String("bucket", bucket))
		return store, nil
	case BackendDatabase, "":
		log.Info("using database storage")
		return NewDatabaseStore(p.DB, p.Signer, p.Clock), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", p.Config.Storage.Backend)
	}
}
