package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/phage/internal/clock"
	"github.com/smallbiznis/phage/internal/compute"
	"github.com/smallbiznis/phage/internal/config"
	creditdomain "github.com/smallbiznis/phage/internal/credit/domain"
	ledgerdomain "github.com/smallbiznis/phage/internal/ledger/domain"
	obslogger "github.com/smallbiznis/phage/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/phage/internal/observability/metrics"
	"github.com/smallbiznis/phage/internal/ratelimit"
	"github.com/smallbiznis/phage/internal/simulation/domain"
	"github.com/smallbiznis/phage/internal/storage"
	"github.com/smallbiznis/phage/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultURLTTL       = time.Hour
	defaultPendingGrace = 2 * time.Minute
	defaultLockTTL      = 2 * time.Minute
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Config     config.Config
	Repo       domain.Repository
	Credits    creditdomain.Service
	Ledger     ledgerdomain.Service
	Compute    compute.Client
	Store      storage.Store
	GenID      *snowflake.Node
	Clock      clock.Clock
	Dispatcher domain.Dispatcher   `optional:"true"`
	Locker     *ratelimit.Locker   `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	repo       domain.Repository
	credits    creditdomain.Service
	ledger     ledgerdomain.Service
	compute    compute.Client
	store      storage.Store
	genID      *snowflake.Node
	clock      clock.Clock
	dispatcher domain.Dispatcher
	locker     *ratelimit.Locker
	metrics    *obsmetrics.Metrics

	urlTTL       time.Duration
	pendingGrace time.Duration
	lockTTL      time.Duration
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	urlTTL := p.Config.Storage.URLTTL
	if urlTTL <= 0 {
		urlTTL = defaultURLTTL
	}
	grace := p.Config.Scheduler.PendingGrace
	if grace <= 0 {
		grace = defaultPendingGrace
	}
	lockTTL := p.Config.RateLimit.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("simulation.service"),
		repo:         p.Repo,
		credits:      p.Credits,
		ledger:       p.Ledger,
		compute:      p.Compute,
		store:        p.Store,
		genID:        p.GenID,
		clock:        clk,
		dispatcher:   p.Dispatcher,
		locker:       p.Locker,
		metrics:      p.ObsMetrics,
		urlTTL:       urlTTL,
		pendingGrace: grace,
		lockTTL:      lockTTL,
	}
}

// Create debits the run's credits and records the simulation in one
// transaction, then hands it to the dispatcher for submission.
func (s *Service) Create(ctx context.Context, userID snowflake.ID, req domain.CreateRequest) (*domain.Simulation, error) {
	if userID == 0 {
		return nil, creditdomain.ErrUserNotFound
	}
	if err := validateCreate(&req); err != nil {
		return nil, err
	}
	cost := CreditsFor(req.Parameters)
	log := obslogger.WithContext(ctx, s.log)

	keys, err := s.storeInputs(ctx, req)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	sim := &domain.Simulation{
		ID:              s.genID.Generate(),
		UserID:          userID,
		Name:            req.Name,
		Status:          domain.StatusPending,
		Parameters:      datatypes.NewJSONType(req.Parameters),
		Equilibration:   datatypes.NewJSONType(req.Equilibration),
		ProteinBlobKey:  keys.protein,
		ProteinFileName: req.Protein.Name,
		CreditsUsed:     cost,
		Details:         "Waiting for submission",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.Ligand != nil {
		sim.LigandBlobKey = keys.ligand
		sim.LigandFileName = req.Ligand.Name
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.credits.DebitTx(ctx, tx, userID, cost); err != nil {
			return err
		}
		if err := s.repo.CreateTx(ctx, tx, sim); err != nil {
			return err
		}
		simID := sim.ID
		_, err := s.ledger.RecordTx(ctx, tx, ledgerdomain.Entry{
			UserID:       userID,
			Credits:      -cost,
			Status:       ledgerdomain.StatusSimulationDebit,
			EventID:      "simulation:" + sim.ID.String(),
			SimulationID: &simID,
		})
		return err
	})
	if err != nil {
		s.deleteInputs(context.WithoutCancel(ctx), keys)
		if !errors.Is(err, creditdomain.ErrInsufficientCredits) {
			log.Error("failed to create simulation", zap.Error(err))
		}
		return nil, err
	}

	s.metrics.RecordSimulationCreated(ctx)
	log.Info("simulation created",
		zap.String("simulation_id", sim.ID.String()),
		zap.Int64("credits", cost),
	)

	if s.dispatcher == nil || !s.dispatcher.Dispatch(sim.ID) {
		log.Warn("simulation submission deferred to sweep", zap.String("simulation_id", sim.ID.String()))
	}
	return sim, nil
}

type inputKeys struct {
	protein string
	ligand  string
}

func (s *Service) storeInputs(ctx context.Context, req domain.CreateRequest) (inputKeys, error) {
	var keys inputKeys

	keys.protein = storage.NewObjectKey("uploads/protein", req.Protein.Name)
	if err := s.putFile(ctx, keys.protein, req.Protein); err != nil {
		return inputKeys{}, fmt.Errorf("store protein: %w", err)
	}
	if req.Ligand != nil {
		keys.ligand = storage.NewObjectKey("uploads/ligand", req.Ligand.Name)
		if err := s.putFile(ctx, keys.ligand, req.Ligand); err != nil {
			s.deleteInputs(context.WithoutCancel(ctx), keys)
			return inputKeys{}, fmt.Errorf("store ligand: %w", err)
		}
	}
	return keys, nil
}

func (s *Service) putFile(ctx context.Context, key string, file *domain.File) error {
	contentType := file.ContentType
	if contentType == "" {
		contentType = "chemical/x-structure"
	}
	return s.store.Put(ctx, key, contentType, bytes.NewReader(file.Data), int64(len(file.Data)))
}

func (s *Service) deleteInputs(ctx context.Context, keys inputKeys) {
	for _, key := range []string{keys.protein, keys.ligand} {
		if key == "" {
			continue
		}
		if err := s.store.Delete(ctx, key); err != nil {
			s.log.Warn("failed to delete orphaned upload", zap.String("key", key), zap.Error(err))
		}
	}
}

func (s *Service) Get(ctx context.Context, userID, id snowflake.ID) (*domain.Simulation, error) {
	return s.repo.FindForUser(ctx, userID, id)
}

// List returns the user's simulations, newest first.
func (s *Service) List(ctx context.Context, userID snowflake.ID, page pagination.Pagination) (domain.ListResponse, error) {
	rows, info, err := s.repo.ListByUser(ctx, userID, page)
	if err != nil {
		return domain.ListResponse{}, err
	}
	return domain.ListResponse{Simulations: rows, PageInfo: info}, nil
}

func (s *Service) ResultDownloadURL(ctx context.Context, userID, id snowflake.ID) (*domain.DownloadURL, error) {
	sim, err := s.repo.FindForUser(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !sim.HasResults() {
		return nil, domain.ErrResultsNotReady
	}

	filename := resultFileName(sim)
	url, err := s.store.URL(ctx, sim.ResultBlobKey, s.urlTTL, filename)
	if err != nil {
		return nil, err
	}
	return &domain.DownloadURL{
		URL:       url,
		FileName:  filename,
		ExpiresAt: s.clock.Now().Add(s.urlTTL),
	}, nil
}

func resultFileName(sim *domain.Simulation) string {
	name := slug.Make(sim.Name)
	if name == "" {
		name = "simulation-" + sim.ID.String()
	}
	return name + "-results.tar.gz"
}

func resultKey(id snowflake.ID) string {
	return "results/" + id.String() + ".tar.gz"
}
