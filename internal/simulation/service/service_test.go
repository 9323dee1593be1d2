package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/phage/internal/auth/domain"
	"github.com/smallbiznis/phage/internal/clock"
	"github.com/smallbiznis/phage/internal/compute"
	"github.com/smallbiznis/phage/internal/config"
	creditdomain "github.com/smallbiznis/phage/internal/credit/domain"
	creditservice "github.com/smallbiznis/phage/internal/credit/service"
	ledgerdomain "github.com/smallbiznis/phage/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/phage/internal/ledger/service"
	"github.com/smallbiznis/phage/internal/simulation/domain"
	"github.com/smallbiznis/phage/internal/simulation/repository"
	"github.com/smallbiznis/phage/internal/storage"
	"github.com/smallbiznis/phage/pkg/db"
	"github.com/smallbiznis/phage/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type fakeCompute struct {
	mu          sync.Mutex
	submitErr   error
	submitted   []compute.JobRequest
	status      *compute.JobStatus
	statusErr   error
	archive     []byte
	downloadErr error
	onSubmit    func()
}

func (f *fakeCompute) SubmitJob(_ context.Context, req compute.JobRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, req)
	if f.onSubmit != nil {
		f.onSubmit()
	}
	return "job-1", nil
}

func (f *fakeCompute) Status(context.Context, string) (*compute.JobStatus, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.status, nil
}

func (f *fakeCompute) Download(context.Context, string) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return f.archive, nil
}

type fakeDispatcher struct {
	ids    []snowflake.ID
	accept bool
}

func (d *fakeDispatcher) Dispatch(id snowflake.ID) bool {
	d.ids = append(d.ids, id)
	return d.accept
}

type fixture struct {
	svc        domain.Service
	db         *gorm.DB
	compute    *fakeCompute
	dispatcher *fakeDispatcher
	signer     *storage.Signer
	clock      *clock.FakeClock
	credits    creditdomain.Service
	ledger     ledgerdomain.Service
	userID     snowflake.ID
	logs       *observer.ObservedLogs
}

func newFixture(t *testing.T, balance int64) *fixture {
	t.Helper()

	conn, err := db.NewTest(t.Name())
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&authdomain.User{},
		&domain.Simulation{},
		&ledgerdomain.Transaction{},
		&storage.Blob{},
	))

	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	user := authdomain.User{
		ID:           node.Generate(),
		Email:        "researcher@example.com",
		PasswordHash: "x",
		Credits:      balance,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, conn.Create(&user).Error)

	signer, _, err := storage.NewSigner("secret", "https://phage.example.com", clk)
	require.NoError(t, err)

	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)
	credits := creditservice.New(creditservice.Params{DB: conn, Log: log, Clock: clk})
	ledger := ledgerservice.NewService(ledgerservice.Params{DB: conn, Log: log, GenID: node, Clock: clk})
	fc := &fakeCompute{archive: []byte("tar-bytes")}
	dispatcher := &fakeDispatcher{accept: true}

	cfg := config.Config{}
	cfg.Storage.URLTTL = 15 * time.Minute
	cfg.Scheduler.PendingGrace = time.Minute

	svc := New(Params{
		DB:         conn,
		Log:        log,
		Config:     cfg,
		Repo:       repository.New(conn),
		Credits:    credits,
		Ledger:     ledger,
		Compute:    fc,
		Store:      storage.NewDatabaseStore(conn, signer, clk),
		GenID:      node,
		Clock:      clk,
		Dispatcher: dispatcher,
	})

	return &fixture{
		svc:        svc,
		db:         conn,
		compute:    fc,
		dispatcher: dispatcher,
		signer:     signer,
		clock:      clk,
		credits:    credits,
		ledger:     ledger,
		userID:     user.ID,
		logs:       logs,
	}
}

func validRequest(duration float64) domain.CreateRequest {
	return domain.CreateRequest{
		Name: "Lysozyme in water",
		Parameters: domain.Parameters{
			TemperatureK: 300,
			DurationNS:   duration,
			TimestepFS:   2,
		},
		Equilibration: domain.Equilibration{Enabled: true, TimeNS: 1, TemperatureK: 310, PressureBar: 1, TimestepFS: 1},
		Protein:       &domain.File{Name: "1aki.pdb", Data: []byte("ATOM      1  N   LYS A   1")},
		Ligand:        &domain.File{Name: "lig.sdf", Data: []byte("ligand")},
	}
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	balance, err := f.credits.Balance(context.Background(), f.userID)
	require.NoError(t, err)
	return balance
}

func (f *fixture) transactions(t *testing.T) []*ledgerdomain.Transaction {
	t.Helper()
	resp, err := f.ledger.ListByUser(context.Background(), f.userID, pagination.Pagination{PageSize: 100})
	require.NoError(t, err)
	return resp.Transactions
}

func TestCreateDebitsExactCredits(t *testing.T) {
	f := newFixture(t, 10)

	sim, err := f.svc.Create(context.Background(), f.userID, validRequest(2.5))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, sim.Status)
	assert.Equal(t, int64(3), sim.CreditsUsed)
	assert.Equal(t, "NVT", sim.Parameters.Data().Ensemble)
	assert.Equal(t, int64(7), f.balance(t))
	assert.Equal(t, []snowflake.ID{sim.ID}, f.dispatcher.ids)

	txs := f.transactions(t)
	require.Len(t, txs, 1)
	assert.Equal(t, ledgerdomain.StatusSimulationDebit, txs[0].Status)
	assert.Equal(t, int64(-3), txs[0].Credits)
	require.NotNil(t, txs[0].SimulationID)
	assert.Equal(t, sim.ID, *txs[0].SimulationID)
}

func TestCreateRefusesWhenBalanceInsufficient(t *testing.T) {
	f := newFixture(t, 2)

	_, err := f.svc.Create(context.Background(), f.userID, validRequest(5))
	assert.ErrorIs(t, err, creditdomain.ErrInsufficientCredits)

	assert.Equal(t, int64(2), f.balance(t))
	assert.Empty(t, f.transactions(t))
	assert.Empty(t, f.dispatcher.ids)

	var sims, blobs int64
	require.NoError(t, f.db.Model(&domain.Simulation{}).Count(&sims).Error)
	require.NoError(t, f.db.Model(&storage.Blob{}).Count(&blobs).Error)
	assert.Zero(t, sims)
	assert.Zero(t, blobs)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*domain.CreateRequest)
		want   error
	}{
		{"empty name", func(r *domain.CreateRequest) { r.Name = "  " }, domain.ErrInvalidName},
		{"zero duration", func(r *domain.CreateRequest) { r.Parameters.DurationNS = 0 }, domain.ErrInvalidParameters},
		{"huge duration", func(r *domain.CreateRequest) { r.Parameters.DurationNS = 1e19 }, domain.ErrInvalidParameters},
		{"duration over cap", func(r *domain.CreateRequest) { r.Parameters.DurationNS = maxDurationNS + 1 }, domain.ErrInvalidParameters},
		{"negative temperature", func(r *domain.CreateRequest) { r.Parameters.TemperatureK = -1 }, domain.ErrInvalidParameters},
		{"missing protein", func(r *domain.CreateRequest) { r.Protein = nil }, domain.ErrProteinRequired},
		{"protein extension", func(r *domain.CreateRequest) { r.Protein.Name = "x.cif" }, domain.ErrInvalidProtein},
		{"ligand extension", func(r *domain.CreateRequest) { r.Ligand.Name = "x.txt" }, domain.ErrInvalidLigand},
		{"equilibration time", func(r *domain.CreateRequest) { r.Equilibration.TimeNS = 0 }, domain.ErrInvalidParameters},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest(1)
			tc.mutate(&req)
			_, err := f.svc.Create(ctx, f.userID, req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, int64(100), f.balance(t))
}

func TestSubmitJobQueuesSimulation(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	sim, err := f.svc.Create(ctx, f.userID, validRequest(4))
	require.NoError(t, err)
	require.NoError(t, f.svc.SubmitJob(ctx, sim.ID))

	got, err := f.svc.Get(ctx, f.userID, sim.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, got.Status)
	assert.Equal(t, "job-1", got.JobID)
	assert.Equal(t, "Queued", got.CurrentStep)
	assert.Equal(t, "Job submitted to compute API", got.Details)
	require.NotNil(t, got.SubmittedAt)

	require.Len(t, f.compute.submitted, 1)
	req := f.compute.submitted[0]
	assert.Equal(t, []byte("ATOM      1  N   LYS A   1"), req.Protein)
	assert.Equal(t, []byte("ligand"), req.Ligand)
	assert.Equal(t, 4.0, req.Config.Production.TimeNS)
	assert.Equal(t, 0.5, req.Config.NVT.TimeNS)

	// A second submission is a no-op.
	require.NoError(t, f.svc.SubmitJob(ctx, sim.ID))
	assert.Len(t, f.compute.submitted, 1)
}

func TestSubmitJobFailureRefundsCredits(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	f.compute.submitErr = &compute.APIError{StatusCode: 500, Status: "Internal Server Error"}

	sim, err := f.svc.Create(ctx, f.userID, validRequest(4))
	require.NoError(t, err)
	assert.Equal(t, int64(6), f.balance(t))

	err = f.svc.SubmitJob(ctx, sim.ID)
	var apiErr *compute.APIError
	require.ErrorAs(t, err, &apiErr)

	got, err := f.svc.Get(ctx, f.userID, sim.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "compute API error: Internal Server Error", got.Error)
	assert.Equal(t, "Failed to submit job to compute API", got.Details)
	assert.Equal(t, int64(10), f.balance(t))

	txs := f.transactions(t)
	require.Len(t, txs, 2)
	statuses := []ledgerdomain.Status{txs[0].Status, txs[1].Status}
	assert.ElementsMatch(t, []ledgerdomain.Status{ledgerdomain.StatusSimulationDebit, ledgerdomain.StatusSimulationRefund}, statuses)

	// Failed simulations are not resubmitted or refunded twice.
	require.NoError(t, f.svc.SubmitJob(ctx, sim.ID))
	assert.Equal(t, int64(10), f.balance(t))
}

func TestCheckStatusCompletesAndStoresResults(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	sim, err := f.svc.Create(ctx, f.userID, validRequest(1))
	require.NoError(t, err)
	require.NoError(t, f.svc.SubmitJob(ctx, sim.ID))

	step := "Production"
	progress := 100.0
	f.compute.status = &compute.JobStatus{
		Status:          "completed",
		CurrentStep:     &step,
		ProgressPercent: &progress,
		AnalysisData:    []byte(`{"rmsd":[0.1,0.3]}`),
	}

	status, err := f.svc.CheckStatus(ctx, f.userID, sim.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", status.Status)

	got, err := f.svc.Get(ctx, f.userID, sim.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, 100.0, got.ProgressPercent)
	assert.Equal(t, "Results downloaded and stored", got.Details)
	assert.JSONEq(t, `{"rmsd":[0.1,0.3]}`, string(got.AnalysisData))
	assert.True(t, got.HasResults())
	require.NotNil(t, got.CompletedAt)

	link, err := f.svc.ResultDownloadURL(ctx, f.userID, sim.ID)
	require.NoError(t, err)
	assert.Equal(t, "lysozyme-in-water-results.tar.gz", link.FileName)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), link.ExpiresAt)

	u, err := url.Parse(link.URL)
	require.NoError(t, err)
	q := u.Query()
	require.NoError(t, f.signer.Verify(got.ResultBlobKey, q.Get("expires"), q.Get("filename"), q.Get("sig")))
}

func TestCheckStatusRequiresOwnerAndJob(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	sim, err := f.svc.Create(ctx, f.userID, validRequest(1))
	require.NoError(t, err)

	_, err = f.svc.CheckStatus(ctx, f.userID, sim.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotSubmitted)

	_, err = f.svc.CheckStatus(ctx, snowflake.ID(1), sim.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Get(ctx, snowflake.ID(1), sim.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.ResultDownloadURL(ctx, f.userID, sim.ID)
	assert.ErrorIs(t, err, domain.ErrResultsNotReady)
}

func TestCheckStatusFailureMarksSimulation(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	sim, err := f.svc.Create(ctx, f.userID, validRequest(1))
	require.NoError(t, err)
	require.NoError(t, f.svc.SubmitJob(ctx, sim.ID))

	f.compute.statusErr = errors.New("connection refused")
	_, err = f.svc.CheckStatus(ctx, f.userID, sim.ID)
	require.Error(t, err)

	got, err := f.svc.Get(ctx, f.userID, sim.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "Failed to check job status", got.Details)
	assert.Equal(t, "connection refused", got.Error)
}

func TestDownloadFailureMarksSimulation(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	sim, err := f.svc.Create(ctx, f.userID, validRequest(1))
	require.NoError(t, err)
	require.NoError(t, f.svc.SubmitJob(ctx, sim.ID))

	f.compute.status = &compute.JobStatus{Status: "completed"}
	f.compute.downloadErr = &compute.APIError{StatusCode: 404, Status: "Not Found"}

	_, err = f.svc.CheckStatus(ctx, f.userID, sim.ID)
	require.Error(t, err)

	got, err := f.svc.Get(ctx, f.userID, sim.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "Failed to download results", got.Details)
	assert.False(t, got.HasResults())
}

func TestListNewestFirst(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, f.userID, validRequest(1))
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, err := f.svc.Create(ctx, f.userID, validRequest(1))
	require.NoError(t, err)

	resp, err := f.svc.List(ctx, f.userID, pagination.Pagination{PageSize: 1})
	require.NoError(t, err)
	require.Len(t, resp.Simulations, 1)
	assert.Equal(t, second.ID, resp.Simulations[0].ID)
	assert.True(t, resp.PageInfo.HasMore)

	resp, err = f.svc.List(ctx, f.userID, pagination.Pagination{PageSize: 1, PageToken: resp.PageInfo.NextPageToken})
	require.NoError(t, err)
	require.Len(t, resp.Simulations, 1)
	assert.Equal(t, first.ID, resp.Simulations[0].ID)
	assert.False(t, resp.PageInfo.HasMore)
}

func TestRefreshActiveSubmitsStalePendingAndPolls(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	f.dispatcher.accept = false

	stale, err := f.svc.Create(ctx, f.userID, validRequest(1))
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)
	fresh, err := f.svc.Create(ctx, f.userID, validRequest(1))
	require.NoError(t, err)

	step := "NVT"
	f.compute.status = &compute.JobStatus{Status: "running", CurrentStep: &step}

	result, err := f.svc.RefreshActive(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Submitted)
	assert.Equal(t, 1, result.Polled)

	got, err := f.svc.Get(ctx, f.userID, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, got.Status)
	assert.Equal(t, "NVT", got.CurrentStep)

	got, err = f.svc.Get(ctx, f.userID, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
}

func TestBuildJobConfig(t *testing.T) {
	params := domain.Parameters{TemperatureK: 300, DurationNS: 10, TimestepFS: 2}

	cfg := BuildJobConfig(params, domain.Equilibration{})
	assert.Equal(t, "amber14-all.xml", cfg.Forcefield.Protein)
	assert.Equal(t, "tip3p", cfg.Solvent.Model)
	assert.Equal(t, 0.15, cfg.Solvent.IonicStrengthMolar)
	assert.Equal(t, 0.1, cfg.NVT.TimeNS)
	assert.Equal(t, 300.0, cfg.NPT.TemperatureK)
	assert.Equal(t, 1.0, *cfg.NPT.PressureBar)
	assert.Nil(t, cfg.NVT.PressureBar)
	assert.Equal(t, 10.0, cfg.Production.TimeNS)

	cfg = BuildJobConfig(params, domain.Equilibration{Enabled: true, TimeNS: 2, TemperatureK: 280, PressureBar: 1.5, TimestepFS: 1})
	assert.Equal(t, 1.0, cfg.NVT.TimeNS)
	assert.Equal(t, 280.0, cfg.NVT.TemperatureK)
	assert.Equal(t, 1.0, cfg.NPT.TimestepFS)
	assert.Equal(t, 1.5, *cfg.NPT.PressureBar)
	assert.Equal(t, 1.5, *cfg.Production.PressureBar)
	assert.Equal(t, 300.0, cfg.Production.TemperatureK)
}

func TestCreditsFor(t *testing.T) {
	assert.Equal(t, int64(1), CreditsFor(domain.Parameters{DurationNS: 0.1}))
	assert.Equal(t, int64(5), CreditsFor(domain.Parameters{DurationNS: 5}))
	assert.Equal(t, int64(6), CreditsFor(domain.Parameters{DurationNS: 5.01}))
}

func TestSubmitJobLogsOrphanedJobWhenRaced(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	sim, err := f.svc.Create(ctx, f.userID, validRequest(1))
	require.NoError(t, err)
	f.compute.onSubmit = func() {
		require.NoError(t, f.db.Model(&domain.Simulation{}).Where("id = ?", sim.ID).
			Updates(map[string]any{"status": domain.StatusQueued, "job_id": "job-sweep"}).Error)
	}

	require.NoError(t, f.svc.SubmitJob(ctx, sim.ID))

	got, err := f.svc.Get(ctx, f.userID, sim.ID)
	require.NoError(t, err)
	assert.Equal(t, "job-sweep", got.JobID)

	orphaned := f.logs.FilterMessage("simulation left pending before submission was recorded, compute job orphaned").All()
	require.Len(t, orphaned, 1)
	assert.Equal(t, "job-1", orphaned[0].ContextMap()["job_id"])
}

func TestCreateAcceptsDottedFilenames(t *testing.T) {
	f := newFixture(t, 10)
	req := validRequest(1)
	req.Protein.Name = "1aki..minimized.pdb"

	sim, err := f.svc.Create(context.Background(), f.userID, req)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(sim.ProteinBlobKey, "/1aki..minimized.pdb"))
}
