package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/phage/internal/compute"
	ledgerdomain "github.com/smallbiznis/phage/internal/ledger/domain"
	obscontext "github.com/smallbiznis/phage/internal/observability/context"
	obslogger "github.com/smallbiznis/phage/internal/observability/logger"
	"github.com/smallbiznis/phage/internal/ratelimit"
	"github.com/smallbiznis/phage/internal/simulation/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	detailsSubmitted      = "Job submitted to compute API"
	detailsSubmitFailed   = "Failed to submit job to compute API"
	detailsStatusFailed   = "Failed to check job status"
	detailsDownloaded     = "Results downloaded and stored"
	detailsDownloadFailed = "Failed to download results"
	stepQueued            = "Queued"

	outcomeOK     = "ok"
	outcomeFailed = "failed"
)

// errLockHeld means another worker is handling the simulation.
var errLockHeld = errors.New("simulation_lock_held")

// SubmitJob forwards a pending simulation to the compute API. On failure
// the record is marked failed and its credits are refunded.
func (s *Service) SubmitJob(ctx context.Context, id snowflake.ID) error {
	release, err := s.lock(ctx, "simulation:"+id.String()+":submit")
	if err != nil {
		return err
	}
	defer release()

	sim, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if sim.Status != domain.StatusPending || sim.JobID != "" {
		return nil
	}
	ctx = obscontext.WithSimulationID(ctx, id.String())
	log := obslogger.WithContext(ctx, s.log)

	jobID, err := s.submit(ctx, sim)
	if err != nil {
		s.metrics.RecordJobSubmission(ctx, outcomeFailed)
		log.Error("job submission failed", zap.Error(err))
		if failErr := s.failSubmission(context.WithoutCancel(ctx), sim, err); failErr != nil {
			log.Error("failed to record submission failure", zap.Error(failErr))
		}
		return err
	}

	now := s.clock.Now()
	queued := domain.StatusQueued
	step := stepQueued
	progress := 0.0
	details := detailsSubmitted
	empty := ""
	moved, err := s.repo.TransitionTx(ctx, s.db, id, domain.StatusPending, domain.StatusUpdate{
		Status:          &queued,
		JobID:           &jobID,
		CurrentStep:     &step,
		ProgressPercent: &progress,
		Details:         &details,
		Error:           &empty,
		SubmittedAt:     &now,
	}, now)
	if err != nil {
		return err
	}
	if !moved {
		// another submitter recorded its job first; this one is left running unowned
		log.Warn("simulation left pending before submission was recorded, compute job orphaned",
			zap.String("job_id", jobID),
		)
		return nil
	}

	s.metrics.RecordJobSubmission(ctx, outcomeOK)
	log.Info("job submitted", zap.String("job_id", jobID))
	return nil
}

func (s *Service) submit(ctx context.Context, sim *domain.Simulation) (string, error) {
	protein, err := s.readBlob(ctx, sim.ProteinBlobKey)
	if err != nil {
		return "", fmt.Errorf("read protein file: %w", err)
	}
	var ligand []byte
	if sim.LigandBlobKey != "" {
		if ligand, err = s.readBlob(ctx, sim.LigandBlobKey); err != nil {
			return "", fmt.Errorf("read ligand file: %w", err)
		}
	}

	return s.compute.SubmitJob(ctx, compute.JobRequest{
		Protein: protein,
		Ligand:  ligand,
		Config:  BuildJobConfig(sim.Parameters.Data(), sim.Equilibration.Data()),
	})
}

func (s *Service) readBlob(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer obj.Body.Close()
	return io.ReadAll(obj.Body)
}

// failSubmission marks the record failed and refunds its credits once.
func (s *Service) failSubmission(ctx context.Context, sim *domain.Simulation, cause error) error {
	now := s.clock.Now()
	failed := domain.StatusFailed
	message := cause.Error()
	details := detailsSubmitFailed

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		moved, err := s.repo.TransitionTx(ctx, tx, sim.ID, domain.StatusPending, domain.StatusUpdate{
			Status:  &failed,
			Error:   &message,
			Details: &details,
		}, now)
		if err != nil || !moved || sim.CreditsUsed <= 0 {
			return err
		}
		if err := s.credits.RefundTx(ctx, tx, sim.UserID, sim.CreditsUsed); err != nil {
			return err
		}
		simID := sim.ID
		_, err = s.ledger.RecordTx(ctx, tx, ledgerdomain.Entry{
			UserID:       sim.UserID,
			Credits:      sim.CreditsUsed,
			Status:       ledgerdomain.StatusSimulationRefund,
			EventID:      "simulation:" + sim.ID.String() + ":refund",
			SimulationID: &simID,
		})
		return err
	})
}

// CheckStatus polls the compute API for the user's simulation and copies
// the reported progress onto the record.
func (s *Service) CheckStatus(ctx context.Context, userID, id snowflake.ID) (*compute.JobStatus, error) {
	sim, err := s.repo.FindForUser(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return s.refresh(ctx, sim)
}

func (s *Service) refresh(ctx context.Context, sim *domain.Simulation) (*compute.JobStatus, error) {
	if sim.JobID == "" {
		return nil, domain.ErrJobNotSubmitted
	}
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("simulation_id", sim.ID.String()),
		zap.String("job_id", sim.JobID),
	)

	status, err := s.compute.Status(ctx, sim.JobID)
	if err != nil {
		s.metrics.RecordStatusPoll(ctx, outcomeFailed)
		log.Error("job status check failed", zap.Error(err))
		s.markFailed(context.WithoutCancel(ctx), sim.ID, err, detailsStatusFailed)
		return nil, err
	}
	s.metrics.RecordStatusPoll(ctx, status.Status)

	if err := s.repo.Update(ctx, sim.ID, statusUpdate(status), s.clock.Now()); err != nil {
		return nil, err
	}

	if domain.Status(status.Status) == domain.StatusCompleted && !sim.HasResults() {
		if err := s.DownloadResults(ctx, sim.ID); err != nil {
			return nil, err
		}
	}
	return status, nil
}

func statusUpdate(status *compute.JobStatus) domain.StatusUpdate {
	update := domain.StatusUpdate{
		CurrentStep:        status.CurrentStep,
		ProgressPercent:    status.ProgressPercent,
		TimeElapsedSeconds: status.TimeElapsedSeconds,
		Details:            status.Details,
		Error:              status.Error,
	}
	if st := domain.Status(status.Status); st.Known() {
		update.Status = &st
	}
	if len(status.AnalysisData) > 0 && !bytes.Equal(bytes.TrimSpace(status.AnalysisData), []byte("null")) {
		update.AnalysisData = datatypes.JSON(status.AnalysisData)
	}
	return update
}

// DownloadResults fetches the result archive of a completed job and stores it.
func (s *Service) DownloadResults(ctx context.Context, id snowflake.ID) error {
	sim, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if sim.JobID == "" {
		return domain.ErrJobNotSubmitted
	}
	ctx = obscontext.WithSimulationID(ctx, id.String())
	log := obslogger.WithContext(ctx, s.log)

	key := resultKey(id)
	if err := s.fetchResults(ctx, sim.JobID, key); err != nil {
		log.Error("result download failed", zap.Error(err))
		s.markFailed(context.WithoutCancel(ctx), id, err, detailsDownloadFailed)
		return err
	}

	now := s.clock.Now()
	details := detailsDownloaded
	if err := s.repo.Update(ctx, id, domain.StatusUpdate{
		ResultBlobKey: &key,
		Details:       &details,
		CompletedAt:   &now,
	}, now); err != nil {
		return err
	}
	log.Info("results stored", zap.String("key", key))
	return nil
}

func (s *Service) fetchResults(ctx context.Context, jobID, key string) error {
	data, err := s.compute.Download(ctx, jobID)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, key, "application/gzip", bytes.NewReader(data), int64(len(data)))
}

func (s *Service) markFailed(ctx context.Context, id snowflake.ID, cause error, details string) {
	failed := domain.StatusFailed
	message := cause.Error()
	if err := s.repo.Update(ctx, id, domain.StatusUpdate{
		Status:  &failed,
		Error:   &message,
		Details: &details,
	}, s.clock.Now()); err != nil {
		s.log.Error("failed to mark simulation failed",
			zap.String("simulation_id", id.String()),
			zap.Error(err),
		)
	}
}

// RefreshActive submits stale pending simulations and polls the ones the
// compute API is running. Per-item errors are logged and joined.
func (s *Service) RefreshActive(ctx context.Context, batchSize int) (domain.RefreshResult, error) {
	if batchSize <= 0 {
		batchSize = 25
	}
	var (
		result domain.RefreshResult
		jobErr error
	)

	pending, err := s.repo.ListStalePending(ctx, s.clock.Now().Add(-s.pendingGrace), batchSize)
	if err != nil {
		return result, err
	}
	for _, sim := range pending {
		if ctx.Err() != nil {
			return result, errors.Join(jobErr, ctx.Err())
		}
		switch err := s.SubmitJob(ctx, sim.ID); {
		case errors.Is(err, errLockHeld):
			result.Skipped++
		case err != nil:
			result.Failed++
			jobErr = errors.Join(jobErr, err)
		default:
			result.Submitted++
		}
	}

	active, err := s.repo.ListActive(ctx, batchSize)
	if err != nil {
		return result, errors.Join(jobErr, err)
	}
	for _, sim := range active {
		if ctx.Err() != nil {
			return result, errors.Join(jobErr, ctx.Err())
		}
		switch err := s.pollLocked(ctx, sim); {
		case errors.Is(err, errLockHeld):
			result.Skipped++
		case err != nil:
			result.Failed++
			jobErr = errors.Join(jobErr, err)
		default:
			result.Polled++
		}
	}
	return result, jobErr
}

func (s *Service) pollLocked(ctx context.Context, sim *domain.Simulation) error {
	release, err := s.lock(ctx, "simulation:"+sim.ID.String()+":poll")
	if err != nil {
		return err
	}
	defer release()
	_, err = s.refresh(ctx, sim)
	return err
}

// lock takes a cross-replica lock when redis is configured.
func (s *Service) lock(ctx context.Context, key string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	lease, err := s.locker.Acquire(ctx, key, s.lockTTL)
	if errors.Is(err, ratelimit.ErrLockHeld) {
		return nil, errLockHeld
	}
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	return func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}
