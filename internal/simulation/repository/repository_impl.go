package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/phage/internal/simulation/domain"
	"github.com/smallbiznis/phage/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func New(conn *gorm.DB) domain.Repository {
	return &repo{db: conn}
}

func (r *repo) CreateTx(ctx context.Context, tx *gorm.DB, sim *domain.Simulation) error {
	return tx.WithContext(ctx).Create(sim).Error
}

func (r *repo) FindByID(ctx context.Context, id snowflake.ID) (*domain.Simulation, error) {
	return r.findOne(ctx, r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindForUser(ctx context.Context, userID, id snowflake.ID) (*domain.Simulation, error) {
	return r.findOne(ctx, r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID))
}

func (r *repo) findOne(_ context.Context, query *gorm.DB) (*domain.Simulation, error) {
	var sim domain.Simulation
	err := query.First(&sim).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sim, nil
}

func (r *repo) ListByUser(ctx context.Context, userID snowflake.ID, page pagination.Pagination) ([]*domain.Simulation, pagination.PageInfo, error) {
	limit := page.Limit()
	query := r.db.WithContext(ctx).
		Model(&domain.Simulation{}).
		Where("user_id = ?", userID)

	if token := strings.TrimSpace(page.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return nil, pagination.PageInfo{}, err
		}
		id, createdAt, err := cursor.Bounds()
		if err != nil {
			return nil, pagination.PageInfo{}, err
		}
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", createdAt, createdAt, id)
	}

	var rows []*domain.Simulation
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, pagination.PageInfo{}, err
	}

	rows, info := pagination.BuildCursorPageInfo(rows, limit, func(s *domain.Simulation) pagination.Cursor {
		return pagination.NewCursor(int64(s.ID), s.CreatedAt)
	})
	if rows == nil {
		rows = []*domain.Simulation{}
	}
	return rows, info, nil
}

func (r *repo) Update(ctx context.Context, id snowflake.ID, update domain.StatusUpdate, now time.Time) error {
	return r.UpdateTx(ctx, r.db, id, update, now)
}

func (r *repo) UpdateTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, update domain.StatusUpdate, now time.Time) error {
	values := updateValues(update)
	if len(values) == 0 {
		return nil
	}
	values["updated_at"] = now

	result := tx.WithContext(ctx).
		Model(&domain.Simulation{}).
		Where("id = ?", id).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repo) TransitionTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, from domain.Status, update domain.StatusUpdate, now time.Time) (bool, error) {
	values := updateValues(update)
	values["updated_at"] = now

	result := tx.WithContext(ctx).
		Model(&domain.Simulation{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func updateValues(u domain.StatusUpdate) map[string]any {
	values := map[string]any{}
	if u.Status != nil {
		values["status"] = *u.Status
	}
	if u.JobID != nil {
		values["job_id"] = *u.JobID
	}
	if u.CurrentStep != nil {
		values["current_step"] = *u.CurrentStep
	}
	if u.ProgressPercent != nil {
		values["progress_percent"] = *u.ProgressPercent
	}
	if u.TimeElapsedSeconds != nil {
		values["time_elapsed_seconds"] = *u.TimeElapsedSeconds
	}
	if u.Details != nil {
		values["details"] = *u.Details
	}
	if u.Error != nil {
		values["error"] = *u.Error
	}
	if len(u.AnalysisData) > 0 {
		values["analysis_data"] = u.AnalysisData
	}
	if u.ResultBlobKey != nil {
		values["result_blob_key"] = *u.ResultBlobKey
	}
	if u.SubmittedAt != nil {
		values["submitted_at"] = *u.SubmittedAt
	}
	if u.CompletedAt != nil {
		values["completed_at"] = *u.CompletedAt
	}
	return values
}

func (r *repo) ListActive(ctx context.Context, limit int) ([]*domain.Simulation, error) {
	var rows []*domain.Simulation
	err := r.db.WithContext(ctx).
		Where("status IN ? AND job_id <> ''", []domain.Status{domain.StatusQueued, domain.StatusRunning}).
		Order("updated_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repo) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Simulation, error) {
	var rows []*domain.Simulation
	err := r.db.WithContext(ctx).
		Where("status = ? AND job_id = '' AND created_at <= ?", domain.StatusPending, cutoff).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
