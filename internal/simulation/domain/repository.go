package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/phage/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	CreateTx(ctx context.Context, tx *gorm.DB, sim *Simulation) error
	FindByID(ctx context.Context, id snowflake.ID) (*Simulation, error)
	FindForUser(ctx context.Context, userID, id snowflake.ID) (*Simulation, error)
	ListByUser(ctx context.Context, userID snowflake.ID, page pagination.Pagination) ([]*Simulation, pagination.PageInfo, error)
	Update(ctx context.Context, id snowflake.ID, update StatusUpdate, now time.Time) error
	UpdateTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, update StatusUpdate, now time.Time) error
	// TransitionTx applies update only while the row is in status from and
	// reports whether it did.
	TransitionTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, from Status, update StatusUpdate, now time.Time) (bool, error)
	// ListActive returns queued/running simulations with a job id, oldest
	// update first.
	ListActive(ctx context.Context, limit int) ([]*Simulation, error)
	// ListStalePending returns pending simulations created before cutoff.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*Simulation, error)
}
