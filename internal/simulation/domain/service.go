package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/phage/internal/compute"
	"github.com/smallbiznis/phage/pkg/db/pagination"
)

type Service interface {
	Create(ctx context.Context, userID snowflake.ID, req CreateRequest) (*Simulation, error)
	SubmitJob(ctx context.Context, id snowflake.ID) error
	CheckStatus(ctx context.Context, userID, id snowflake.ID) (*compute.JobStatus, error)
	DownloadResults(ctx context.Context, id snowflake.ID) error
	Get(ctx context.Context, userID, id snowflake.ID) (*Simulation, error)
	List(ctx context.Context, userID snowflake.ID, page pagination.Pagination) (ListResponse, error)
	ResultDownloadURL(ctx context.Context, userID, id snowflake.ID) (*DownloadURL, error)
	RefreshActive(ctx context.Context, batchSize int) (RefreshResult, error)
}

// Dispatcher hands a freshly created simulation to background submission.
// It returns false when the submission could not be queued.
type Dispatcher interface {
	Dispatch(id snowflake.ID) bool
}

type File struct {
	Name        string
	ContentType string
	Data        []byte
}

type CreateRequest struct {
	Name          string        `json:"name"`
	Parameters    Parameters    `json:"parameters"`
	Equilibration Equilibration `json:"equilibration"`
	Protein       *File         `json:"-"`
	Ligand        *File         `json:"-"`
}

type ListResponse struct {
	Simulations []*Simulation       `json:"simulations"`
	PageInfo    pagination.PageInfo `json:"page_info"`
}

type DownloadURL struct {
	URL       string    `json:"url"`
	FileName  string    `json:"file_name"`
	ExpiresAt time.Time `json:"expires_at"`
}

type RefreshResult struct {
	Submitted int `json:"submitted"`
	Polled    int `json:"polled"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}
