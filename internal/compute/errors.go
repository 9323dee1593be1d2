package compute

import (
	"errors"
	"fmt"
)

var (
	ErrNotConfigured = errors.New("compute_api_not_configured")
	ErrInvalidJobID  = errors.New("invalid_job_id")
	ErrEmptyProtein  = errors.New("protein_file_required")
	ErrMissingJobID  = errors.New("compute_api_missing_job_id")
)

// APIError is returned for non-2xx responses from the compute API.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("compute API error: %s", e.Status)
}

func (e *APIError) Upstream() string {
	return "compute"
}
