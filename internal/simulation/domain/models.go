package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Known reports whether s is one of the lifecycle states.
func (s Status) Known() bool {
	switch s {
	case StatusPending, StatusQueued, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Active states are polled by the background sweep.
func (s Status) Active() bool {
	return s == StatusQueued || s == StatusRunning
}

const DefaultEnsemble = "NVT"

// Parameters are the production-run settings chosen by the user.
type Parameters struct {
	TemperatureK float64 `json:"temperature"`
	DurationNS   float64 `json:"duration"`
	TimestepFS   float64 `json:"timestep"`
	PressureBar  float64 `json:"pressure,omitempty"`
	Ensemble     string  `json:"ensemble"`
}

// Equilibration configures the NVT/NPT stages run before production.
type Equilibration struct {
	Enabled      bool    `json:"enabled"`
	TimeNS       float64 `json:"time,omitempty"`
	TemperatureK float64 `json:"temperature,omitempty"`
	PressureBar  float64 `json:"pressure,omitempty"`
	TimestepFS   float64 `json:"timestep,omitempty"`
}

type Simulation struct {
	ID                 snowflake.ID                      `gorm:"primaryKey" json:"id"`
	UserID             snowflake.ID                      `gorm:"not null;index:idx_simulations_user_created,priority:1" json:"user_id"`
	Name               string                            `gorm:"type:varchar(255);not null" json:"name"`
	Status             Status                            `gorm:"type:varchar(32);not null;index" json:"status"`
	Parameters         datatypes.JSONType[Parameters]    `gorm:"not null" json:"parameters"`
	Equilibration      datatypes.JSONType[Equilibration] `gorm:"not null" json:"equilibration"`
	ProteinBlobKey     string                            `gorm:"type:varchar(512);not null" json:"-"`
	ProteinFileName    string                            `gorm:"type:varchar(255);not null" json:"protein_file_name"`
	LigandBlobKey      string                            `gorm:"type:varchar(512);not null;default:''" json:"-"`
	LigandFileName     string                            `gorm:"type:varchar(255);not null;default:''" json:"ligand_file_name,omitempty"`
	CreditsUsed        int64                             `gorm:"not null;default:0" json:"credits_used"`
	JobID              string                            `gorm:"type:varchar(255);not null;default:''" json:"job_id,omitempty"`
	ProgressPercent    float64                           `gorm:"not null;default:0" json:"progress_percent"`
	CurrentStep        string                            `gorm:"type:text;not null;default:''" json:"current_step,omitempty"`
	TimeElapsedSeconds float64                           `gorm:"not null;default:0" json:"time_elapsed_seconds"`
	Details            string                            `gorm:"type:text;not null;default:''" json:"details,omitempty"`
	Error              string                            `gorm:"type:text;not null;default:''" json:"error,omitempty"`
	AnalysisData       datatypes.JSON                    `json:"analysis_data,omitempty"`
	ResultBlobKey      string                            `gorm:"type:varchar(512);not null;default:''" json:"-"`
	SubmittedAt        *time.Time                        `json:"submitted_at,omitempty"`
	CompletedAt        *time.Time                        `json:"completed_at,omitempty"`
	CreatedAt          time.Time                         `gorm:"not null;index:idx_simulations_user_created,priority:2" json:"created_at"`
	UpdatedAt          time.Time                         `gorm:"not null" json:"updated_at"`
}

func (Simulation) TableName() string { return "simulations" }

// HasResults reports whether the result archive has been stored.
func (s *Simulation) HasResults() bool {
	return s != nil && s.ResultBlobKey != ""
}

// StatusUpdate carries the fields a lifecycle step changes. Nil fields are
// left untouched.
type StatusUpdate struct {
	Status             *Status
	JobID              *string
	CurrentStep        *string
	ProgressPercent    *float64
	TimeElapsedSeconds *float64
	Details            *string
	Error              *string
	AnalysisData       datatypes.JSON
	ResultBlobKey      *string
	SubmittedAt        *time.Time
	CompletedAt        *time.Time
}
