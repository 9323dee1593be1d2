package compute

import "encoding/json"

// JobConfig is the JSON document sent as the "config" part of a job
// submission.
type JobConfig struct {
	Forcefield Forcefield `json:"forcefield"`
	Solvent    Solvent    `json:"solvent"`
	NVT        Stage      `json:"nvt"`
	NPT        Stage      `json:"npt"`
	Production Stage      `json:"production"`
}

type Forcefield struct {
	Protein string `json:"protein"`
}

type Solvent struct {
	Model              string  `json:"model"`
	IonicStrengthMolar float64 `json:"ionic_strength_molar"`
	PaddingNM          float64 `json:"padding_nm"`
}

// Stage describes one MD stage. NVT stages leave PressureBar nil.
type Stage struct {
	TemperatureK float64  `json:"temperature_k"`
	PressureBar  *float64 `json:"pressure_bar,omitempty"`
	TimestepFS   float64  `json:"timestep_fs"`
	TimeNS       float64  `json:"time_ns"`
}

type JobRequest struct {
	Protein []byte
	Ligand  []byte
	Config  JobConfig
}

type SubmitResponse struct {
	JobID string `json:"job_id"`
}

// JobStatus mirrors the status endpoint payload. Optional fields are
// pointers so absent values do not overwrite stored ones.
type JobStatus struct {
	Status             string          `json:"status"`
	CurrentStep        *string         `json:"current_step,omitempty"`
	ProgressPercent    *float64        `json:"progress_percent,omitempty"`
	TimeElapsedSeconds *float64        `json:"time_elapsed_seconds,omitempty"`
	Details            *string         `json:"details,omitempty"`
	Error              *string         `json:"error,omitempty"`
	AnalysisData       json.RawMessage `json:"analysis_data,omitempty"`
}
