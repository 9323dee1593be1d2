package domain

import "errors"

var (
	ErrNotFound          = errors.New("simulation_not_found")
	ErrInvalidName       = errors.New("invalid_simulation_name")
	ErrInvalidParameters = errors.New("invalid_simulation_parameters")
	ErrProteinRequired   = errors.New("protein_file_required")
	ErrInvalidProtein    = errors.New("invalid_protein_file")
	ErrInvalidLigand     = errors.New("invalid_ligand_file")
	ErrFileTooLarge      = errors.New("structure_file_too_large")
	ErrJobNotSubmitted   = errors.New("simulation_job_not_submitted")
	ErrResultsNotReady   = errors.New("simulation_results_not_ready")
)
