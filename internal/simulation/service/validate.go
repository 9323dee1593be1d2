package service

import (
	"math"
	"path"
	"strings"

	"github.com/smallbiznis/phage/internal/simulation/domain"
)

const (
	maxNameLength = 255
	maxFileSize   = 50 << 20
	// maxDurationNS caps production and equilibration length so credit
	// costs stay well inside int64.
	maxDurationNS = 10_000
)

var (
	proteinExtensions = []string{".pdb"}
	ligandExtensions  = []string{".sdf", ".mol2", ".pdb"}
)

// CreditsFor returns the credit cost of a run, one credit per started
// nanosecond of production time.
func CreditsFor(params domain.Parameters) int64 {
	return int64(math.Ceil(params.DurationNS))
}

func validateCreate(req *domain.CreateRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > maxNameLength {
		return domain.ErrInvalidName
	}

	p := &req.Parameters
	if !positive(p.TemperatureK) || !positive(p.DurationNS) || !positive(p.TimestepFS) {
		return domain.ErrInvalidParameters
	}
	if p.DurationNS > maxDurationNS {
		return domain.ErrInvalidParameters
	}
	if p.PressureBar < 0 || math.IsNaN(p.PressureBar) {
		return domain.ErrInvalidParameters
	}
	p.Ensemble = strings.ToUpper(strings.TrimSpace(p.Ensemble))
	if p.Ensemble == "" {
		p.Ensemble = domain.DefaultEnsemble
	}

	eq := req.Equilibration
	if eq.Enabled {
		if !positive(eq.TimeNS) || eq.TimeNS > maxDurationNS {
			return domain.ErrInvalidParameters
		}
		for _, v := range []float64{eq.TemperatureK, eq.PressureBar, eq.TimestepFS} {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return domain.ErrInvalidParameters
			}
		}
	} else {
		req.Equilibration = domain.Equilibration{}
	}

	if req.Protein == nil || len(req.Protein.Data) == 0 {
		return domain.ErrProteinRequired
	}
	if !hasExtension(req.Protein.Name, proteinExtensions) {
		return domain.ErrInvalidProtein
	}
	if len(req.Protein.Data) > maxFileSize {
		return domain.ErrFileTooLarge
	}

	if req.Ligand != nil && len(req.Ligand.Data) == 0 {
		req.Ligand = nil
	}
	if req.Ligand != nil {
		if !hasExtension(req.Ligand.Name, ligandExtensions) {
			return domain.ErrInvalidLigand
		}
		if len(req.Ligand.Data) > maxFileSize {
			return domain.ErrFileTooLarge
		}
	}
	return nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func hasExtension(name string, allowed []string) bool {
	ext := strings.ToLower(path.Ext(strings.TrimSpace(name)))
	for _, candidate := range allowed {
		if ext == candidate {
			return true
		}
	}
	return false
}
