package service

import (
	"github.com/smallbiznis/phage/internal/compute"
	"github.com/smallbiznis/phage/internal/simulation/domain"
)

const (
	proteinForcefield  = "amber14-all.xml"
	solventModel       = "tip3p"
	ionicStrengthMolar = 0.15
	solventPaddingNM   = 1.0
	defaultPressureBar = 1.0
	defaultStageTimeNS = 0.1
)

// BuildJobConfig maps user parameters onto the compute API stage layout.
// With equilibration enabled its time is split evenly between NVT and NPT.
func BuildJobConfig(params domain.Parameters, eq domain.Equilibration) compute.JobConfig {
	eqTemp := params.TemperatureK
	eqTimestep := params.TimestepFS
	eqPressure := defaultPressureBar
	stageTime := defaultStageTimeNS

	if eq.Enabled {
		if eq.TemperatureK > 0 {
			eqTemp = eq.TemperatureK
		}
		if eq.TimestepFS > 0 {
			eqTimestep = eq.TimestepFS
		}
		if eq.PressureBar > 0 {
			eqPressure = eq.PressureBar
		}
		stageTime = eq.TimeNS / 2
	}

	prodPressure := eqPressure
	if params.PressureBar > 0 {
		prodPressure = params.PressureBar
	}

	return compute.JobConfig{
		Forcefield: compute.Forcefield{Protein: proteinForcefield},
		Solvent: compute.Solvent{
			Model:              solventModel,
			IonicStrengthMolar: ionicStrengthMolar,
			PaddingNM:          solventPaddingNM,
		},
		NVT: compute.Stage{
			TemperatureK: eqTemp,
			TimestepFS:   eqTimestep,
			TimeNS:       stageTime,
		},
		NPT: compute.Stage{
			TemperatureK: eqTemp,
			PressureBar:  floatPtr(eqPressure),
			TimestepFS:   eqTimestep,
			TimeNS:       stageTime,
		},
		Production: compute.Stage{
			TemperatureK: params.TemperatureK,
			PressureBar:  floatPtr(prodPressure),
			TimestepFS:   params.TimestepFS,
			TimeNS:       params.DurationNS,
		},
	}
}

func floatPtr(v float64) *float64 { return &v }
