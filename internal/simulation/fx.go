package simulation

import (
	"github.com/smallbiznis/phage/internal/simulation/repository"
	"github.com/smallbiznis/phage/internal/simulation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("simulation.service",
	fx.Provide(repository.New),
	fx.Provide(service.New),
)
