package providers

import (
	"github.com/smallbiznis/phage/internal/providers/email"
	"github.com/smallbiznis/phage/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
)
