package invoice

import (
	"github.com/railzwaylabs/waterbilling/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(service.NewService),
	fx.Provide(service.NewExplanationService),
)
