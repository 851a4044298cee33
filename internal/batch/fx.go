package batch

import (
	"github.com/railzwaylabs/waterbilling/internal/batch/service"
	"go.uber.org/fx"
)

var Module = fx.Module("batch.service",
	fx.Provide(service.NewService),
)
