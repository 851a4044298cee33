package billingvolume

import (
	"github.com/railzwaylabs/waterbilling/internal/billingvolume/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingvolume.service",
	fx.Provide(service.NewService),
)
