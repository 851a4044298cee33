package licence

import (
	"github.com/railzwaylabs/waterbilling/internal/licence/service"
	"go.uber.org/fx"
)

var Module = fx.Module("licence.service",
	fx.Provide(service.NewService),
)
