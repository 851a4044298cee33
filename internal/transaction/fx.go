package transaction

import (
	"github.com/railzwaylabs/waterbilling/internal/transaction/service"
	"go.uber.org/fx"
)

var Module = fx.Module("transaction.service",
	fx.Provide(service.NewService),
)
