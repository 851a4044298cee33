package population

import "go.uber.org/fx"

var Module = fx.Module("population.service",
	fx.Provide(
		NewHTTPProcessor,
		func(p *HTTPProcessor) Processor { return p },
		NewService,
	),
)
