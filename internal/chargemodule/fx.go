package chargemodule

import "go.uber.org/fx"

var Module = fx.Module("chargemodule",
	fx.Provide(
		NewClient,
		func(c *Client) Gateway { return c },
	),
)
