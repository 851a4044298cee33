package jobqueue

import "go.uber.org/fx"

var Module = fx.Module("jobqueue",
	fx.Provide(
		NewQueue,
		func(q *Queue) Enqueuer { return q },
	),
)
