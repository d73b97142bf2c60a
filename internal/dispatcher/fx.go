package dispatcher

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("dispatcher",
	fx.Provide(ProvideConfig),
	fx.Provide(NewLogSink),
	fx.Provide(New),
	fx.Invoke(Run),
)

func Run(lc fx.Lifecycle, d *Dispatcher) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go d.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
