package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/tracklane/tracklane/internal/clock"
	"github.com/tracklane/tracklane/internal/config"
	"github.com/tracklane/tracklane/internal/dispatcher"
	"github.com/tracklane/tracklane/internal/observability"
	"github.com/tracklane/tracklane/internal/usagestats"
	"github.com/tracklane/tracklane/pkg/db"
	"github.com/tracklane/tracklane/pkg/telemetry"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		fx.Provide(telemetry.NewMetrics),
		db.Module,
		clock.Module,

		// No server module; this process drains the outbox and reports
		// install usage.
		dispatcher.Module,
		usagestats.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
