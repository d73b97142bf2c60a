package board

import (
	"github.com/tracklane/tracklane/internal/board/repository"
	"github.com/tracklane/tracklane/internal/board/service"
	"go.uber.org/fx"
)

var Module = fx.Module("board.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
