package comment

import (
	"github.com/tracklane/tracklane/internal/comment/repository"
	"github.com/tracklane/tracklane/internal/comment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("comment.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
