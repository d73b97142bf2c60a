package item

import (
	"github.com/tracklane/tracklane/internal/item/repository"
	"github.com/tracklane/tracklane/internal/item/service"
	"go.uber.org/fx"
)

var Module = fx.Module("item.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
