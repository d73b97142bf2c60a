package organization

import (
	"github.com/tracklane/tracklane/internal/organization/repository"
	"github.com/tracklane/tracklane/internal/organization/service"
	"go.uber.org/fx"
)

var Module = fx.Module("organization.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
