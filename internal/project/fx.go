package project

import (
	"github.com/tracklane/tracklane/internal/cache"
	"github.com/tracklane/tracklane/internal/project/repository"
	"github.com/tracklane/tracklane/internal/project/service"
	"go.uber.org/fx"
)

var Module = fx.Module("project.service",
	fx.Provide(cache.NewProjectResolverCache),
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
