package audit

import (
	"github.com/tracklane/tracklane/internal/audit/repository"
	"github.com/tracklane/tracklane/internal/audit/service"
	"github.com/tracklane/tracklane/internal/providers/pdf"
	"go.uber.org/fx"
)

// Module wires the activity log. The PDF provider rides along because audit
// export is its only consumer.
var Module = fx.Module("audit.service",
	pdf.Module,
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
