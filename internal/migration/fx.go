package migration

import (
	"github.com/tracklane/tracklane/internal/config"
	"github.com/tracklane/tracklane/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			if err := RunDevMigrations(conn); err != nil {
				return err
			}
		}

		if !cfg.IsCloud() && cfg.SeedDemo {
			return seed.EnsureDemoWorkspace(conn)
		}
		return nil
	}),
)
