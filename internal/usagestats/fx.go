package usagestats

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tracklane/tracklane/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const reportInterval = 30 * time.Minute

var Module = fx.Module("usage.stats",
	fx.Provide(func() *prometheus.Registry {
		return prometheus.NewRegistry()
	}),
	fx.Provide(NewPusher),
	fx.Provide(func(cfg config.Config, registry *prometheus.Registry, pusher Pusher, logger *zap.Logger) *Stats {
		if pusher == nil {
			return nil
		}
		return New(registry, pusher, cfg.Cloud.OrganizationID, cfg.AppVersion, logger)
	}),
	fx.Invoke(runReporter),
)

func runReporter(lc fx.Lifecycle, stats *Stats, logger *zap.Logger, db *gorm.DB) {
	if stats == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("usagestats")

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("starting usage reporting worker")
			go func() {
				ticker := time.NewTicker(reportInterval)
				defer ticker.Stop()

				report(ctx, stats, db, logger)

				for {
					select {
					case <-ticker.C:
						report(ctx, stats, db, logger)
					case <-ctx.Done():
						logger.Info("stopping usage reporting worker")
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func report(ctx context.Context, stats *Stats, db *gorm.DB, logger *zap.Logger) {
	updateSystemStats(stats)
	updateInstallCounts(ctx, stats, db)
	if err := stats.Push(ctx); err != nil {
		logger.Warn("usage report push failed", zap.Error(err))
	}
}

func updateSystemStats(stats *Stats) {
	if stats == nil {
		return
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	stats.SetMemoryUsage(m.Sys)
}

func updateInstallCounts(ctx context.Context, stats *Stats, db *gorm.DB) {
	if stats == nil || db == nil {
		return
	}

	var count int64
	if err := db.WithContext(ctx).Table("organizations").Count(&count).Error; err == nil {
		stats.SetOrganizationsTotal(count)
	}
	if err := db.WithContext(ctx).Table("projects").Count(&count).Error; err == nil {
		stats.SetProjectsTotal(count)
	}
	if err := db.WithContext(ctx).Table("tasks").Where("archived = ?", false).Count(&count).Error; err == nil {
		stats.SetTasksTotal(count)
	}
}
