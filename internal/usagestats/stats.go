// Package usagestats reports anonymous deployment counts from self-hosted
// installs to the hosted control plane. Everything here is opt-in, keyed by
// the install's own cloud credentials, and carries no task content.
package usagestats

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Stats aggregates usage counters on a private registry so the numbers never
// mix into the operational /metrics endpoint. All methods are safe on a nil
// receiver; services hold the handle as an optional dependency.
type Stats struct {
	registry *prometheus.Registry
	pusher   Pusher
	log      *zap.Logger

	tasksCreated *prometheus.CounterVec
	taskMoves    *prometheus.CounterVec
	rebalances   *prometheus.CounterVec

	organizations prometheus.Gauge
	projects      prometheus.Gauge
	tasks         prometheus.Gauge
	memoryBytes   prometheus.Gauge
}

func New(registry *prometheus.Registry, pusher Pusher, installID, version string, log *zap.Logger) *Stats {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if log == nil {
		log = zap.NewNop()
	}

	constLabels := prometheus.Labels{
		"install_id": normalizeLabel(installID),
		"version":    normalizeLabel(version),
	}

	s := &Stats{
		registry: registry,
		pusher:   pusher,
		log:      log.Named("usagestats"),
		tasksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tracklane_usage_tasks_created_total",
			Help:        "Tasks created since process start.",
			ConstLabels: constLabels,
		}, []string{"org"}),
		taskMoves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tracklane_usage_task_moves_total",
			Help:        "Task moves since process start.",
			ConstLabels: constLabels,
		}, []string{"org"}),
		rebalances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tracklane_usage_rebalances_total",
			Help:        "Order key rebalances since process start.",
			ConstLabels: constLabels,
		}, []string{"org", "scope"}),
		organizations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "tracklane_usage_organizations",
			Help:        "Organizations in this install.",
			ConstLabels: constLabels,
		}),
		projects: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "tracklane_usage_projects",
			Help:        "Projects in this install.",
			ConstLabels: constLabels,
		}),
		tasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "tracklane_usage_tasks",
			Help:        "Live tasks in this install.",
			ConstLabels: constLabels,
		}),
		memoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "tracklane_usage_memory_bytes",
			Help:        "Process memory obtained from the OS.",
			ConstLabels: constLabels,
		}),
	}

	registry.MustRegister(
		s.tasksCreated,
		s.taskMoves,
		s.rebalances,
		s.organizations,
		s.projects,
		s.tasks,
		s.memoryBytes,
	)

	return s
}

func (s *Stats) IncTaskCreated(orgID string) {
	if s == nil {
		return
	}
	s.tasksCreated.WithLabelValues(normalizeLabel(orgID)).Inc()
}

func (s *Stats) IncTaskMove(orgID string) {
	if s == nil {
		return
	}
	s.taskMoves.WithLabelValues(normalizeLabel(orgID)).Inc()
}

func (s *Stats) IncRebalance(orgID, scope string) {
	if s == nil {
		return
	}
	s.rebalances.WithLabelValues(normalizeLabel(orgID), normalizeLabel(scope)).Inc()
}

func (s *Stats) SetOrganizationsTotal(count int64) {
	if s == nil {
		return
	}
	s.organizations.Set(float64(count))
}

func (s *Stats) SetProjectsTotal(count int64) {
	if s == nil {
		return
	}
	s.projects.Set(float64(count))
}

func (s *Stats) SetTasksTotal(count int64) {
	if s == nil {
		return
	}
	s.tasks.Set(float64(count))
}

func (s *Stats) SetMemoryUsage(bytes uint64) {
	if s == nil {
		return
	}
	s.memoryBytes.Set(float64(bytes))
}

// Push gathers the private registry and hands it to the configured pusher.
func (s *Stats) Push(ctx context.Context) error {
	if s == nil || s.pusher == nil {
		return nil
	}
	return s.pusher.Push(ctx, s.registry)
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
